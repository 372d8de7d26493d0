package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

// ProtectedAdapter wraps a channel adapter with a circuit breaker.
// When the provider behind the adapter is failing, sends fail fast
// with a transient error instead of hammering a dead provider; the
// durable retry layer reschedules the job for a later tick.
type ProtectedAdapter struct {
	inner   notify.ChannelAdapter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedAdapter wraps adapter with cb.
func NewProtectedAdapter(adapter notify.ChannelAdapter, cb *CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{
		inner:   adapter,
		breaker: cb,
		logger:  logger,
	}
}

// Send delegates to the wrapped adapter when the circuit allows it.
// Validation failures do not trip the breaker; only provider errors do.
func (p *ProtectedAdapter) Send(ctx context.Context, contact, body, subject string) (notify.SendOutcome, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("send rejected by circuit breaker",
			zap.String("breaker", p.breaker.config.Name),
		)
		return notify.SendOutcome{}, notify.NewError(notify.CodeProviderTransient, "provider circuit open", ErrCircuitOpen)
	}

	outcome, err := p.inner.Send(ctx, contact, body, subject)
	if err != nil {
		if code := notify.CodeOf(err); code == notify.CodeInvalidContact || code == notify.CodeValidation {
			return outcome, err
		}
		p.breaker.RecordFailure()
		return outcome, err
	}

	p.breaker.RecordSuccess()
	return outcome, nil
}

// ValidateContact delegates to the wrapped adapter.
func (p *ProtectedAdapter) ValidateContact(contact string) bool {
	return p.inner.ValidateContact(contact)
}

// Breaker exposes the underlying circuit breaker for stats endpoints.
func (p *ProtectedAdapter) Breaker() *CircuitBreaker {
	return p.breaker
}
