package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

type fakeAdapter struct {
	sendErrs  []error
	sendCalls int
	valid     bool
}

func (f *fakeAdapter) Send(ctx context.Context, contact, body, subject string) (notify.SendOutcome, error) {
	f.sendCalls++
	if f.sendCalls <= len(f.sendErrs) && f.sendErrs[f.sendCalls-1] != nil {
		return notify.SendOutcome{}, f.sendErrs[f.sendCalls-1]
	}
	return notify.SendOutcome{ProviderMessageID: "msg-1"}, nil
}

func (f *fakeAdapter) ValidateContact(contact string) bool { return f.valid }

func TestRegistry_Routing(t *testing.T) {
	r := NewRegistry()
	email := &fakeAdapter{valid: true}
	r.Register(notify.ChannelEmail, email)

	got, err := r.Adapter(notify.ChannelEmail)
	if err != nil {
		t.Fatalf("Adapter(email) error: %v", err)
	}
	if got != notify.ChannelAdapter(email) {
		t.Error("Adapter(email) returned the wrong adapter")
	}

	if _, err := r.Adapter(notify.ChannelSMS); err == nil {
		t.Error("Adapter(sms) should fail when unregistered")
	}
}

func TestRetrying_TransientThenSuccess(t *testing.T) {
	transient := notify.Errorf(notify.CodeProviderTransient, "connection reset")
	inner := &fakeAdapter{sendErrs: []error{transient, transient}}

	r := WithRetry(inner, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, zap.NewNop())
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	outcome, err := r.Send(context.Background(), "a@b.com", "hi", "")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if outcome.ProviderMessageID != "msg-1" {
		t.Errorf("ProviderMessageID = %q", outcome.ProviderMessageID)
	}
	if inner.sendCalls != 3 {
		t.Errorf("sendCalls = %d, want 3", inner.sendCalls)
	}
	// Backoff doubles from the base delay.
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("delays = %v, want [1ms 2ms]", delays)
	}
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	transient := notify.Errorf(notify.CodeProviderTransient, "timeout")
	inner := &fakeAdapter{sendErrs: []error{transient, transient, transient}}

	r := WithRetry(inner, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, zap.NewNop())
	r.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := r.Send(context.Background(), "a@b.com", "hi", "")
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if inner.sendCalls != 3 {
		t.Errorf("sendCalls = %d, want 3", inner.sendCalls)
	}
	if notify.CodeOf(err) != notify.CodeProviderTransient {
		t.Errorf("error code = %s, want provider_transient", notify.CodeOf(err))
	}
}

func TestRetrying_PermanentErrorPassesThrough(t *testing.T) {
	permanent := notify.Errorf(notify.CodeProviderPermanent, "address suppressed")
	inner := &fakeAdapter{sendErrs: []error{permanent}}

	r := WithRetry(inner, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, zap.NewNop())
	r.sleep = func(context.Context, time.Duration) error {
		t.Fatal("permanent errors must not back off")
		return nil
	}

	_, err := r.Send(context.Background(), "a@b.com", "hi", "")
	if notify.CodeOf(err) != notify.CodeProviderPermanent {
		t.Fatalf("error = %v, want provider_permanent", err)
	}
	if inner.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", inner.sendCalls)
	}
}

func TestRetrying_ContextCancelledDuringBackoff(t *testing.T) {
	transient := notify.Errorf(notify.CodeProviderTransient, "timeout")
	inner := &fakeAdapter{sendErrs: []error{transient, transient, transient}}

	r := WithRetry(inner, RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, zap.NewNop())
	r.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	_, err := r.Send(context.Background(), "a@b.com", "hi", "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if inner.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1 before cancellation", inner.sendCalls)
	}
}

func TestChat_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"messages":[{"id":"wamid.123"}]}`))
	}))
	defer server.Close()

	chat := NewChat(ChatConfig{BaseURL: server.URL, Token: "tok-1"}, zap.NewNop())

	outcome, err := chat.Send(context.Background(), "+1 555 010 0100", "hello", "")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if outcome.ProviderMessageID != "wamid.123" {
		t.Errorf("ProviderMessageID = %q, want wamid.123", outcome.ProviderMessageID)
	}
}

func TestChat_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode notify.Code
	}{
		{"server_error_transient", http.StatusInternalServerError, notify.CodeProviderTransient},
		{"throttle_transient", http.StatusTooManyRequests, notify.CodeProviderTransient},
		{"bad_request_permanent", http.StatusBadRequest, notify.CodeProviderPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			chat := NewChat(ChatConfig{BaseURL: server.URL, Token: "tok-1"}, zap.NewNop())
			_, err := chat.Send(context.Background(), "15550100100", "hello", "")
			if notify.CodeOf(err) != tt.wantCode {
				t.Errorf("error code = %s, want %s (err: %v)", notify.CodeOf(err), tt.wantCode, err)
			}
		})
	}
}

func TestValidateContact(t *testing.T) {
	ses := &SES{}
	chat := NewChat(ChatConfig{}, zap.NewNop())
	sns := &SNS{}

	tests := []struct {
		name    string
		adapter notify.ChannelAdapter
		contact string
		want    bool
	}{
		{"email_ok", ses, "a@b.com", true},
		{"email_no_at", ses, "a.b.com", false},
		{"email_no_domain_dot", ses, "a@bcom", false},
		{"email_whitespace", ses, "a @b.com", false},
		{"phone_ok", sns, "+1 (555) 010-0100", true},
		{"phone_too_short", sns, "12345", false},
		{"phone_too_long", sns, "12345678901234567890", false},
		{"chat_handle_ok", chat, "15550100100", true},
		{"chat_handle_short", chat, "123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.adapter.ValidateContact(tt.contact); got != tt.want {
				t.Errorf("ValidateContact(%q) = %v, want %v", tt.contact, got, tt.want)
			}
		})
	}
}
