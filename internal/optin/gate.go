// Package optin decides, per recipient and channel, whether dispatch is
// permitted and which contact address to use.
package optin

import "github.com/heraldhq/herald/internal/notify"

// Gate enforces per-channel consent. AssumeOptedIn controls what happens
// when a recipient has no opt-in record at all: the legacy behavior treated
// bare absence as consent, the current default requires an explicit flag.
// The switch exists only for backward compatibility during migration.
type Gate struct {
	AssumeOptedIn bool
}

// New returns a gate with the explicit-consent default policy.
func New() *Gate {
	return &Gate{}
}

// CanSend reports whether dispatch to the recipient over ch is permitted:
// the opt-in flag for the channel must be set and a non-empty contact must
// exist. A missing opt-in record counts as consent only under the
// AssumeOptedIn policy.
func (g *Gate) CanSend(r *notify.Recipient, ch notify.Channel) bool {
	if r == nil || !ch.Valid() {
		return false
	}
	if r.Contact(ch) == "" {
		return false
	}
	if r.OptIns == nil {
		return g.AssumeOptedIn
	}
	return r.OptIns.For(ch)
}

// ResolveContact returns the channel-specific contact when CanSend holds,
// and "" otherwise.
func (g *Gate) ResolveContact(r *notify.Recipient, ch notify.Channel) string {
	if !g.CanSend(r, ch) {
		return ""
	}
	return r.Contact(ch)
}

// Denial classifies why CanSend refused, for per-channel error reporting.
// It returns nil when dispatch is permitted.
func (g *Gate) Denial(r *notify.Recipient, ch notify.Channel) *notify.Error {
	if g.CanSend(r, ch) {
		return nil
	}
	if r != nil && r.Contact(ch) == "" {
		return notify.Errorf(notify.CodeMissingContact, "recipient has no %s contact", ch)
	}
	return notify.Errorf(notify.CodeOptInDenied, "recipient has not opted in for %s", ch)
}
