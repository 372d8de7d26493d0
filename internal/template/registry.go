package template

import (
	"sync"
	"time"

	"github.com/heraldhq/herald/internal/notify"
)

// Registry is an in-memory template store implementing Source. It is safe
// for concurrent use; the dispatch path only reads while the CRUD surface
// may edit concurrently.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry returns a registry seeded with the built-in starter templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range builtIn() {
		r.templates[t.ID] = t
	}
	return r
}

// Template returns the template with the given id.
func (r *Registry) Template(id string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// All returns every stored template.
func (r *Registry) All() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out
}

// ByChannel returns templates dispatchable over ch.
func (r *Registry) ByChannel(ch notify.Channel) []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Template
	for _, t := range r.templates {
		if t.Channel == ch {
			out = append(out, t)
		}
	}
	return out
}

// Add stores or replaces a template.
func (r *Registry) Add(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.templates[t.ID] = t
}

// Update applies fn to the template with the given id and bumps UpdatedAt.
// It returns false when the id is unknown.
func (r *Registry) Update(id string, fn func(*Template)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return false
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return true
}

// Delete removes a template, reporting whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.templates[id]
	delete(r.templates, id)
	return ok
}

func strPtr(s string) *string { return &s }

// builtIn returns the starter templates shipped with the service, covering
// each channel so a fresh install can dispatch without any CRUD first.
func builtIn() []*Template {
	now := time.Now().UTC()
	required := func(name, desc string) Variable {
		return Variable{Name: name, Description: desc, Required: true}
	}
	return []*Template{
		{
			ID:      "order-confirm-email",
			Name:    "Order Confirmation Email",
			Channel: notify.ChannelEmail,
			Subject: "Order Confirmation - {{orderId}}",
			Body: "Hi {{customerName}},\n\n" +
				"Thank you for your order! We've received it and it's being processed.\n\n" +
				"Order ID: {{orderId}}\nOrder date: {{orderDate}}\nTotal: {{totalAmount}}\n\n" +
				"Track your order: {{trackingUrl}}\n",
			Variables: []Variable{
				required("customerName", "Customer full name"),
				required("orderId", "Order ID"),
				required("orderDate", "Order date"),
				required("totalAmount", "Total order amount"),
				required("trackingUrl", "Order tracking URL"),
			},
			Active: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID:      "order-confirm-sms",
			Name:    "Order Confirmation SMS",
			Channel: notify.ChannelSMS,
			Body:    "Hi {{customerName}}! Your order {{orderId}} is confirmed. Total: {{totalAmount}}. Track it: {{trackingUrl}}",
			Variables: []Variable{
				required("customerName", "Customer full name"),
				required("orderId", "Order ID"),
				required("totalAmount", "Total order amount"),
				required("trackingUrl", "Order tracking URL"),
			},
			Active: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID:      "delivery-update-chat",
			Name:    "Delivery Update Chat",
			Channel: notify.ChannelChat,
			Body: "Delivery update\n\nHi {{customerName}}!\n\n" +
				"Your order {{orderId}} is: {{deliveryStatus}}\n{{deliveryMessage}}\n" +
				"Estimated delivery: {{estimatedDelivery}}\nTrack: {{trackingUrl}}",
			Variables: []Variable{
				required("customerName", "Customer full name"),
				required("orderId", "Order ID"),
				required("deliveryStatus", "Current delivery status"),
				{Name: "deliveryMessage", Description: "Additional delivery message", Required: false, DefaultValue: strPtr("")},
				required("estimatedDelivery", "Estimated delivery date"),
				required("trackingUrl", "Tracking URL"),
			},
			Active: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID:      "promo-email",
			Name:    "Promo Email",
			Channel: notify.ChannelEmail,
			Subject: "{{promoTitle}} - Special Offer Inside!",
			Body: "Hi {{customerName}},\n\n{{promoDescription}}\n\n" +
				"Use code {{discountCode}} to save {{discountAmount}}.\n" +
				"Shop now: {{shopUrl}}\nOffer expires: {{expiryDate}}\n",
			Variables: []Variable{
				required("customerName", "Customer full name"),
				required("promoTitle", "Promotion title"),
				required("promoDescription", "Promotion description"),
				required("discountCode", "Discount code"),
				required("discountAmount", "Discount amount or percentage"),
				required("shopUrl", "Shop URL"),
				required("expiryDate", "Offer expiry date"),
			},
			Active: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID:      "password-reset-email",
			Name:    "Password Reset Email",
			Channel: notify.ChannelEmail,
			Subject: "Reset Your Password",
			Body: "Hi {{customerName}},\n\n" +
				"We received a request to reset your password. Use the link below:\n" +
				"{{resetUrl}}\n\nThis link expires in {{expiryMinutes}} minutes.\n" +
				"If you didn't request this, you can ignore this email.\n",
			Variables: []Variable{
				required("customerName", "Customer full name"),
				required("resetUrl", "Password reset URL"),
				required("expiryMinutes", "Link expiry time in minutes"),
			},
			Active: true, CreatedAt: now, UpdatedAt: now,
		},
	}
}
