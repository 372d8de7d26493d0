// Package template holds notification templates and the placeholder
// renderer. Placeholders use {{name}} syntax in both subject and body.
package template

import (
	"time"

	"github.com/heraldhq/herald/internal/notify"
)

// Variable declares one placeholder a template expects. Required variables
// without a default must be supplied by the caller; optional ones fall back
// to their default when present.
type Variable struct {
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Required     bool    `json:"required"`
	DefaultValue *string `json:"default_value,omitempty"`
}

// Template is a stored message body, optionally with a subject for channels
// that carry one. Rendering always reads the current version; there is no
// versioning guarantee across edits.
type Template struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Channel   notify.Channel `json:"channel"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Variables []Variable     `json:"variables"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Supports reports whether the template can be dispatched over ch.
func (t *Template) Supports(ch notify.Channel) bool {
	return t.Channel == ch
}

// Source resolves templates by id for the orchestrator.
type Source interface {
	Template(id string) (*Template, bool)
}
