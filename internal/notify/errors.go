package notify

import (
	"errors"
	"fmt"
)

// Code classifies dispatch and request errors. Codes decide retry
// behavior: provider errors consume a durable retry slot, everything else
// fails the job (or the per-channel request entry) permanently.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeOptInDenied       Code = "opt_in_denied"
	CodeMissingContact    Code = "missing_contact"
	CodeRender            Code = "render"
	CodeInvalidContact    Code = "invalid_contact"
	CodeProviderTransient Code = "provider_transient"
	CodeProviderPermanent Code = "provider_permanent"
	CodeNotFound          Code = "not_found"
)

// Error is a classified dispatch error.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error should consume a durable retry slot
// rather than failing the job outright. Permanent provider errors are
// handled identically to transient ones on the durable layer; only the
// in-adapter immediate retry distinguishes them.
func (e *Error) Retryable() bool {
	return e.Code == CodeProviderTransient || e.Code == CodeProviderPermanent
}

// NewError builds a classified error wrapping an optional cause.
func NewError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the classification of err, or empty when err is not a
// notify error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err should consume a durable retry slot.
// Unclassified errors are treated as transient so unknown provider failures
// still get the bounded retry budget rather than an immediate terminal fail.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return true
}

// IsTransient reports whether err is worth an immediate in-adapter retry.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeProviderTransient
	}
	return true
}
