// Package api normalizes backend responses into the success envelope Response[T]
// and the failure envelope *Error. Nothing above this package sees raw transport errors.
package api

import (
	"fmt"
	"strings"
)

// Response is the success envelope every backend endpoint returns on 2xx.
type Response[T any] struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Data      T      `json:"data"`
	Timestamp string `json:"timestamp"`
}

// IsSuccess reports whether Status is in [200,300).
func (r *Response[T]) IsSuccess() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// GetData returns the payload only for successful responses.
func (r *Response[T]) GetData() (T, bool) {
	var zero T
	if !r.IsSuccess() {
		return zero, false
	}
	return r.Data, true
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the failure envelope. It implements error so client calls can
// return (*Response[T], error) with the error always being an *Error.
type Error struct {
	Status    int          `json:"status"`
	Label     string       `json:"error"`
	Message   string       `json:"message"`
	Details   []FieldError `json:"details"`
	Path      string       `json:"path"`
	Timestamp string       `json:"timestamp"`

	cause error
}

// Error returns FullMessage.
func (e *Error) Error() string { return e.FullMessage() }

// Unwrap exposes the transport error the envelope was built from, if any.
func (e *Error) Unwrap() error { return e.cause }

// FullMessage appends "(field: message, ...)" when details are present.
func (e *Error) FullMessage() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Field, d.Message))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, ", "))
}

// IsNetwork reports whether the request never reached the server.
func (e *Error) IsNetwork() bool { return e.Status == StatusNetwork }
