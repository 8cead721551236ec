package api

import (
	"errors"
	"net/http"
)

const msgGeneric = "Something went wrong. Please try again."

// UserMessage returns non-technical copy for an error status. It is total:
// unlisted statuses fall back to the error's own message, then a generic line.
func UserMessage(e *Error) string {
	if e == nil {
		return msgGeneric
	}
	switch e.Status {
	case http.StatusBadRequest:
		return "Please check your input and try again."
	case http.StatusUnauthorized:
		return "Your credentials are invalid or your session has expired."
	case http.StatusForbidden:
		return "You do not have permission to perform this action."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusConflict:
		return "This conflicts with existing data."
	case http.StatusUnprocessableEntity:
		return "The submitted data is invalid."
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "The system is unavailable right now. Please try again later."
	default:
		if e.Message != "" {
			return e.Message
		}
		return msgGeneric
	}
}

// Message is UserMessage for any error value.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return UserMessage(e)
	}
	if err == nil {
		return ""
	}
	return msgGeneric
}

// FieldErrors groups validation details by field. It never returns nil.
func FieldErrors(err error) map[string][]string {
	out := map[string][]string{}
	var e *Error
	if !errors.As(err, &e) {
		return out
	}
	for _, d := range e.Details {
		out[d.Field] = append(out[d.Field], d.Message)
	}
	return out
}
