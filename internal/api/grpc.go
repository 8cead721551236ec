package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcToHTTP = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.Aborted:            http.StatusConflict,
	codes.FailedPrecondition: http.StatusUnprocessableEntity,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
}

// FromGRPC maps a gRPC status error into the failure envelope. BadRequest
// field violations attached to the status become details.
func (m *Mapper) FromGRPC(method string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	st, ok := status.FromError(err)
	if !ok {
		return m.unknown(nil, err)
	}

	code, ok := grpcToHTTP[st.Code()]
	if !ok {
		code = http.StatusInternalServerError
	}
	e = &Error{
		Status:    code,
		Label:     st.Code().String(),
		Message:   st.Message(),
		Details:   []FieldError{},
		Path:      method,
		Timestamp: m.stamp(),
		cause:     err,
	}
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok {
			for _, v := range br.GetFieldViolations() {
				e.Details = append(e.Details, FieldError{Field: v.GetField(), Message: v.GetDescription()})
			}
		}
	}

	m.log.Warn("rpc failed",
		zap.String("message", e.Message),
		zap.Int("status", e.Status),
		zap.String("code", st.Code().String()),
		zap.String("method", method),
	)
	return e
}
