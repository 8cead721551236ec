package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StatusNetwork is the status of errors where no response was received.
const StatusNetwork = 0

const (
	labelNetwork = "Network Error"
	labelUnknown = "Unknown Error"

	msgNetwork = "Cannot reach the server. Check your connection and try again."

	maxBody = 1 << 20
)

// Mapper converts transport outcomes into envelopes and logs every failure.
type Mapper struct {
	log *zap.Logger
	now func() time.Time
}

// NewMapper constructs a mapper; a nil logger discards diagnostics.
func NewMapper(log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{log: log, now: time.Now}
}

// Decode reads resp into a success envelope. Non-2xx responses and bodies that
// are not the envelope shape come back as *Error. The body is always closed.
func Decode[T any](m *Mapper, resp *http.Response) (*Response[T], error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, m.FromFailure(resp.Request, resp, nil)
	}
	defer resp.Body.Close()

	var out Response[T]
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, m.unknown(resp.Request, fmt.Errorf("decode response: %w", err))
	}
	if out.Status == 0 {
		out.Status = resp.StatusCode
	}
	return &out, nil
}

// FromFailure maps a failed call: a response body wins, then network-level
// failures (status 0), then a generic unknown error (status 500).
func (m *Mapper) FromFailure(req *http.Request, resp *http.Response, err error) *Error {
	if resp != nil {
		if req == nil {
			req = resp.Request
		}
		return m.fromResponse(req, resp)
	}
	if err == nil {
		err = errors.New("request failed without a response")
	}
	if isNetworkError(err) {
		e := &Error{
			Status:    StatusNetwork,
			Label:     labelNetwork,
			Message:   msgNetwork,
			Details:   []FieldError{},
			Path:      pathOf(req),
			Timestamp: m.stamp(),
			cause:     err,
		}
		m.logFailure(req, e, nil, err)
		return e
	}
	return m.unknown(req, err)
}

type errorBody struct {
	Status    int             `json:"status"`
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Details   []FieldError    `json:"details"`
	Path      string          `json:"path"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (m *Mapper) fromResponse(req *http.Request, resp *http.Response) *Error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	e := &Error{
		Status:    resp.StatusCode,
		Label:     http.StatusText(resp.StatusCode),
		Details:   []FieldError{},
		Path:      pathOf(req),
		Timestamp: m.stamp(),
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && (eb.Status != 0 || eb.Error != "" || eb.Message != "" || eb.Details != nil) {
		if eb.Status != 0 {
			e.Status = eb.Status
		}
		if eb.Error != "" {
			e.Label = eb.Error
		}
		e.Message = eb.Message
		if eb.Details != nil {
			e.Details = eb.Details
		}
		if eb.Path != "" {
			e.Path = eb.Path
		}
		if ts := rawString(eb.Timestamp); ts != "" {
			e.Timestamp = ts
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		e.Message = text
	}
	if e.Message == "" {
		e.Message = e.Label
	}

	m.logFailure(req, e, body, nil)
	return e
}

func (m *Mapper) unknown(req *http.Request, err error) *Error {
	e := &Error{
		Status:    http.StatusInternalServerError,
		Label:     labelUnknown,
		Message:   err.Error(),
		Details:   []FieldError{},
		Path:      pathOf(req),
		Timestamp: m.stamp(),
		cause:     err,
	}
	m.logFailure(req, e, nil, err)
	return e
}

func (m *Mapper) logFailure(req *http.Request, e *Error, body []byte, cause error) {
	fields := []zap.Field{
		zap.String("message", e.Message),
		zap.Int("status", e.Status),
		zap.ByteString("body", body),
	}
	if req != nil {
		fields = append(fields, zap.String("method", req.Method), zap.String("url", redactURL(req.URL)))
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	m.log.Warn("api call failed", fields...)
}

func (m *Mapper) stamp() string { return m.now().UTC().Format(time.RFC3339) }

// isNetworkError reports failures where no response was received.
func isNetworkError(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		err = ue.Err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var op *net.OpError
	if errors.As(err, &op) {
		return true
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func pathOf(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.Path
}

// redactURL drops the query string, which may carry credentials.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
