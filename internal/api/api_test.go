package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func response(t *testing.T, code int, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://api.local/api/users?_t=1", nil)
	rec := httptest.NewRecorder()
	rec.WriteHeader(code)
	_, _ = rec.WriteString(body)
	resp := rec.Result()
	resp.Request = req
	return resp
}

func TestResponse_IsSuccessAndGetData(t *testing.T) {
	t.Parallel()

	ok := &Response[string]{Status: 200, Data: "x"}
	require.True(t, ok.IsSuccess())
	d, has := ok.GetData()
	require.True(t, has)
	require.Equal(t, "x", d)

	for _, s := range []int{0, 199, 300, 404, 500} {
		r := &Response[string]{Status: s, Data: "x"}
		require.False(t, r.IsSuccess(), "status %d", s)
		d, has := r.GetData()
		require.False(t, has)
		require.Empty(t, d)
	}

	var nilResp *Response[int]
	require.False(t, nilResp.IsSuccess())
}

func TestDecode_Success(t *testing.T) {
	t.Parallel()
	m := NewMapper(zaptest.NewLogger(t))

	type product struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	resp := response(t, 200, `{"status":200,"message":"ok","data":{"id":7,"name":"Aspirin"},"timestamp":"2024-05-01T10:00:00"}`)
	out, err := Decode[product](m, resp)
	require.NoError(t, err)
	require.Equal(t, "ok", out.Message)
	require.Equal(t, "2024-05-01T10:00:00", out.Timestamp)
	p, ok := out.GetData()
	require.True(t, ok)
	require.Equal(t, product{ID: 7, Name: "Aspirin"}, p)
}

func TestDecode_NotEnvelopeIsUnknown(t *testing.T) {
	t.Parallel()
	m := NewMapper(zaptest.NewLogger(t))

	_, err := Decode[map[string]any](m, response(t, 200, `<html>`))
	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, http.StatusInternalServerError, e.Status)
	require.NotNil(t, e.Details)
}

func TestDecode_Non2xxIsFailure(t *testing.T) {
	t.Parallel()
	m := NewMapper(zaptest.NewLogger(t))

	_, err := Decode[any](m, response(t, 404, `{"status":404,"error":"Not Found","message":"no such product"}`))
	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, 404, e.Status)
	require.Equal(t, "no such product", e.Message)
}

func TestFromFailure_StructuredBody(t *testing.T) {
	t.Parallel()
	m := NewMapper(zaptest.NewLogger(t))

	resp := response(t, 422, `{"status":422,"error":"Validation","message":"Bad input","details":[{"field":"email","message":"invalid"}],"path":"/api/users","timestamp":"2024-05-01T10:00:00"}`)
	e := m.FromFailure(nil, resp, nil)
	require.Equal(t, 422, e.Status)
	require.Equal(t, "Validation", e.Label)
	require.Len(t, e.Details, 1)
	require.Equal(t, "Bad input (email: invalid)", e.FullMessage())
	require.Equal(t, "Bad input (email: invalid)", e.Error())
	require.Equal(t, "/api/users", e.Path)
	require.Equal(t, "2024-05-01T10:00:00", e.Timestamp)
}

func TestFromFailure_MultipleDetailsJoined(t *testing.T) {
	t.Parallel()
	e := &Error{Message: "Bad input", Details: []FieldError{{"email", "invalid"}, {"name", "required"}}}
	require.Equal(t, "Bad input (email: invalid, name: required)", e.FullMessage())

	e.Details = []FieldError{}
	require.Equal(t, "Bad input", e.FullMessage())
}

func TestFromFailure_StructuredWithoutDetailsHasEmptyList(t *testing.T) {
	t.Parallel()
	m := NewMapper(nil)

	e := m.FromFailure(nil, response(t, 409, `{"message":"duplicate sku"}`), nil)
	require.Equal(t, 409, e.Status)
	require.Equal(t, "Conflict", e.Label)
	require.NotNil(t, e.Details)
	require.Empty(t, e.Details)
	require.Equal(t, "/api/users", e.Path)
	require.NotEmpty(t, e.Timestamp)
}

func TestFromFailure_UnstructuredBodyKeepsStatus(t *testing.T) {
	t.Parallel()
	m := NewMapper(nil)

	e := m.FromFailure(nil, response(t, 502, "upstream down"), nil)
	require.Equal(t, 502, e.Status)
	require.Equal(t, "upstream down", e.Message)

	e = m.FromFailure(nil, response(t, 503, ""), nil)
	require.Equal(t, "Service Unavailable", e.Message)
}

func TestFromFailure_Network(t *testing.T) {
	t.Parallel()
	m := NewMapper(nil)
	req := httptest.NewRequest(http.MethodGet, "http://api.local/api/orders", nil)

	dialErr := &url.Error{Op: "Get", URL: "http://api.local", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	e := m.FromFailure(req, nil, dialErr)
	require.Equal(t, StatusNetwork, e.Status)
	require.True(t, e.IsNetwork())
	require.NotEmpty(t, e.Message)
	require.Empty(t, e.Details)
	require.ErrorIs(t, e, dialErr.Err)

	e = m.FromFailure(req, nil, &url.Error{Op: "Get", URL: "x", Err: context.DeadlineExceeded})
	require.Equal(t, StatusNetwork, e.Status)

	e = m.FromFailure(req, nil, io.ErrUnexpectedEOF)
	require.Equal(t, StatusNetwork, e.Status)
}

func TestFromFailure_Unknown(t *testing.T) {
	t.Parallel()
	m := NewMapper(nil)

	e := m.FromFailure(nil, nil, errors.New("boom"))
	require.Equal(t, 500, e.Status)
	require.Equal(t, "boom", e.Message)
	require.NotNil(t, e.Details)

	e = m.FromFailure(nil, nil, nil)
	require.Equal(t, 500, e.Status)
	require.NotEmpty(t, e.Message)
}

func TestFromFailure_LogsDiagnostics(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.WarnLevel)
	m := NewMapper(zap.New(core))

	_ = m.FromFailure(nil, response(t, 400, `{"status":400,"message":"nope"}`), nil)
	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	require.Equal(t, "nope", ctx["message"])
	require.EqualValues(t, 400, ctx["status"])
	require.Equal(t, http.MethodPost, ctx["method"])
	require.Equal(t, "http://api.local/api/users", ctx["url"])
	require.True(t, strings.Contains(ctx["body"].(string), "nope"))
}

func TestUserMessage_Total(t *testing.T) {
	t.Parallel()

	seen := map[int]string{}
	for _, s := range []int{400, 401, 403, 404, 409, 422, 500, 502, 503, 504, 418, 0} {
		msg := UserMessage(&Error{Status: s})
		require.NotEmpty(t, msg, "status %d", s)
		seen[s] = msg
	}
	require.Equal(t, seen[500], seen[504])
	require.NotEqual(t, seen[400], seen[401])
	require.Equal(t, "teapot", UserMessage(&Error{Status: 418, Message: "teapot"}))
	require.NotEmpty(t, UserMessage(nil))

	require.Equal(t, seen[403], Message(&Error{Status: 403}))
	require.NotEmpty(t, Message(errors.New("plain")))
	require.Empty(t, Message(nil))
}

func TestFieldErrors(t *testing.T) {
	t.Parallel()

	e := &Error{Details: []FieldError{{"email", "invalid"}, {"email", "taken"}, {"name", "required"}}}
	got := FieldErrors(e)
	require.Equal(t, map[string][]string{"email": {"invalid", "taken"}, "name": {"required"}}, got)

	require.NotNil(t, FieldErrors(nil))
	require.Empty(t, FieldErrors(errors.New("other")))
	require.Empty(t, FieldErrors(&Error{}))
}

func TestFromGRPC(t *testing.T) {
	t.Parallel()
	m := NewMapper(zaptest.NewLogger(t))

	require.Nil(t, m.FromGRPC("/x", nil))

	st, err := status.New(codes.InvalidArgument, "Bad input").WithDetails(&errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: "email", Description: "invalid"}},
	})
	require.NoError(t, err)
	e := m.FromGRPC("/pharm.v1.Users/Create", st.Err())
	require.Equal(t, 400, e.Status)
	require.Equal(t, "Bad input (email: invalid)", e.FullMessage())
	require.Equal(t, "/pharm.v1.Users/Create", e.Path)

	e = m.FromGRPC("/m", status.Error(codes.Unauthenticated, "expired"))
	require.Equal(t, 401, e.Status)
	require.Empty(t, e.Details)

	e = m.FromGRPC("/m", status.Error(codes.ResourceExhausted, "slow down"))
	require.Equal(t, 500, e.Status)

	e = m.FromGRPC("/m", errors.New("not a status"))
	require.Equal(t, 500, e.Status)

	orig := &Error{Status: 404}
	require.Same(t, orig, m.FromGRPC("/m", orig))
}
