package devapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	refreshCookie = "refresh_token"
	maxUpload     = 10 << 20
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type envelope struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorBody struct {
	Status    int          `json:"status"`
	Error     string       `json:"error"`
	Message   string       `json:"message"`
	Details   []fieldError `json:"details,omitempty"`
	Path      string       `json:"path"`
	Timestamp string       `json:"timestamp"`
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{Status: status, Message: msg, Data: data, Timestamp: stamp()})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, details ...fieldError) {
	writeJSON(w, status, errorBody{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
		Details:   details,
		Path:      r.URL.Path,
		Timestamp: stamp(),
	})
}

// ManagementRoles may read and change the catalog.
var ManagementRoles = []string{"ADMIN", "STAFF"}

// Options tune the HTTP API.
type Options struct {
	// LegacyRefreshField answers refresh with "token" instead of "accessToken".
	LegacyRefreshField bool
	// SecureCookies marks the refresh cookie Secure.
	SecureCookies bool
}

// Server is the HTTP side of the dev backend.
type Server struct {
	auth    *Auth
	catalog *Catalog
	log     *zap.Logger
	opts    Options
}

// NewHTTP returns the routed handler.
func NewHTTP(a *Auth, c *Catalog, log *zap.Logger, opts Options) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{auth: a, catalog: c, log: log, opts: opts}

	r := mux.NewRouter()
	r.Use(s.recoverer, s.logging)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no such endpoint")
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh-token", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.Handle("/auth/me", s.requireAuth(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	staff := func(h http.HandlerFunc) http.Handler { return s.requireAuth(h, ManagementRoles...) }
	api.Handle("/products", staff(s.handleListProducts)).Methods(http.MethodGet)
	api.Handle("/products", staff(s.handleCreateProduct)).Methods(http.MethodPost)
	api.Handle("/uploads", staff(s.handleUpload)).Methods(http.MethodPost)
	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic", zap.Any("reason", rec), zap.ByteString("stack", debug.Stack()), zap.String("path", r.URL.Path))
				writeError(w, r, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAuth answers 401 without a valid token and 403 without one of roles.
func (s *Server) requireAuth(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearer(r.Header.Values("Authorization")...)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := s.auth.Verify(tok)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "token expired or invalid")
			return
		}
		if !hasAny(claims, roles) {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    value,
		Path:     "/api/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenOf prefers the body, then the cookie.
func refreshTokenOf(r *http.Request) string {
	var body tokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&body); err == nil && body.RefreshToken != "" {
		return body.RefreshToken
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	var details []fieldError
	if req.Username == "" {
		details = append(details, fieldError{Field: "username", Message: "is required"})
	}
	if req.Password == "" {
		details = append(details, fieldError{Field: "password", Message: "is required"})
	}
	if len(details) > 0 {
		writeError(w, r, http.StatusBadRequest, "validation failed", details...)
		return
	}

	pair, u, err := s.auth.Login(r.Context(), req.Username, req.Password, remoteIP(r))
	switch {
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "too many failed attempts, try again later")
		return
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		s.log.Error("login", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken, int(s.auth.refreshTTL.Seconds()))
	writeData(w, http.StatusOK, "login successful", map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"username":     u.Username,
		"authorities":  u.Authorities,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rt := refreshTokenOf(r)
	if rt == "" {
		writeError(w, r, http.StatusUnauthorized, "refresh token required")
		return
	}
	pair, err := s.auth.Refresh(rt)
	if err != nil {
		s.setRefreshCookie(w, "", -1)
		writeError(w, r, http.StatusUnauthorized, "refresh token expired or revoked")
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken, int(s.auth.refreshTTL.Seconds()))
	field := "accessToken"
	if s.opts.LegacyRefreshField {
		field = "token"
	}
	writeData(w, http.StatusOK, "token refreshed", map[string]string{
		field:          pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if rt := refreshTokenOf(r); rt != "" {
		s.auth.Revoke(rt)
	}
	s.setRefreshCookie(w, "", -1)
	writeData(w, http.StatusOK, "logged out", nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	writeData(w, http.StatusOK, "ok", map[string]any{
		"username":    c.Subject,
		"authorities": c.Roles(),
		"expiresAt":   c.ExpiresAtTime().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "ok", s.catalog.List())
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&p); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if details := s.catalog.validate(p); len(details) > 0 {
		writeError(w, r, http.StatusBadRequest, "validation failed", details...)
		return
	}
	created, ok := s.catalog.Add(p)
	if !ok {
		writeError(w, r, http.StatusConflict, "product already exists", fieldError{Field: "sku", Message: "already in use"})
		return
	}
	writeData(w, http.StatusCreated, "product created", created)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, r, http.StatusBadRequest, "expected multipart form")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation failed", fieldError{Field: "file", Message: "is required"})
		return
	}
	defer f.Close()
	n, _ := io.Copy(io.Discard, f)
	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	writeData(w, http.StatusCreated, "uploaded", map[string]any{
		"name":   hdr.Filename,
		"size":   n,
		"fields": fields,
	})
}
