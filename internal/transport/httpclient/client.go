package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/and161185/pharm-admin/internal/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config wires a Client.
type Config struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	LogoutPath  string
	// Timeout bounds each request attempt; a refresh and the replay that
	// follows it each get their own budget.
	Timeout time.Duration
	// Coalesce shares one refresh between concurrent 401s.
	Coalesce       bool
	RefreshTimeout time.Duration
	// RPS > 0 enables the outbound throttle.
	RPS   float64
	Burst int
	// Base is the underlying transport; nil means http.DefaultTransport.
	Base http.RoundTripper
}

// Client issues backend calls through the interceptor pair.
type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	tokens Tokens
	mapper *api.Mapper
	ref    *Refresher
	log    *zap.Logger
}

// New builds the main client and its refresher. Both share one cookie jar.
// The refresh client bypasses Transport so its own 401 never recurses.
func New(cfg Config, tokens Tokens, logout Logout, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	mapper := api.NewMapper(log)

	refresher := NewRefresher(RefresherConfig{
		URL:      base.String() + cfg.RefreshPath,
		Client:   &http.Client{Transport: cfg.Base, Jar: jar},
		Tokens:   tokens,
		Mapper:   mapper,
		Coalesce: cfg.Coalesce,
		Timeout:  cfg.RefreshTimeout,
		Log:      log.Named("refresh"),
	})
	tr := &Transport{
		Base:        cfg.Base,
		Tokens:      tokens,
		Refresher:   refresher,
		Logout:      logout,
		SkipRefresh:    []string{cfg.LoginPath, cfg.RefreshPath, cfg.LogoutPath},
		AttemptTimeout: cfg.Timeout,
		Log:            log,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		tr.Limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		base:   base,
		cfg:    cfg,
		http:   &http.Client{Transport: tr, Jar: jar},
		tokens: tokens,
		mapper: mapper,
		ref:    refresher,
		log:    log,
	}, nil
}

// HTTP exposes the intercepted client.
func (c *Client) HTTP() *http.Client { return c.http }

// Refresher returns the refresher shared with other transports (gRPC).
func (c *Client) Refresher() *Refresher { return c.ref }

// Mapper returns the error mapper used for every call.
func (c *Client) Mapper() *api.Mapper { return c.mapper }

func (c *Client) resolve(path string, query url.Values) string {
	ref := *c.base
	ref.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return ref.String()
}

// Call sends body as JSON (nil means no body) and decodes the success envelope.
// A non-nil error is always an *api.Error.
func Call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (*api.Response[T], error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, c.mapper.FromFailure(nil, nil, fmt.Errorf("encode request: %w", err))
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), rd)
	if err != nil {
		return nil, c.mapper.FromFailure(nil, nil, err)
	}
	return do[T](c, req)
}

func do[T any](c *Client, req *http.Request) (*api.Response[T], error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.mapper.FromFailure(req, nil, err)
	}
	return api.Decode[T](c.mapper, resp)
}

// Upload posts a multipart form with one file part and extra fields.
func Upload[T any](ctx context.Context, c *Client, path, field, file string, fields map[string]string) (*api.Response[T], error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, c.mapper.FromFailure(nil, nil, fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, c.mapper.FromFailure(nil, nil, err)
		}
	}
	part, err := w.CreateFormFile(field, filepath.Base(file))
	if err != nil {
		return nil, c.mapper.FromFailure(nil, nil, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, c.mapper.FromFailure(nil, nil, fmt.Errorf("read upload: %w", err))
	}
	if err := w.Close(); err != nil {
		return nil, c.mapper.FromFailure(nil, nil, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path, nil), &buf)
	if err != nil {
		return nil, c.mapper.FromFailure(nil, nil, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return do[T](c, req)
}

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginData is the data field of a successful login.
type LoginData struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	Username     string   `json:"username,omitempty"`
	Authorities  []string `json:"authorities,omitempty"`
}

// Login authenticates and stores the issued tokens.
func (c *Client) Login(ctx context.Context, creds Credentials) (*api.Response[LoginData], error) {
	res, err := Call[LoginData](ctx, c, http.MethodPost, c.cfg.LoginPath, nil, creds)
	if err != nil {
		return nil, err
	}
	data, ok := res.GetData()
	if !ok || data.AccessToken == "" {
		return nil, c.mapper.FromFailure(nil, nil, errors.New("login response carries no access token"))
	}
	c.tokens.SetToken(ctx, data.AccessToken, data.RefreshToken)
	return res, nil
}

// Logout tells the server to revoke the session. Local state is not touched;
// clearing is the broadcaster's job.
func (c *Client) Logout(ctx context.Context) error {
	var body any
	if rt, ok := c.tokens.RefreshToken(ctx); ok {
		body = refreshRequest{RefreshToken: rt}
	}
	_, err := Call[json.RawMessage](ctx, c, http.MethodPost, c.cfg.LogoutPath, nil, body)
	return err
}
