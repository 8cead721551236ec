package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/and161185/pharm-admin/internal/api"
	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/model"
	u "github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 10 * time.Second

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// URL is the absolute refresh endpoint.
	URL string
	// Client must not route through Transport; share its Jar with the main client.
	Client *http.Client
	Tokens Tokens
	Mapper *api.Mapper
	// Coalesce lets concurrent callers share one in-flight refresh.
	Coalesce bool
	Timeout  time.Duration
	Log      *zap.Logger
}

// Refresher exchanges the session for a new access token and persists it.
type Refresher struct {
	cfg   RefresherConfig
	group singleflight.Group
}

// NewRefresher applies defaults to cfg.
func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Mapper == nil {
		cfg.Mapper = api.NewMapper(cfg.Log)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRefreshTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Refresher{cfg: cfg}
}

// Refresh returns a new access token. Failures wrap errs.ErrRefreshFailed and
// an *api.Error describing the refresh call. A result that arrives after the
// session was cleared is discarded and reported as errs.ErrSessionEnded.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	if !r.cfg.Coalesce {
		return r.refresh(ctx)
	}
	// the shared call must outlive any single caller's cancellation
	ch := r.group.DoChan("refresh", func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", errs.ErrRefreshFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	gen := r.cfg.Tokens.Generation()
	var body io.Reader = http.NoBody
	if rt, ok := r.cfg.Tokens.RefreshToken(ctx); ok {
		b, _ := json.Marshal(refreshRequest{RefreshToken: rt})
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrRefreshFailed, err)
	}
	if body != http.NoBody {
		req.Header.Set("Content-Type", contentJSON)
	}
	req.Header.Set("Accept", contentJSON)
	if id, err := u.NewV4(); err == nil {
		req.Header.Set(HeaderRequestID, id.String())
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrRefreshFailed, r.cfg.Mapper.FromFailure(req, nil, err))
	}
	env, err := api.Decode[json.RawMessage](r.cfg.Mapper, resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrRefreshFailed, err)
	}
	pair, field, err := DecodeRefreshPayload(env.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrRefreshFailed, err)
	}
	if !r.cfg.Tokens.SetTokenAt(ctx, gen, pair.AccessToken, pair.RefreshToken) {
		r.cfg.Log.Info("session ended during refresh; new token discarded")
		return "", fmt.Errorf("%w: %w", errs.ErrRefreshFailed, errs.ErrSessionEnded)
	}
	r.cfg.Log.Info("access token refreshed", zap.String("field", string(field)), zap.Bool("rotated", pair.RefreshToken != ""))
	return pair.AccessToken, nil
}

// TokenField names the payload key the access token was read from.
type TokenField string

const (
	FieldAccessToken TokenField = "accessToken"
	// FieldLegacyToken is the older backend's name for the same value.
	FieldLegacyToken TokenField = "token"
)

// ErrNoTokenInPayload is returned when neither accepted key holds a token.
var ErrNoTokenInPayload = errors.New("refresh payload carries no access token")

// DecodeRefreshPayload decodes the data field of a refresh response.
// accessToken wins over token when both are present.
func DecodeRefreshPayload(data json.RawMessage) (model.TokenPair, TokenField, error) {
	var raw struct {
		AccessToken  string `json:"accessToken"`
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	if len(data) == 0 {
		return model.TokenPair{}, "", ErrNoTokenInPayload
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.TokenPair{}, "", fmt.Errorf("decode refresh payload: %w", err)
	}
	switch {
	case raw.AccessToken != "":
		return model.TokenPair{AccessToken: raw.AccessToken, RefreshToken: raw.RefreshToken}, FieldAccessToken, nil
	case raw.Token != "":
		return model.TokenPair{AccessToken: raw.Token, RefreshToken: raw.RefreshToken}, FieldLegacyToken, nil
	default:
		return model.TokenPair{}, "", ErrNoTokenInPayload
	}
}
