package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/pharm-admin/internal/authz"
	"github.com/and161185/pharm-admin/internal/config"
	"github.com/and161185/pharm-admin/internal/migrate"
	"github.com/and161185/pharm-admin/internal/model"
	"github.com/and161185/pharm-admin/internal/session"
	"github.com/and161185/pharm-admin/internal/storage"
	"github.com/and161185/pharm-admin/internal/storage/postgres"
	"github.com/and161185/pharm-admin/internal/storage/sqlite"
	"github.com/and161185/pharm-admin/internal/token"
	"github.com/and161185/pharm-admin/internal/transport/httpclient"
)

// app is the composition root: one of each session-core component.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	tokens *token.Store
	bc     *session.Broadcaster
	logout *session.Logout
	client *httpclient.Client
	guard  authz.Guard
	out    io.Writer
	errOut io.Writer

	closers []func()
}

func newLogger(cfg *config.Config, w io.Writer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	if cfg.Dev {
		enc = zap.NewDevelopmentEncoderConfig()
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), cfg.Level())
	return zap.New(core)
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemory(), func() {}, nil
	case config.StorageFile:
		return storage.NewFile(cfg.TokenFile, cfg.Passphrase), func() {}, nil
	case config.StorageSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case config.StoragePostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(db, cfg.Namespace), db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func wire(ctx context.Context, cfg *config.Config, out, errOut io.Writer) (*app, error) {
	log := newLogger(cfg, errOut)
	st, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tokens := token.NewStore(st, log.Named("token"))
	bc := session.NewBroadcaster(tokens, session.ConsoleFallback{Out: errOut}, cfg.LoginRoute, log.Named("session"))
	client, err := httpclient.New(httpclient.Config{
		BaseURL:        cfg.BaseURL,
		LoginPath:      cfg.LoginPath,
		RefreshPath:    cfg.RefreshPath,
		LogoutPath:     cfg.LogoutPath,
		Timeout:        cfg.Timeout,
		Coalesce:       cfg.Coalesce,
		RefreshTimeout: cfg.RefreshTimeout,
		RPS:            cfg.RPS,
		Burst:          cfg.Burst,
	}, tokens, bc, log.Named("http"))
	if err != nil {
		closeStorage()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		tokens:  tokens,
		bc:      bc,
		logout:  session.NewLogout(bc, client.Logout, log.Named("logout")),
		client:  client,
		guard:   authz.Guard{Facade: authz.NewFacade(tokens), LoginPath: cfg.LoginRoute, ForbiddenPath: cfg.ForbiddenRoute},
		out:     out,
		errOut:  errOut,
		closers: []func(){closeStorage},
	}
	// the terminal is the one region that reacts to a forced logout
	a.closers = append(a.closers, bc.Register(a.onLogout))
	return a, nil
}

func (a *app) onLogout(r model.LogoutReason) {
	fmt.Fprintln(a.errOut, r.Message())
	if r != model.ReasonUnspecified {
		fmt.Fprintln(a.errOut, "run: adminctl login -u <user> -p <password>")
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}
