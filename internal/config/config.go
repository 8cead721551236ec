// Package config loads adminctl settings. Precedence is flag, then PHARM_*
// environment variable (a .env file in the working directory is read first),
// then the built-in default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the resolved client configuration.
type Config struct {
	BaseURL     string
	LoginPath   string
	RefreshPath string
	LogoutPath  string

	Storage     string
	TokenFile   string
	Passphrase  string
	SQLitePath  string
	PostgresDSN string
	Namespace   string

	Timeout        time.Duration
	RefreshTimeout time.Duration
	RPS            float64
	Burst          int
	Coalesce       bool

	GRPCAddr      string
	GRPCPlaintext bool
	GRPCCA        string

	LoginRoute     string
	ForbiddenRoute string

	LogLevel string
	Dev      bool
}

// Dir is the per-user config directory.
func Dir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "pharm-admin")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pharm-admin")
}

type env struct{ errs []error }

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) dur(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *env) float(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

// Load registers the flags on set, parses args and validates the result.
// The remaining positional arguments are left in set.Args().
func Load(set *flag.FlagSet, args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	e := &env{}
	c := &Config{}
	set.StringVar(&c.BaseURL, "base-url", e.str("PHARM_BASE_URL", "http://localhost:8080"), "backend base URL")
	set.StringVar(&c.LoginPath, "login-path", e.str("PHARM_LOGIN_PATH", "/api/auth/login"), "login endpoint path")
	set.StringVar(&c.RefreshPath, "refresh-path", e.str("PHARM_REFRESH_PATH", "/api/auth/refresh-token"), "token refresh endpoint path")
	set.StringVar(&c.LogoutPath, "logout-path", e.str("PHARM_LOGOUT_PATH", "/api/auth/logout"), "logout endpoint path")

	set.StringVar(&c.Storage, "storage", e.str("PHARM_STORAGE", StorageFile), "token storage: memory|file|sqlite|postgres")
	set.StringVar(&c.TokenFile, "token-file", e.str("PHARM_TOKEN_FILE", filepath.Join(Dir(), "session.json")), "token file for -storage=file")
	set.StringVar(&c.Passphrase, "passphrase", e.str("PHARM_PASSPHRASE", ""), "seal the token file with this passphrase")
	set.StringVar(&c.SQLitePath, "sqlite", e.str("PHARM_SQLITE_PATH", filepath.Join(Dir(), "session.db")), "database file for -storage=sqlite")
	set.StringVar(&c.PostgresDSN, "dsn", e.str("PHARM_DSN", ""), "PostgreSQL DSN for -storage=postgres")
	set.StringVar(&c.Namespace, "profile", e.str("PHARM_PROFILE", "default"), "session namespace in SQL storage")

	set.DurationVar(&c.Timeout, "timeout", e.dur("PHARM_TIMEOUT", 30*time.Second), "request timeout")
	set.DurationVar(&c.RefreshTimeout, "refresh-timeout", e.dur("PHARM_REFRESH_TIMEOUT", 10*time.Second), "token refresh timeout")
	set.Float64Var(&c.RPS, "rps", e.float("PHARM_RPS", 0), "max requests per second (0 = unlimited)")
	set.IntVar(&c.Burst, "burst", e.integer("PHARM_BURST", 1), "throttle burst size")
	set.BoolVar(&c.Coalesce, "coalesce-refresh", e.boolean("PHARM_COALESCE_REFRESH", true), "share one refresh between concurrent 401s")

	set.StringVar(&c.GRPCAddr, "grpc-addr", e.str("PHARM_GRPC_ADDR", "localhost:9090"), "gRPC address")
	set.BoolVar(&c.GRPCPlaintext, "grpc-plaintext", e.boolean("PHARM_GRPC_PLAINTEXT", true), "gRPC without TLS (dev only)")
	set.StringVar(&c.GRPCCA, "grpc-ca", e.str("PHARM_GRPC_CA", ""), "gRPC CA bundle (PEM)")

	set.StringVar(&c.LoginRoute, "login-route", e.str("PHARM_LOGIN_ROUTE", "/login"), "view shown when the session ends")
	set.StringVar(&c.ForbiddenRoute, "forbidden-route", e.str("PHARM_FORBIDDEN_ROUTE", "/403"), "view shown on insufficient roles")

	set.StringVar(&c.LogLevel, "log-level", e.str("PHARM_LOG_LEVEL", "warn"), "log level")
	set.BoolVar(&c.Dev, "dev", e.boolean("PHARM_DEV", false), "development logging")

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := set.Parse(args); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base url %q", c.BaseURL)
	}
	switch c.Storage {
	case StorageMemory, StorageFile, StorageSQLite:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres storage needs -dsn")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.RPS < 0 || c.Burst < 0 {
		return errors.New("rps and burst must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.WarnLevel
	}
	return lvl
}
