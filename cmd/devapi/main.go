// Command devapi runs a development backend for adminctl: an HTTP API with
// the dashboard's envelope contract and a gRPC health service behind bearer auth.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/pharm-admin/internal/devapi"
	"github.com/and161185/pharm-admin/internal/limiter"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// seedUsers parses "name:password:ROLE1|ROLE2,..." into the auth service.
func seedUsers(a *devapi.Auth, list string) error {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return fmt.Errorf("bad seed entry %q", entry)
		}
		var roles []string
		if len(parts) == 3 && parts[2] != "" {
			roles = strings.Split(parts[2], "|")
		}
		if err := a.AddUser(parts[0], parts[1], roles...); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	grpcAddr := flag.String("grpc-addr", ":9090", "gRPC listen address")
	jwtKey := flag.String("jwt-key", os.Getenv("PHARM_JWT_KEY"), "HS256 signing key (random in -dev when empty)")
	accessTTL := flag.Duration("access-ttl", 15*time.Minute, "access token TTL")
	refreshTTL := flag.Duration("refresh-ttl", 24*time.Hour, "refresh token TTL")
	seed := flag.String("seed", "admin:admin:ADMIN,staff:staff:STAFF,clerk:clerk:USER", "seeded users name:password:ROLES")
	legacy := flag.Bool("legacy-refresh", false, "answer refresh with the legacy \"token\" field")
	certFile := flag.String("tls-cert", "", "TLS certificate for gRPC (PEM)")
	keyFile := flag.String("tls-key", "", "TLS private key for gRPC (PEM)")
	dev := flag.Bool("dev", false, "development logging, random key, gRPC reflection")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("devapi starting",
		zap.String("version", version),
		zap.String("build_date", buildDate),
		zap.String("http", *addr),
		zap.String("grpc", *grpcAddr),
	)

	key := []byte(*jwtKey)
	if len(key) == 0 {
		if !*dev {
			logger.Fatal("missing jwt signing key (--jwt-key)")
		}
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	auth := devapi.NewAuth(key, *accessTTL, *refreshTTL, limiter.NewMemory(15*time.Minute, 5, 15*time.Minute))
	if err := seedUsers(auth, *seed); err != nil {
		logger.Fatal("seed users", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var gopts []grpc.ServerOption
	if *certFile != "" {
		creds, err := credentials.NewServerTLSFromFile(*certFile, *keyFile)
		if err != nil {
			logger.Fatal("load grpc tls keypair", zap.Error(err))
		}
		gopts = append(gopts, grpc.Creds(creds))
	}
	gs, hs := devapi.NewGRPCServer(auth, logger, gopts...)
	if *dev {
		reflection.Register(gs)
	}

	hsrv := &http.Server{
		Addr:              *addr,
		Handler:           devapi.NewHTTP(auth, devapi.NewCatalog(), logger, devapi.Options{LegacyRefreshField: *legacy}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", *grpcAddr), zap.Bool("tls", *certFile != ""))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", *addr))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopServers(hsrv, gs, 5*time.Second)
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("stopped")
}

// stopServers drains both servers within grace, then forces the gRPC side.
func stopServers(hsrv *http.Server, gs *grpc.Server, grace time.Duration) {
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_ = hsrv.Shutdown(sctx)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		gs.GracefulStop()
	}()
	select {
	case <-drained:
	case <-sctx.Done():
		gs.Stop()
	}
}
