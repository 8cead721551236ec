// Command adminctl is the pharmacy admin client. It keeps the session
// (access and refresh tokens) between runs and refreshes it silently.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/and161185/pharm-admin/internal/api"
	"github.com/and161185/pharm-admin/internal/authz"
	"github.com/and161185/pharm-admin/internal/config"
	"github.com/and161185/pharm-admin/internal/errs"
	"github.com/and161185/pharm-admin/internal/model"
	"github.com/and161185/pharm-admin/internal/transport/grpcclient"
	"github.com/and161185/pharm-admin/internal/transport/httpclient"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK = iota
	exitErr
	exitUsage
	exitLogin
	exitForbidden
)

// managementRoles may use the catalog commands.
var managementRoles = []string{"ADMIN", "STAFF"}

func usage(w io.Writer) {
	fmt.Fprint(w, `adminctl
Usage:
  adminctl [global flags] <cmd> [args]

Commands:
  version
  login    -u <username> -p <password>
  logout
  whoami
  status
  get      <path> [-q key=value ...]
  post     <path> -data <json>
  upload   <path> -file <file> [-name file] [-field key=value ...]
  health                                        (gRPC)

Run "adminctl -h" for global flags.
`)
}

type kvFlag map[string]string

func (k kvFlag) String() string { return fmt.Sprint(map[string]string(k)) }

func (k kvFlag) Set(v string) error {
	key, val, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("want key=value, got %q", v)
	}
	k[key] = val
	return nil
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("adminctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg, err := config.Load(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		fmt.Fprintln(stderr, "config:", err)
		return exitUsage
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return exitUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "version" {
		fmt.Fprintf(stdout, "adminctl %s (%s)\n", version, buildDate)
		return exitOK
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout+cfg.RefreshTimeout)
	defer cancel()

	a, err := wire(ctx, cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitErr
	}
	defer a.close()

	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.cmdLogout(ctx)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "status":
		return a.cmdStatus(ctx)
	case "get":
		return a.cmdGet(ctx, rest)
	case "post":
		return a.cmdPost(ctx, rest)
	case "upload":
		return a.cmdUpload(ctx, rest)
	case "health":
		return a.cmdHealth(ctx)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return exitUsage
	}
}

// ---- guards and output ----

// resume renews an expired access token from the stored refresh token. Every
// run starts cold, so this is where a silent refresh usually happens. When the
// refresh is rejected the session is over and the logout is broadcast.
func (a *app) resume(ctx context.Context) {
	if a.guard.Facade.IsAuthenticated(ctx) {
		return
	}
	if _, ok := a.tokens.RefreshToken(ctx); !ok {
		return
	}
	if _, err := a.client.Refresher().Refresh(ctx); err != nil {
		a.log.Debug("resume session", zap.Error(err))
		if ctx.Err() == nil && !errors.Is(err, errs.ErrSessionEnded) {
			a.bc.Trigger(ctx, model.ReasonSessionExpired)
		}
	}
}

// allow applies the route guard; a non-zero code is the exit status to use.
func (a *app) allow(ctx context.Context, from string, roles ...string) int {
	a.resume(ctx)
	d := a.guard.Check(ctx, from, roles...)
	switch d.Outcome {
	case authz.Allow:
		return exitOK
	case authz.RedirectLogin:
		fmt.Fprintf(a.errOut, "sign in required (%s)\n", d.Location)
		return exitLogin
	default:
		if d.Location != "" {
			fmt.Fprintf(a.errOut, "permission denied (%s)\n", d.Location)
		} else {
			fmt.Fprintln(a.errOut, "permission denied")
		}
		return exitForbidden
	}
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *app) fail(err error) int {
	var ae *api.Error
	if errors.As(err, &ae) {
		msg := api.UserMessage(ae)
		if ae.Message != "" && ae.Message != msg {
			msg += " (" + ae.Message + ")"
		}
		fmt.Fprintln(a.errOut, msg)
		for field, msgs := range api.FieldErrors(err) {
			fmt.Fprintf(a.errOut, "  %s: %s\n", field, strings.Join(msgs, "; "))
		}
		if ae.Status == http.StatusForbidden {
			return exitForbidden
		}
		return exitErr
	}
	if s, ok := status.FromError(err); ok {
		e := a.client.Mapper().FromGRPC("grpc", err)
		fmt.Fprintf(a.errOut, "rpc error: code=%s msg=%s\n", s.Code(), e.Message)
		return exitErr
	}
	fmt.Fprintln(a.errOut, err)
	return exitErr
}

// ---- commands ----

func (a *app) cmdLogin(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *u == "" || *p == "" {
		fmt.Fprintln(a.errOut, "need -u and -p")
		return exitUsage
	}
	res, err := a.client.Login(ctx, httpclient.Credentials{Username: *u, Password: *p})
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "signed in as %s %v\n", *u, res.Data.Authorities)
	return exitOK
}

func (a *app) cmdLogout(ctx context.Context) int {
	if !a.logout.Do(ctx, model.ReasonUnspecified) {
		fmt.Fprintln(a.errOut, "logout already in progress")
		return exitErr
	}
	return exitOK
}

func (a *app) cmdWhoami(ctx context.Context) int {
	if code := a.allow(ctx, "whoami"); code != exitOK {
		return code
	}
	c, _ := a.guard.Facade.CurrentUser(ctx)
	a.printJSON(map[string]any{
		"username":    c.Subject,
		"authorities": a.guard.Facade.Roles(ctx),
		"expiresAt":   c.ExpiresAtTime().UTC().Format(time.RFC3339),
	})
	return exitOK
}

func (a *app) cmdStatus(ctx context.Context) int {
	st := map[string]any{
		"authenticated": a.guard.Facade.IsAuthenticated(ctx),
		"storage":       a.cfg.Storage,
		"baseURL":       a.cfg.BaseURL,
	}
	if c, ok := a.guard.Facade.CurrentUser(ctx); ok {
		st["username"] = c.Subject
		st["expiresIn"] = time.Until(c.ExpiresAtTime()).Round(time.Second).String()
	}
	if _, ok := a.tokens.RefreshToken(ctx); ok {
		st["refreshToken"] = "present"
	}
	a.printJSON(st)
	return exitOK
}

func (a *app) cmdGet(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(a.errOut, "need <path>")
		return exitUsage
	}
	path := args[0]
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	q := kvFlag{}
	fs.Var(q, "q", "query parameter key=value (repeatable)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	if code := a.allow(ctx, path, managementRoles...); code != exitOK {
		return code
	}
	query := url.Values{}
	for k, v := range q {
		query.Set(k, v)
	}
	res, err := httpclient.Call[json.RawMessage](ctx, a.client, http.MethodGet, path, query, nil)
	if err != nil {
		return a.fail(err)
	}
	a.printJSON(res.Data)
	return exitOK
}

func (a *app) cmdPost(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(a.errOut, "need <path>")
		return exitUsage
	}
	path := args[0]
	fs := flag.NewFlagSet("post", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	data := fs.String("data", "", "JSON request body")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	if !json.Valid([]byte(*data)) {
		fmt.Fprintln(a.errOut, "-data must be valid JSON")
		return exitUsage
	}
	if code := a.allow(ctx, path, managementRoles...); code != exitOK {
		return code
	}
	res, err := httpclient.Call[json.RawMessage](ctx, a.client, http.MethodPost, path, nil, json.RawMessage(*data))
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.out, res.Message)
	a.printJSON(res.Data)
	return exitOK
}

func (a *app) cmdUpload(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(a.errOut, "need <path>")
		return exitUsage
	}
	path := args[0]
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	file := fs.String("file", "", "file to upload")
	name := fs.String("name", "file", "form field name of the file part")
	fields := kvFlag{}
	fs.Var(fields, "field", "extra form field key=value (repeatable)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(a.errOut, "need -file")
		return exitUsage
	}
	if code := a.allow(ctx, path, managementRoles...); code != exitOK {
		return code
	}
	res, err := httpclient.Upload[json.RawMessage](ctx, a.client, path, *name, *file, fields)
	if err != nil {
		return a.fail(err)
	}
	a.printJSON(res.Data)
	return exitOK
}

func (a *app) cmdHealth(ctx context.Context) int {
	if code := a.allow(ctx, "health"); code != exitOK {
		return code
	}
	tc, err := grpcclient.TLS(a.cfg.GRPCCA, a.cfg.GRPCPlaintext, false)
	if err != nil {
		return a.fail(err)
	}
	cc, err := grpcclient.Dial(a.cfg.GRPCAddr, tc, a.tokens, a.client.Refresher(), a.bc, a.log.Named("grpc"))
	if err != nil {
		return a.fail(err)
	}
	defer cc.Close()

	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.out, resp.GetStatus().String())
	return exitOK
}
