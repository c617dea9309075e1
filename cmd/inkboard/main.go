package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/inkboard/inkboard/cmd/inkboard/cli"
	"github.com/inkboard/inkboard/internal/app"
	"github.com/inkboard/inkboard/internal/audit"
	"github.com/inkboard/inkboard/internal/observability"
	"github.com/inkboard/inkboard/internal/platform/cache"
	"github.com/inkboard/inkboard/internal/platform/db"
	"github.com/inkboard/inkboard/internal/rbac"
	"github.com/inkboard/inkboard/internal/shared"
	"github.com/inkboard/inkboard/jobs"
)

const usage = `usage: inkboard [command]

commands:
  serve                              run the HTTP API (default)
  rbac seed [--json]                 upsert the built-in roles and permissions
  rbac bootstrap --user ID [--email] grant super_admin to an operator
  jobs trigger [--retention DUR]     enqueue a grant sweep
  jobs inspect                       print default queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "rbac":
		code = runRBAC(ctx, cfg, logger, args)
	case "jobs":
		code = runJobs(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	if code != 0 {
		stop()
		os.Exit(code)
	}
}

func connectPostgres(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MaxConnLifetime: cfg.PGMaxConnLifetime,
	})
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: cfg.OTelServiceName,
	}, logger)
	if err != nil {
		logger.Error("init tracing", slog.Any("error", err))
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessions := shared.NewSessionStore(redisClient, cfg.SessionPrefix)

	repo := rbac.NewRepository(pool)
	rbacMetrics := rbac.NewMetrics(metrics.Registerer())
	decisions, err := rbac.NewDecisionCache(rbac.NewResolver(repo), rbac.CacheConfig{
		TTL:        cfg.RBACCacheTTL,
		MaxEntries: cfg.RBACCacheMaxEntries,
		Metrics:    rbacMetrics,
	})
	if err != nil {
		logger.Error("init decision cache", slog.Any("error", err))
		return 1
	}
	authz := rbac.NewAuthorizer(decisions, repo, rbacMetrics)
	grants := rbac.NewGrantService(repo, decisions, shared.NewAuditLogger(pool), logger)
	catalog := rbac.NewCatalog(repo, decisions, logger)

	if cfg.BootstrapAdminID != "" {
		if _, err := rbac.Bootstrap(ctx, grants, cfg.BootstrapAdminID, cfg.BootstrapAdminEmail); err != nil {
			logger.Error("bootstrap admin", slog.String("user_id", cfg.BootstrapAdminID), slog.Any("error", err))
			return 1
		}
		logger.Info("bootstrap admin granted", slog.String("user_id", cfg.BootstrapAdminID))
	}

	principals, err := rbac.NewPrincipalRegistrar(grants, cfg.RBACCacheMaxEntries, logger)
	if err != nil {
		logger.Error("init principal registrar", slog.Any("error", err))
		return 1
	}

	inspector := asynq.NewInspector(redisOpts(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Sessions:       sessions,
		Metrics:        metrics,
		Principals:     principals,
		RBACHandler:    rbac.NewHandler(logger, catalog, grants, authz, cfg.RBACMutationRate, time.Minute),
		RBACMiddleware: rbac.Middleware{Authorizer: authz, Logger: logger},
		AuditHandler:   audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Readiness: map[string]app.Pinger{
			"postgres": app.PingFunc(pool.Ping),
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      otelhttp.NewHandler(router, "inkboard"),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", slog.Any("error", err))
		code = 1
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return code
}

func runRBAC(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("rbac "+sub, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print the seed result as JSON")
	userID := fs.String("user", "", "user id to bootstrap")
	email := fs.String("email", "", "email recorded for the bootstrapped user")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := connectPostgres(ctx, cfg)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	repo := rbac.NewRepository(pool)
	// No cache lives in this process; the API picks up new grants within its TTL.
	grants := rbac.NewGrantService(repo, nopInvalidator{}, shared.NewAuditLogger(pool), logger)
	c := cli.NewRBACCLI(repo, grants)

	switch sub {
	case "seed":
		return c.SeedCommand(ctx, cli.SeedOptions{JSONOutput: *jsonOut})
	case "bootstrap":
		return c.BootstrapCommand(ctx, cli.BootstrapOptions{UserID: *userID, Email: *email})
	default:
		fmt.Fprintf(os.Stderr, "unknown rbac command %q\n", sub)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("jobs "+sub, flag.ContinueOnError)
	retention := fs.Duration("retention", 0, "override the sweep retention window")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c := cli.NewJobsCLI(redisOpts(cfg))
	defer c.Close()

	switch sub {
	case "trigger":
		info, err := c.Trigger(ctx, jobs.TaskRBACGrantSweep, *retention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "inspect":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs command %q\n", sub)
		return 2
	}
	return 0
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(string) {}
