package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/orgs"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/server"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Warden exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := openDB(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if err := storage.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	kv, redisKV, err := openKV(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	if redisKV != nil {
		shutdown.Register("redis", func(context.Context) error { return redisKV.Close() })
	}

	orgsMgr := orgs.NewManager(orgs.NewStore(db), orgs.WithLogger(logger), orgs.WithMetrics(metrics))
	rbacStore := rbac.NewStore(db)
	resolver := rbac.NewResolver(rbacStore, orgsMgr,
		rbac.WithCache(kv, cfg.RBAC.ACLCacheTTL),
		rbac.WithResolverLogger(logger),
		rbac.WithResolverMetrics(metrics),
	)
	policy := rbac.NewPolicy(rbacStore, resolver, orgsMgr, logger)

	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	tokens, err := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), kv,
		auth.WithIssuer(cfg.Auth.JWTIssuer),
		auth.WithTTL(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
		auth.WithSubjectLoader(authz.SubjectLoader(orgsMgr, rbacStore)),
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	recorder := audit.NewRecorder(audit.NewSQLStore(db), audit.WithLogger(logger), audit.WithMetrics(metrics))

	svc, err := authz.New(authz.Config{
		Orgs:          orgsMgr,
		Policy:        policy,
		Resolver:      resolver,
		Authenticator: auth.NewAuthenticator(orgsMgr, hasher, logger, metrics),
		Tokens:        tokens,
		Hasher:        hasher,
		Audit:         recorder,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if cfg.RBAC.TemplatesFile != "" {
		tf, err := rbac.LoadTemplates(cfg.RBAC.TemplatesFile)
		if err != nil {
			return fmt.Errorf("failed to load permission templates: %w", err)
		}
		if err := policy.ApplyTemplates(ctx, tf); err != nil {
			return fmt.Errorf("failed to apply permission templates: %w", err)
		}
		logger.WithField("templates_file", cfg.RBAC.TemplatesFile).Info("Permission templates applied")
	}

	var loginLimiter middleware.Limiter
	if redisKV != nil {
		loginLimiter = middleware.NewDistributedRateLimiter(redisKV.Client(), middleware.LoginRateLimitConfig(), "warden:ratelimit:login")
	} else {
		local := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
		local.StartCleanup(ctx)
		loginLimiter = local
	}

	handler, err := server.NewRouter(server.Config{
		Service:      svc,
		Auth:         middleware.NewAuthMiddleware(tokens, resolver, metrics),
		LoginLimiter: loginLimiter,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var cachePinger observability.Pinger
	if redisKV != nil {
		cachePinger = redisKV
	}
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, db, cachePinger))
	if cfg.Observability.MetricsEnabled {
		opsMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.AddServer(apiServer)
	shutdown.AddServer(opsServer)

	jobs, err := newScheduler(ctx, cfg, schedulerDeps{
		orgs:     orgsMgr,
		recorder: recorder,
		db:       db,
		metrics:  metrics,
		logger:   logger,
	})
	if err != nil {
		return err
	}
	jobs.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-jobs.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, logger.WithField("server", "api")) })
	g.Go(func() error { return serve(opsServer, logger.WithField("server", "ops")) })
	if cfg.RBAC.TemplatesFile != "" && cfg.RBAC.TemplatesWatch {
		watcher := rbac.NewTemplateWatcher(policy, cfg.RBAC.TemplatesFile, logger)
		g.Go(func() (err error) {
			defer observability.RecoverError(logger, "template watcher", &err)
			return watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	logger.WithFields(map[string]interface{}{
		"addr":        apiServer.Addr,
		"health_addr": opsServer.Addr,
		"db_driver":   db.Dialect().String(),
		"shared_kv":   redisKV != nil,
	}).Info("Warden started")

	return g.Wait()
}

// serve runs server until it is shut down
func serve(server *http.Server, logger *observability.Logger) error {
	logger.WithField("addr", server.Addr).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", server.Addr, err)
	}
	return nil
}

func openDB(ctx context.Context, cfg storage.Config, logger *observability.Logger) (*storage.DB, error) {
	dialect, err := storage.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if dialect == storage.DialectSQLite {
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		logger.Warn("Using SQLite; run a single instance only")
		return db, nil
	}

	conn, err := postgres.NewConnectionManager(ctx, postgres.ConfigFromStorage(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return conn.DB(), nil
}

func openKV(ctx context.Context, cfg storage.Config, logger *observability.Logger) (storage.KV, *postgres.RedisKV, error) {
	if cfg.RedisURL == "" {
		logger.WithField("size", cfg.L1CacheSize).Info("No Redis configured; sessions and ACLs stay in process")
		return storage.NewLocalKV(cfg.L1CacheSize), nil, nil
	}
	kv, err := postgres.NewRedisKV(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return kv, kv, nil
}
