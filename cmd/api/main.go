package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"attendance-auth/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg core.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := core.SetupTelemetry(cfg, "attendance-auth-api")
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := core.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	userRepo := core.NewPgUserRepository(db)
	if err := core.BootstrapAdmin(ctx, userRepo, cfg, logger); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if cfg.UsersSeedFile != "" {
		data, err := os.ReadFile(cfg.UsersSeedFile)
		if err != nil {
			return fmt.Errorf("read users seed: %w", err)
		}
		res, err := core.ImportUsers(ctx, userRepo, data)
		if err != nil {
			return fmt.Errorf("import users seed: %w", err)
		}
		logger.Info("users seed applied", "created", len(res.Created), "skipped", len(res.Skipped))
	}

	registry := core.NewSessionRegistry(core.NewRedisSessionStore(redisClient), cfg.SessionTTL, logger)
	detector := core.NewHTTPDetectionClient(cfg.DetectionURL, cfg.DetectionTimeout, logger)
	facial := core.NewFacialLoginPath(detector, core.NewStoreFaceResolver(userRepo, cfg.FaceMatchDistance), logger)
	metrics := core.NewMetricsService(redisClient)
	flow := core.NewLoginFlow(registry, core.NewCredentialLoginPath(userRepo, logger), facial, core.LoginFlowOptions{
		Budget:             core.NewRedisAttemptBudget(redisClient, cfg.FaceAttemptLimit, cfg.FaceAttemptWindow),
		Metrics:            metrics,
		RetryOnUnavailable: cfg.RetryOnUnavailable,
		Logger:             logger,
	})

	var notifier core.CredentialsNotifier = core.NewLogCredentialsNotifier(logger)
	if cfg.CredentialsWebhookURL != "" {
		notifier = core.NewHTTPCredentialsNotifier(cfg.CredentialsWebhookURL)
	}

	// Gorilla cookie store for session management.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	router := core.NewRouter(cfg, store, core.RouterDeps{
		Flow:     flow,
		Users:    userRepo,
		Sessions: registry,
		Metrics:  metrics,
		Notifier: notifier,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, "attendance-auth-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		registry.RunSweeper(gctx, time.Minute, cfg.SessionIdleEvict)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down api server")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
