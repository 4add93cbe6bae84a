package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitymap"
	"github.com/goliatone/go-portal-auth/config"
	"github.com/goliatone/go-portal-auth/database"
	"github.com/goliatone/go-portal-auth/notify"
	"github.com/goliatone/go-portal-auth/ratelimit"
	"github.com/goliatone/go-router"
)

func main() {
	configPath := flag.String("config", os.Getenv("PORTAL_CONFIG"), "path to the YAML config file")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	logger := auth.NewSlogLogger(log.With("component", "auth"))

	if err := run(rootCtx, cfg, logger, log); err != nil {
		log.Error("portal auth stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger auth.Logger, log *slog.Logger) error {
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := auth.Migrate(ctx, db); err != nil {
		return err
	}

	hasher := auth.NewBcryptHasher(cfg.Auth.GetBcryptCost())
	repo := auth.NewRepositoryManager(db, auth.WithAccountsHasher(hasher))
	repo.MustValidate()

	tokens := auth.NewTokenServiceFromConfig(cfg.Auth, auth.WithTokenLogger(logger))
	sink := activitymap.LogSink(logger)

	auther := auth.NewAuthenticator(repo.Accounts(), tokens, cfg.Auth).
		WithLogger(logger).
		WithActivitySink(sink)

	resets := auth.NewResetManagerFromRepositories(repo).
		WithLogger(logger).
		WithActivitySink(sink).
		WithPasswordHasher(hasher).
		WithTTL(cfg.Auth.GetResetTokenTTL()).
		WithStoreTimeout(cfg.Auth.GetStoreTimeout())

	if cfg.SMTP.Host != "" {
		resets.WithNotifier(notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			BaseURL:  cfg.SMTP.PublicBaseURL,
		}))
	} else {
		log.Warn("smtp not configured, reset links are written to the log")
		resets.WithNotifier(notify.NewLogNotifier(cfg.SMTP.PublicBaseURL, logger))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := ratelimit.Open(ctx, ratelimit.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()

		auther.WithAttemptLimiter(ratelimit.New(rdb, cfg.Redis.LoginAttempts, cfg.Redis.Window))
		resets.WithAttemptLimiter(ratelimit.New(rdb, cfg.Redis.ResetAttempts, cfg.Redis.Window))
	}

	validator := auth.NewSessionValidator(tokens, repo.Accounts()).
		WithLogger(logger).
		WithStoreTimeout(cfg.Auth.GetStoreTimeout()).
		WithRoleRefresh(cfg.Auth.GetRefreshRoleOnValidate())

	routes := auth.NewHTTPAuthenticator(validator, cfg.Auth).WithLogger(logger)
	routes.Debug = cfg.Server.Debug

	stateMachine := auth.NewAccountStateMachineFromRepositories(repo,
		auth.WithStateMachineActivitySink(sink),
		auth.WithStateMachineLogger(logger),
		auth.WithStateMachineStoreTimeout(cfg.Auth.GetStoreTimeout()),
	)

	controller := auth.NewAuthController(auther, resets, routes,
		auth.WithControllerLogger(logger),
		auth.WithControllerStateMachine(stateMachine),
		auth.WithControllerDebug(cfg.Server.Debug),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "portal-auth",
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          30 * time.Second,
			IdleTimeout:           60 * time.Second,
		}))
	})

	srv.Router().Get("/healthz", func(c router.Context) error {
		if err := db.PingContext(c.Context()); err != nil {
			return c.Status(http.StatusServiceUnavailable).SendString("unavailable")
		}
		return c.Status(http.StatusOK).SendString("ok")
	})

	auth.RegisterAuthRoutes(srv.Router(), controller)

	app := srv.WrappedRouter()

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.Server.Addr)
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown initiated")
	return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
}
