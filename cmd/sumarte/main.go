package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"sumarte/internal/amqp"
	"sumarte/internal/backend"
	"sumarte/internal/cli"
	"sumarte/internal/config"
	apphttp "sumarte/internal/http"
	"sumarte/internal/log"
	"sumarte/internal/services"
	"sumarte/internal/session"
)

// sessionPurgeInterval is how often expired sessions are removed.
const sessionPurgeInterval = time.Hour

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	repo := cli.InitSQLite(logger, cfg.SessionDBPath)
	defer repo.Close()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error(), log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err.Error(), "backend", bcfg.Type.String())
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", log.FieldError, err.Error())
			}
		}()
	}

	sessions := session.NewManager(repo, result.Backend, session.Options{
		TTL:          cfg.SessionTTL,
		SecureCookie: cfg.SessionCookieSecure,
	}, logger)

	// Without a broker, export jobs wait for the worker's sweep.
	var publisher services.ExportPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, export jobs fall back to the sweep", log.FieldError, err.Error())
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
		}
	}
	exports := services.NewExportService(repo, publisher, logger)

	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		Locale:             cfg.Tag(),
		ReferenceCacheTTL:  cfg.ReferenceCacheTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, apphttp.Deps{
		Backend:  result.Backend,
		Sessions: sessions,
		Exports:  exports,
		Health:   repo,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err.Error())
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	})

	go func() {
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.DeleteExpiredSessions(ctx)
				if err != nil {
					logger.Error("Session purge failed", log.FieldError, err.Error(), log.FieldErrorType, log.ErrorTypeDatabase)
					continue
				}
				if n > 0 {
					logger.Info("Expired sessions purged", "count", n)
				}
			}
		}
	}()

	logger.Info("Starting sumarte server",
		"port", cfg.Port,
		"backend", bcfg.Type.String(),
		"locale", cfg.Locale,
		"amqp", publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
