package main

import (
	"context"
	"errors"
	"os"
	"time"

	"sumarte/internal/amqp"
	"sumarte/internal/backend"
	"sumarte/internal/cli"
	"sumarte/internal/config"
	"sumarte/internal/log"
	"sumarte/internal/services"
	"sumarte/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting sumarte-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	repo := cli.InitSQLite(logger, cfg.SessionDBPath)
	defer repo.Close()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error(), log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger)
	result, err := factory.CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err.Error(), "backend", bcfg.Type.String())
		os.Exit(1)
	}
	writer, err := factory.CreateLedgerWriter(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to create ledger writer", log.FieldError, err.Error())
		os.Exit(1)
	}

	exporter := worker.NewExportWorker(result.Backend, writer, worker.Credentials{
		Username: cfg.WorkerUsername,
		Password: cfg.WorkerPassword,
	}, logger)
	processor := services.NewExportProcessor(repo, exporter, services.ExportProcessorConfig{
		PollInterval: cfg.ExportInterval,
		BatchSize:    cfg.ExportBatchSize,
	}, logger)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, relying on the periodic sweep", log.FieldError, err.Error())
			amqpClient = nil
		}
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Export processor stop failed", log.FieldError, err.Error())
		}
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", log.FieldError, err.Error())
			}
		}
	})

	// Catch up on jobs queued while the worker was down.
	if n := processor.Sweep(ctx); n > 0 {
		logger.Info("Startup sweep processed export jobs", "count", n)
	}
	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start export processor", log.FieldError, err.Error())
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeExportRequests(ctx, func(ctx context.Context, msg *amqp.ExportRequestMessage) error {
				return processor.ProcessJob(ctx, msg.JobID)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Export request consumption stopped", log.FieldError, err.Error())
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
