package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sumarte/internal/log"
	"sumarte/internal/storage"
)

// ExportProcessorConfig holds configuration for the export processor
type ExportProcessorConfig struct {
	// PollInterval is how often pending jobs are swept (default: 1m)
	PollInterval time.Duration

	// BatchSize is the max number of jobs per sweep (default: 10)
	BatchSize int

	// MaxAttempts before a job is marked as error (default: 3)
	MaxAttempts int
}

func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval: time.Minute,
		BatchSize:    10,
		MaxAttempts:  3,
	}
}

// ExportProcessor runs export jobs, either on demand for queue messages or
// from its periodic sweep of the job table.
type ExportProcessor struct {
	store    ExportJobStore
	exporter LedgerExporter
	config   ExportProcessorConfig
	logger   *log.Logger

	// one job at a time; the queue and the sweep may race for the same job
	jobMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(store ExportJobStore, exporter LedgerExporter, config ExportProcessorConfig, logger *log.Logger) *ExportProcessor {
	def := DefaultExportProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportProcessor{
		store:    store,
		exporter: exporter,
		config:   config,
		logger:   logger.WithComponent(log.ComponentExport),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval.String(),
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Export processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.Sweep(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep processes one batch of pending jobs and returns how many finished.
func (p *ExportProcessor) Sweep(ctx context.Context) int {
	jobs, err := p.store.PendingExportJobs(ctx, p.config.BatchSize, p.config.MaxAttempts)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list pending export jobs", log.FieldError, err.Error())
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	p.logger.DebugContext(ctx, "Processing export batch", "count", len(jobs))
	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return done
		}
		if err := p.ProcessJob(ctx, job.ID); err == nil {
			done++
		}
	}
	return done
}

// ProcessJob runs one job. Jobs that are no longer pending are skipped. An
// error means the job is still pending and may be retried.
func (p *ExportProcessor) ProcessJob(ctx context.Context, jobID string) error {
	p.jobMu.Lock()
	defer p.jobMu.Unlock()

	job, err := p.store.GetExportJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.WarnContext(ctx, "Export job not found, skipping", log.FieldJobID, jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get export job %s: %w", jobID, err)
	}
	if job.Status != storage.ExportPending {
		return nil
	}

	if err := p.store.RecordExportAttempt(ctx, job.ID); err != nil {
		return fmt.Errorf("record export attempt: %w", err)
	}
	attempt := job.Attempts + 1

	ref, err := p.exporter.ExportLedger(ctx, job.ProjectID)
	if err != nil {
		return p.handleFailure(ctx, job, attempt, err)
	}

	if err := p.store.MarkExportDone(ctx, job.ID, ref); err != nil {
		return fmt.Errorf("mark export done: %w", err)
	}
	p.logger.InfoContext(ctx, "Ledger exported",
		log.FieldJobID, job.ID,
		log.FieldProjectID, job.ProjectID,
		log.FieldSheetRef, ref,
		"attempt", attempt)
	return nil
}

func (p *ExportProcessor) handleFailure(ctx context.Context, job storage.ExportJob, attempt int, cause error) error {
	p.logger.WarnContext(ctx, "Ledger export failed",
		log.FieldJobID, job.ID,
		log.FieldProjectID, job.ProjectID,
		"attempt", attempt,
		log.FieldError, cause.Error())

	if attempt < p.config.MaxAttempts {
		return fmt.Errorf("export project %d: %w", job.ProjectID, cause)
	}
	if err := p.store.MarkExportError(ctx, job.ID, cause.Error()); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark export job as failed",
			log.FieldJobID, job.ID,
			log.FieldError, err.Error())
	}
	p.logger.ErrorContext(ctx, "Export job failed permanently after max attempts",
		log.FieldJobID, job.ID,
		"attempts", attempt)
	return nil
}
