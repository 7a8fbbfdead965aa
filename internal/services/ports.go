// Package services coordinates ledger export jobs between the web process,
// the job table and the export worker.
package services

import (
	"context"

	"sumarte/internal/storage"
)

type (
	// ExportJobStore is the export_jobs table.
	ExportJobStore interface {
		CreateExportJob(ctx context.Context, projectID int64, requestedBy string) (storage.ExportJob, error)
		GetExportJob(ctx context.Context, id string) (storage.ExportJob, error)
		LatestExportJob(ctx context.Context, projectID int64) (storage.ExportJob, error)
		PendingExportJobs(ctx context.Context, limit, maxAttempts int) ([]storage.ExportJob, error)
		RecordExportAttempt(ctx context.Context, id string) error
		MarkExportDone(ctx context.Context, id, sheetRef string) error
		MarkExportError(ctx context.Context, id, msg string) error
	}

	// ExportPublisher wakes the worker for a new job.
	ExportPublisher interface {
		PublishExportRequest(ctx context.Context, jobID string, projectID int64) error
	}

	// LedgerExporter copies one project's ledger to the spreadsheet and
	// returns the written range.
	LedgerExporter interface {
		ExportLedger(ctx context.Context, projectID int64) (sheetRef string, err error)
	}
)

var _ ExportJobStore = (*storage.SQLiteRepository)(nil)
