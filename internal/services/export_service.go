package services

import (
	"context"
	"errors"
	"fmt"

	"sumarte/internal/log"
	"sumarte/internal/storage"
)

// ExportService is the web side of ledger exports.
type ExportService struct {
	store     ExportJobStore
	publisher ExportPublisher
	logger    *log.Logger
}

// NewExportService accepts a nil publisher; jobs then wait for the worker's
// periodic sweep.
func NewExportService(store ExportJobStore, publisher ExportPublisher, logger *log.Logger) *ExportService {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportService{
		store:     store,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentExport),
	}
}

// RequestExport records a pending job and publishes it. A publish failure
// is logged only: the job is already saved and the sweep will find it.
func (s *ExportService) RequestExport(ctx context.Context, projectID int64, requestedBy string) (storage.ExportJob, error) {
	job, err := s.store.CreateExportJob(ctx, projectID, requestedBy)
	if err != nil {
		return storage.ExportJob{}, fmt.Errorf("create export job: %w", err)
	}

	if s.publisher == nil {
		s.logger.InfoContext(ctx, "Export job queued for sweep",
			log.FieldJobID, job.ID,
			log.FieldProjectID, projectID)
		return job, nil
	}
	if err := s.publisher.PublishExportRequest(ctx, job.ID, projectID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish export request",
			log.FieldJobID, job.ID,
			log.FieldProjectID, projectID,
			log.FieldError, err.Error())
	}
	return job, nil
}

// LatestExport returns the newest job for the project, or nil when the
// project was never exported.
func (s *ExportService) LatestExport(ctx context.Context, projectID int64) (*storage.ExportJob, error) {
	job, err := s.store.LatestExportJob(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
