package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExportStatus string

const (
	ExportPending ExportStatus = "pending"
	ExportDone    ExportStatus = "done"
	ExportError   ExportStatus = "error"
)

// ExportJob is a request to copy a project's ledger to a spreadsheet.
type ExportJob struct {
	ID          string
	ProjectID   int64
	RequestedBy string
	Status      ExportStatus
	Attempts    int
	SheetRef    string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const exportColumns = `id, project_id, requested_by, status, attempts, sheet_ref, error, created_at, updated_at`

func scanExport(row interface{ Scan(...any) error }) (ExportJob, error) {
	var (
		j                ExportJob
		status           string
		created, updated int64
	)
	if err := row.Scan(&j.ID, &j.ProjectID, &j.RequestedBy, &status, &j.Attempts, &j.SheetRef, &j.Error, &created, &updated); err != nil {
		return ExportJob{}, err
	}
	j.Status = ExportStatus(status)
	j.CreatedAt = fromUnix(created)
	j.UpdatedAt = fromUnix(updated)
	return j, nil
}

// CreateExportJob records a pending job and returns it with its new ID.
func (r *SQLiteRepository) CreateExportJob(ctx context.Context, projectID int64, requestedBy string) (ExportJob, error) {
	now := r.now().UTC().Truncate(time.Second)
	j := ExportJob{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		RequestedBy: requestedBy,
		Status:      ExportPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO export_jobs (id, project_id, requested_by, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.ProjectID, j.RequestedBy, string(j.Status), unix(now), unix(now))
	if err != nil {
		return ExportJob{}, fmt.Errorf("create export job: %w", err)
	}
	slog.InfoContext(ctx, "Export job created", "job_id", j.ID, "project_id", projectID)
	return j, nil
}

func (r *SQLiteRepository) GetExportJob(ctx context.Context, id string) (ExportJob, error) {
	j, err := scanExport(r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM export_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ExportJob{}, ErrNotFound
	}
	if err != nil {
		return ExportJob{}, fmt.Errorf("get export job: %w", err)
	}
	return j, nil
}

// LatestExportJob returns the most recent job for a project.
func (r *SQLiteRepository) LatestExportJob(ctx context.Context, projectID int64) (ExportJob, error) {
	j, err := scanExport(r.db.QueryRowContext(ctx,
		`SELECT `+exportColumns+` FROM export_jobs WHERE project_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return ExportJob{}, ErrNotFound
	}
	if err != nil {
		return ExportJob{}, fmt.Errorf("get latest export job: %w", err)
	}
	return j, nil
}

// PendingExportJobs returns up to limit pending jobs, oldest first, that
// have been attempted fewer than maxAttempts times.
func (r *SQLiteRepository) PendingExportJobs(ctx context.Context, limit, maxAttempts int) ([]ExportJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+exportColumns+` FROM export_jobs
		 WHERE status = ? AND attempts < ?
		 ORDER BY created_at, rowid LIMIT ?`, string(ExportPending), maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ExportJob
	for rows.Next() {
		j, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RecordExportAttempt counts a processing attempt on a pending job.
func (r *SQLiteRepository) RecordExportAttempt(ctx context.Context, id string) error {
	return r.updateExport(ctx, `UPDATE export_jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`, unix(r.now()), id)
}

func (r *SQLiteRepository) MarkExportDone(ctx context.Context, id, sheetRef string) error {
	err := r.updateExport(ctx,
		`UPDATE export_jobs SET status = ?, sheet_ref = ?, error = '', updated_at = ? WHERE id = ?`,
		string(ExportDone), sheetRef, unix(r.now()), id)
	if err == nil {
		slog.InfoContext(ctx, "Export job completed", "job_id", id, "sheet_ref", sheetRef)
	}
	return err
}

func (r *SQLiteRepository) MarkExportError(ctx context.Context, id, msg string) error {
	err := r.updateExport(ctx,
		`UPDATE export_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(ExportError), strings.TrimSpace(msg), unix(r.now()), id)
	if err == nil {
		slog.WarnContext(ctx, "Export job failed", "job_id", id, "error", msg)
	}
	return err
}

func (r *SQLiteRepository) updateExport(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
