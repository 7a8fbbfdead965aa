package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sumarte/internal/core"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, *time.Time) {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "sumarte.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sumarte.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), repo.SchemaVersion())
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	assert.NoError(t, repo.Ping(context.Background()))
	assert.Equal(t, uint(2), repo.SchemaVersion())
}

func TestDirtySchemaRefusesToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sumarte.db")
	repo, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	_, err = repo.db.Exec(`UPDATE schema_migrations SET dirty = 1`)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = NewSQLiteRepository(path)
	assert.ErrorIs(t, err, ErrDirtySchema)
}

func TestSessionLifecycle(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	rec := SessionRecord{
		ID:           "s-1",
		AccessToken:  "a1",
		RefreshToken: "r1",
		AccessExpiry: now.Add(5 * time.Minute),
		User:         core.User{ID: 7, Username: "ana", FirstName: "Ana", OrganizationID: 3},
		ExpiresAt:    now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateSession(ctx, rec))

	got, err := repo.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccessToken)
	assert.Equal(t, rec.User, got.User)
	assert.True(t, got.AccessExpiry.Equal(rec.AccessExpiry))

	require.NoError(t, repo.UpdateSessionTokens(ctx, "s-1", "a2", "r2", now.Add(10*time.Minute)))
	got, err = repo.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, "r2", got.RefreshToken)

	assert.ErrorIs(t, repo.UpdateSessionTokens(ctx, "missing", "a", "r", *now), ErrNotFound)

	require.NoError(t, repo.DeleteSession(ctx, "s-1"))
	_, err = repo.GetSession(ctx, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredSessions(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateSession(ctx, SessionRecord{ID: "old", AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, repo.CreateSession(ctx, SessionRecord{ID: "new", AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour)}))

	*now = now.Add(2 * time.Minute)
	_, err := repo.GetSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := repo.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetSession(ctx, "new")
	assert.NoError(t, err)
}

func TestExportJobs(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.CreateExportJob(ctx, 10, "ana")
	require.NoError(t, err)
	assert.Equal(t, ExportPending, first.Status)

	*now = now.Add(time.Second)
	second, err := repo.CreateExportJob(ctx, 10, "ana")
	require.NoError(t, err)
	_, err = repo.CreateExportJob(ctx, 11, "luis")
	require.NoError(t, err)

	latest, err := repo.LatestExportJob(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = repo.LatestExportJob(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := repo.PendingExportJobs(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, repo.MarkExportDone(ctx, first.ID, "Proyecto 10!A1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordExportAttempt(ctx, second.ID))
	}

	pending, err = repo.PendingExportJobs(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1, "done and exhausted jobs are skipped")

	require.NoError(t, repo.MarkExportError(ctx, second.ID, " sheet not found "))
	got, err := repo.GetExportJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ExportError, got.Status)
	assert.Equal(t, "sheet not found", got.Error)
	assert.Equal(t, 3, got.Attempts)

	done, err := repo.GetExportJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Proyecto 10!A1", done.SheetRef)

	assert.ErrorIs(t, repo.MarkExportDone(ctx, "nope", ""), ErrNotFound)
}
