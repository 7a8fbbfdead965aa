package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sumarte/internal/core"
)

// SessionRecord is a logged-in browser session: the backend token pair and
// the display user decoded from the access token.
type SessionRecord struct {
	ID           string
	AccessToken  string
	RefreshToken string
	AccessExpiry time.Time
	User         core.User
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s SessionRecord) error {
	user, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, access_token, refresh_token, access_expiry, user_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccessToken, s.RefreshToken, unix(s.AccessExpiry), string(user), unix(s.CreatedAt), unix(s.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a live session. Expired rows are reported as
// ErrNotFound.
func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var (
		s                          SessionRecord
		user                       string
		expiry, created, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, access_token, refresh_token, access_expiry, user_json, created_at, expires_at
		 FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.AccessToken, &s.RefreshToken, &expiry, &user, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(user), &s.User); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session user: %w", err)
	}
	s.AccessExpiry = fromUnix(expiry)
	s.CreatedAt = fromUnix(created)
	s.ExpiresAt = fromUnix(expiresAt)
	if !s.ExpiresAt.IsZero() && !r.now().Before(s.ExpiresAt) {
		return SessionRecord{}, ErrNotFound
	}
	return s, nil
}

// UpdateSessionTokens stores a refreshed token pair.
func (r *SQLiteRepository) UpdateSessionTokens(ctx context.Context, id, access, refresh string, accessExpiry time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET access_token = ?, refresh_token = ?, access_expiry = ? WHERE id = ?`,
		access, refresh, unix(accessExpiry), id)
	if err != nil {
		return fmt.Errorf("update session tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions purges sessions past their lifetime.
func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, unix(r.now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "Expired sessions purged", "count", n)
	}
	return n, nil
}
