package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/appdrive/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

const sessionColumns = `id, owner_id, app_id, parent_id, file_name, size_bytes, mime_type, blob_key,
status, failure_reason, file_id, created_at, expires_at, completed_at`

// Repository persists upload sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an upload session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new pending session.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	query := `
INSERT INTO upload_sessions (id, owner_id, app_id, parent_id, file_name, size_bytes, mime_type, blob_key, status, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10)
RETURNING ` + sessionColumns + `;`

	return r.queryOne(ctx, "insert upload session", query,
		s.ID, s.OwnerID, s.AppID, s.ParentID, s.FileName, s.SizeBytes, s.MimeType, s.BlobKey, s.CreatedAt, s.ExpiresAt,
	)
}

// Get fetches a session.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	return r.queryOne(ctx, "get upload session", `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1;`, id)
}

// GetForUpdate fetches a session and locks its row until the surrounding
// transaction ends.
func (r *Repository) GetForUpdate(ctx context.Context, id uuid.UUID) (Session, error) {
	return r.queryOne(ctx, "lock upload session", `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1 FOR UPDATE;`, id)
}

// MarkConfirmed finalizes a pending session with the created file.
func (r *Repository) MarkConfirmed(ctx context.Context, id, fileID uuid.UUID, sizeBytes int64, at time.Time) (Session, error) {
	query := `
UPDATE upload_sessions
SET status = 'confirmed', file_id = $2, size_bytes = $3, completed_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING ` + sessionColumns + `;`

	s, err := r.queryOne(ctx, "confirm upload session", query, id, fileID, sizeBytes, at)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, ErrSessionNotPending
	}
	return s, err
}

// MarkTerminal moves a pending session to failed or expired.
func (r *Repository) MarkTerminal(ctx context.Context, id uuid.UUID, status Status, reason string, at time.Time) (Session, error) {
	query := `
UPDATE upload_sessions
SET status = $2, failure_reason = $3, completed_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING ` + sessionColumns + `;`

	s, err := r.queryOne(ctx, "terminate upload session", query, id, string(status), reason, at)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, ErrSessionNotPending
	}
	return s, err
}

// ListExpiredPending returns up to limit pending sessions past their expiry.
func (r *Repository) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT ` + sessionColumns + `
FROM upload_sessions
WHERE status = 'pending' AND expires_at < $1
ORDER BY expires_at
LIMIT $2;`

	rows, err := storage.Conn(ctx, r.pool).Query(ctx, query, before, limit)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("list expired sessions: %w", err))
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storage.Classify(fmt.Errorf("scan upload session: %w", err))
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(fmt.Errorf("iterate upload sessions: %w", err))
	}
	return sessions, nil
}

func (r *Repository) queryOne(ctx context.Context, op, query string, args ...any) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	s, err := scanSession(storage.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, storage.Classify(fmt.Errorf("%s: %w", op, err))
	}
	return s, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s      Session
		status string
	)
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.AppID, &s.ParentID, &s.FileName, &s.SizeBytes, &s.MimeType, &s.BlobKey,
		&status, &s.FailureReason, &s.FileID, &s.CreatedAt, &s.ExpiresAt, &s.CompletedAt,
	)
	if err != nil {
		return Session{}, err
	}
	s.Status = Status(status)
	return s, nil
}
