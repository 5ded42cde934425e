package share

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

const linkColumns = `token, file_id, owner_id, created_at, expires_at, is_active, download_count`

// Repository persists share links.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a share link repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new active link.
func (r *Repository) Insert(ctx context.Context, l Link) (Link, error) {
	query := `
INSERT INTO share_links (token, file_id, owner_id, created_at, expires_at, is_active, download_count)
VALUES ($1, $2, $3, $4, $5, TRUE, 0)
RETURNING ` + linkColumns + `;`

	stored, err := r.queryOne(ctx, "insert share link", query, l.Token, l.FileID, l.OwnerID, l.CreatedAt, l.ExpiresAt)
	switch {
	case storage.IsUniqueViolation(err):
		return Link{}, errTokenTaken
	case storage.IsForeignKeyViolation(err):
		return Link{}, ErrFileNotFound
	}
	return stored, err
}

// Get fetches a link by token.
func (r *Repository) Get(ctx context.Context, token string) (Link, error) {
	return r.queryOne(ctx, "get share link", `SELECT `+linkColumns+` FROM share_links WHERE token = $1;`, token)
}

// IncrementDownloads bumps the download counter in place.
func (r *Repository) IncrementDownloads(ctx context.Context, token string) (Link, error) {
	query := `
UPDATE share_links SET download_count = download_count + 1
WHERE token = $1
RETURNING ` + linkColumns + `;`
	return r.queryOne(ctx, "count share download", query, token)
}

// Deactivate revokes a link. Revoking an inactive link leaves it unchanged.
func (r *Repository) Deactivate(ctx context.Context, token string) (Link, error) {
	query := `
UPDATE share_links SET is_active = FALSE
WHERE token = $1
RETURNING ` + linkColumns + `;`
	return r.queryOne(ctx, "revoke share link", query, token)
}

// ListByFile returns every link issued for a file, newest first.
func (r *Repository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `SELECT ` + linkColumns + ` FROM share_links WHERE file_id = $1 ORDER BY created_at DESC;`
	rows, err := storage.Conn(ctx, r.pool).Query(ctx, query, fileID)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("list share links: %w", err))
	}
	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Link, error) {
		return scanLink(row)
	})
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("scan share links: %w", err))
	}
	return links, nil
}

func (r *Repository) queryOne(ctx context.Context, op, query string, args ...any) (Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	l, err := scanLink(storage.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrShareNotFound
		}
		if storage.IsUniqueViolation(err) || storage.IsForeignKeyViolation(err) {
			return Link{}, err
		}
		return Link{}, storage.Classify(fmt.Errorf("%s: %w", op, err))
	}
	return l, nil
}

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	err := row.Scan(&l.Token, &l.FileID, &l.OwnerID, &l.CreatedAt, &l.ExpiresAt, &l.IsActive, &l.DownloadCount)
	return l, err
}
