package node

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

const nodeColumns = `id, owner_id, kind, name, parent_id, path, app_id, is_app_root, is_main_folder,
size_bytes, mime_type, blob_key, created_at, updated_at, deleted_at, expires_at`

const (
	siblingNameConstraint = "nodes_active_sibling_name"
	mainFolderConstraint  = "nodes_one_main_folder"
)

// Repository persists nodes in PostgreSQL. Queries join the transaction
// carried on the context when there is one.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a node repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new non-root node.
func (r *Repository) Insert(ctx context.Context, n Node) (Node, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO nodes (` + nodeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULL, NULL)
RETURNING ` + nodeColumns + `;`

	stored, err := scanNode(storage.Conn(ctx, r.pool).QueryRow(ctx, query, insertArgs(n)...))
	if err != nil {
		switch {
		case storage.IsUniqueViolation(err, siblingNameConstraint):
			return Node{}, ErrDuplicateName
		case storage.IsForeignKeyViolation(err):
			return Node{}, ErrParentMissing
		}
		return Node{}, storage.Classify(fmt.Errorf("insert node: %w", err))
	}
	return stored, nil
}

// InsertAppRoot creates the root folder unless one already exists for the
// owner and application, and returns the stored root either way.
func (r *Repository) InsertAppRoot(ctx context.Context, n Node) (Node, error) {
	appID, _ := n.Namespace.AppID()

	execCtx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO nodes (` + nodeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULL, NULL)
ON CONFLICT DO NOTHING;`

	if _, err := storage.Conn(execCtx, r.pool).Exec(execCtx, query, insertArgs(n)...); err != nil {
		return Node{}, storage.Classify(fmt.Errorf("insert app root: %w", err))
	}
	return r.FindAppRoot(ctx, n.OwnerID, appID)
}

// Get fetches a node by id, trashed or not.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Node, error) {
	return r.queryOne(ctx, "get node", `SELECT `+nodeColumns+` FROM nodes WHERE id = $1;`, id)
}

// FindAppRoot fetches the root folder of an application.
func (r *Repository) FindAppRoot(ctx context.Context, ownerID, appID string) (Node, error) {
	query := `
SELECT ` + nodeColumns + `
FROM nodes
WHERE owner_id = $1 AND app_id = $2 AND parent_id IS NULL AND is_app_root;`

	return r.queryOne(ctx, "find app root", query, ownerID, appID)
}

// LockAppRoot takes a row lock on the application root for the rest of the
// transaction, serializing structural changes within the namespace.
func (r *Repository) LockAppRoot(ctx context.Context, ownerID, appID string) error {
	query := `
SELECT ` + nodeColumns + `
FROM nodes
WHERE owner_id = $1 AND app_id = $2 AND is_app_root
FOR UPDATE;`

	_, err := r.queryOne(ctx, "lock app root", query, ownerID, appID)
	return err
}

// ListChildren returns the active children of a folder, folders first.
func (r *Repository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]Node, error) {
	query := `
SELECT ` + nodeColumns + `
FROM nodes
WHERE parent_id = $1 AND deleted_at IS NULL
ORDER BY kind = 'file', name;`

	return r.queryMany(ctx, "list children", query, parentID)
}

// ListAllChildren returns every child of a folder including trashed ones.
func (r *Repository) ListAllChildren(ctx context.Context, parentID uuid.UUID) ([]Node, error) {
	return r.queryMany(ctx, "list all children", `SELECT `+nodeColumns+` FROM nodes WHERE parent_id = $1 ORDER BY id;`, parentID)
}

// Rename changes a node's name.
func (r *Repository) Rename(ctx context.Context, id uuid.UUID, name string, now time.Time) (Node, error) {
	query := `
UPDATE nodes
SET name = $2, updated_at = $3
WHERE id = $1
RETURNING ` + nodeColumns + `;`

	n, err := r.queryOne(ctx, "rename node", query, id, name, now)
	if storage.IsUniqueViolation(err, siblingNameConstraint) {
		return Node{}, ErrDuplicateName
	}
	return n, err
}

// Remove hard-deletes a node. The boolean reports whether this call removed
// the row; a node that is already gone is not an error.
func (r *Repository) Remove(ctx context.Context, id uuid.UUID) (Node, bool, error) {
	n, err := r.queryOne(ctx, "remove node", `DELETE FROM nodes WHERE id = $1 RETURNING `+nodeColumns+`;`, id)
	switch {
	case errors.Is(err, ErrNodeNotFound):
		return Node{}, false, nil
	case storage.IsForeignKeyViolation(err):
		return Node{}, false, ErrHasChildren
	case err != nil:
		return Node{}, false, err
	}
	return n, true, nil
}

// Trash marks an active node deleted. Trashing a node already in the trash
// returns it unchanged.
func (r *Repository) Trash(ctx context.Context, id uuid.UUID, deletedAt, expiresAt time.Time) (Node, error) {
	query := `
UPDATE nodes
SET deleted_at = $2, expires_at = $3, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + nodeColumns + `;`

	n, err := r.queryOne(ctx, "trash node", query, id, deletedAt, expiresAt)
	if errors.Is(err, ErrNodeNotFound) {
		return r.Get(ctx, id)
	}
	return n, err
}

// Untrash clears the trash marker of a node.
func (r *Repository) Untrash(ctx context.Context, id uuid.UUID, now time.Time) (Node, error) {
	query := `
UPDATE nodes
SET deleted_at = NULL, expires_at = NULL, updated_at = $2
WHERE id = $1
RETURNING ` + nodeColumns + `;`

	n, err := r.queryOne(ctx, "restore node", query, id, now)
	if storage.IsUniqueViolation(err, siblingNameConstraint) {
		return Node{}, ErrDuplicateName
	}
	return n, err
}

// ListTrash returns the trashed nodes of an owner, most recently deleted first.
func (r *Repository) ListTrash(ctx context.Context, ownerID string) ([]Node, error) {
	query := `
SELECT ` + nodeColumns + `
FROM nodes
WHERE owner_id = $1 AND deleted_at IS NOT NULL
ORDER BY deleted_at DESC, id;`

	return r.queryMany(ctx, "list trash", query, ownerID)
}

// ListExpiredTrash returns up to limit trashed nodes of an owner whose
// retention ended before the given instant.
func (r *Repository) ListExpiredTrash(ctx context.Context, ownerID string, before time.Time, limit int) ([]Node, error) {
	query := `
SELECT ` + nodeColumns + `
FROM nodes
WHERE owner_id = $1 AND deleted_at IS NOT NULL AND expires_at < $2
ORDER BY expires_at
LIMIT $3;`

	return r.queryMany(ctx, "list expired trash", query, ownerID, before, limit)
}

// OwnersWithExpiredTrash returns up to limit owners having expired trash.
func (r *Repository) OwnersWithExpiredTrash(ctx context.Context, before time.Time, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT DISTINCT owner_id
FROM nodes
WHERE deleted_at IS NOT NULL AND expires_at < $1
ORDER BY owner_id
LIMIT $2;`

	rows, err := storage.Conn(ctx, r.pool).Query(ctx, query, before, limit)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("list trash owners: %w", err))
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("scan trash owners: %w", err))
	}
	return owners, nil
}

// HasTrashedAncestor reports whether any ancestor of n sits in the trash.
func (r *Repository) HasTrashedAncestor(ctx context.Context, n Node) (bool, error) {
	if len(n.Path) == 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	var trashed bool
	err := storage.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM nodes WHERE id = ANY($1) AND deleted_at IS NOT NULL);`,
		n.Path,
	).Scan(&trashed)
	if err != nil {
		return false, storage.Classify(fmt.Errorf("check trashed ancestors: %w", err))
	}
	return trashed, nil
}

// ClearMainFolders unsets the main flag on every folder of the namespace except keep.
func (r *Repository) ClearMainFolders(ctx context.Context, ownerID, appID string, keep uuid.UUID, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE nodes
SET is_main_folder = FALSE, updated_at = $4
WHERE owner_id = $1 AND app_id = $2 AND is_main_folder AND id <> $3;`

	if _, err := storage.Conn(ctx, r.pool).Exec(ctx, query, ownerID, appID, keep, now); err != nil {
		return storage.Classify(fmt.Errorf("clear main folders: %w", err))
	}
	return nil
}

// MarkMainFolder sets the main flag on a folder.
func (r *Repository) MarkMainFolder(ctx context.Context, id uuid.UUID, now time.Time) (Node, error) {
	query := `
UPDATE nodes
SET is_main_folder = TRUE, updated_at = $2
WHERE id = $1 AND kind = 'folder'
RETURNING ` + nodeColumns + `;`

	n, err := r.queryOne(ctx, "mark main folder", query, id, now)
	if storage.IsUniqueViolation(err, mainFolderConstraint) {
		return Node{}, ErrMainFolderConflict
	}
	return n, err
}

func (r *Repository) queryOne(ctx context.Context, op, query string, args ...any) (Node, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	n, err := scanNode(storage.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNodeNotFound
		}
		if storage.IsUniqueViolation(err) || storage.IsForeignKeyViolation(err) {
			return Node{}, err
		}
		return Node{}, storage.Classify(fmt.Errorf("%s: %w", op, err))
	}
	return n, nil
}

func (r *Repository) queryMany(ctx context.Context, op, query string, args ...any) ([]Node, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	rows, err := storage.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, storage.Classify(fmt.Errorf("%s: scan: %w", op, err))
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(fmt.Errorf("%s: iterate: %w", op, err))
	}
	return nodes, nil
}

func insertArgs(n Node) []any {
	var appID *string
	if id, ok := n.Namespace.AppID(); ok {
		appID = &id
	}

	var (
		isAppRoot, isMain bool
		sizeBytes         int64
		mimeType, blobKey string
	)
	if n.Folder != nil {
		isAppRoot, isMain = n.Folder.IsAppRoot, n.Folder.IsMainFolder
	}
	if n.File != nil {
		sizeBytes, mimeType, blobKey = n.File.SizeBytes, n.File.MimeType, n.File.BlobKey
	}

	path := n.Path
	if path == nil {
		path = []uuid.UUID{}
	}
	return []any{
		n.ID, n.OwnerID, string(n.Kind), n.Name, n.ParentID, path, appID,
		isAppRoot, isMain, sizeBytes, mimeType, blobKey, n.CreatedAt, n.UpdatedAt,
	}
}

func scanNode(row pgx.Row) (Node, error) {
	var (
		n         Node
		kind      string
		appID     *string
		isAppRoot bool
		isMain    bool
		sizeBytes int64
		mimeType  string
		blobKey   string
	)
	err := row.Scan(
		&n.ID, &n.OwnerID, &kind, &n.Name, &n.ParentID, &n.Path, &appID, &isAppRoot, &isMain,
		&sizeBytes, &mimeType, &blobKey, &n.CreatedAt, &n.UpdatedAt, &n.DeletedAt, &n.ExpiresAt,
	)
	if err != nil {
		return Node{}, err
	}

	n.Kind = Kind(kind)
	n.Namespace = Legacy()
	if appID != nil {
		n.Namespace = Owned(*appID)
	}
	if n.Kind == KindFile {
		n.File = &FileInfo{SizeBytes: sizeBytes, MimeType: mimeType, BlobKey: blobKey}
	} else {
		n.Folder = &FolderInfo{IsAppRoot: isAppRoot, IsMainFolder: isMain}
	}
	if n.Path == nil {
		n.Path = []uuid.UUID{}
	}
	return n, nil
}
