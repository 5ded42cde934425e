// Package tree mutates the file/folder graph: creation, rename, recursive
// deletion, the trash and its expiry.
package tree

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/logger"
	"github.com/abduss/appdrive/internal/metrics"
	"github.com/abduss/appdrive/internal/node"
	"github.com/abduss/appdrive/internal/ownership"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxNameBytes = 255

	// removeAttempts bounds retries of a folder removal racing a concurrent insert.
	removeAttempts = 3
)

type nodeStore interface {
	Get(ctx context.Context, id uuid.UUID) (node.Node, error)
	Insert(ctx context.Context, n node.Node) (node.Node, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]node.Node, error)
	ListAllChildren(ctx context.Context, parentID uuid.UUID) ([]node.Node, error)
	Rename(ctx context.Context, id uuid.UUID, name string, now time.Time) (node.Node, error)
	Remove(ctx context.Context, id uuid.UUID) (node.Node, bool, error)
	Trash(ctx context.Context, id uuid.UUID, deletedAt, expiresAt time.Time) (node.Node, error)
	Untrash(ctx context.Context, id uuid.UUID, now time.Time) (node.Node, error)
	ListTrash(ctx context.Context, ownerID string) ([]node.Node, error)
	ListExpiredTrash(ctx context.Context, ownerID string, before time.Time, limit int) ([]node.Node, error)
	OwnersWithExpiredTrash(ctx context.Context, before time.Time, limit int) ([]string, error)
	HasTrashedAncestor(ctx context.Context, n node.Node) (bool, error)
}

type parentResolver interface {
	ResolveParent(ctx context.Context, ownerID, appID string, parentID *uuid.UUID) (node.Node, error)
	ValidateParentOwnership(ctx context.Context, ownerID string, parentID uuid.UUID, expectedAppID string) (node.Node, error)
}

type ledger interface {
	Authorize(ctx context.Context, uid string, c account.Capability) error
	Free(ctx context.Context, uid string, bytes int64) error
}

type objectStore interface {
	Delete(ctx context.Context, key string) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Options tunes trash retention, purge batching and download links.
type Options struct {
	Retention   time.Duration
	PurgeBatch  int
	DownloadTTL time.Duration
}

// Service implements the file tree store.
type Service struct {
	nodes    nodeStore
	resolver parentResolver
	ledger   ledger
	blobs    objectStore
	tx       txRunner
	opts     Options
	log      *zap.Logger
	nowFunc  func() time.Time
}

// NewService constructs a tree service.
func NewService(nodes nodeStore, resolver parentResolver, ledger ledger, blobs objectStore, tx txRunner, opts Options, log *zap.Logger) *Service {
	if opts.PurgeBatch <= 0 {
		opts.PurgeBatch = 100
	}
	return &Service{
		nodes:    nodes,
		resolver: resolver,
		ledger:   ledger,
		blobs:    blobs,
		tx:       tx,
		opts:     opts,
		log:      log.Named("tree"),
		nowFunc:  time.Now,
	}
}

// DeleteResult summarizes a permanent deletion.
type DeleteResult struct {
	Nodes      int   `json:"nodes"`
	Files      int   `json:"files"`
	FreedBytes int64 `json:"freed_bytes"`
}

func (r *DeleteResult) add(other DeleteResult) {
	r.Nodes += other.Nodes
	r.Files += other.Files
	r.FreedBytes += other.FreedBytes
}

// ValidateName rejects names that cannot identify a node.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case len(name) > maxNameBytes:
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	case strings.TrimSpace(name) == "":
		return ErrInvalidName
	}
	return nil
}

// CreateFolder creates a folder under parentID, or under the application
// root when parentID is nil.
func (s *Service) CreateFolder(ctx context.Context, ownerID, appID string, parentID *uuid.UUID, name string) (node.Node, error) {
	if err := ValidateName(name); err != nil {
		return node.Node{}, err
	}
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return node.Node{}, err
	}

	parent, err := s.resolver.ResolveParent(ctx, ownerID, appID, parentID)
	if err != nil {
		return node.Node{}, err
	}

	folder := node.NewFolder(uuid.New(), ownerID, parent.Namespace, &parent, name, s.nowFunc().UTC())
	return s.insert(ctx, folder)
}

// CreateFileNode records an uploaded file under parentID. Quota is settled
// by the caller; this only enforces tree integrity.
func (s *Service) CreateFileNode(ctx context.Context, ownerID, appID string, parentID uuid.UUID, name string, info node.FileInfo) (node.Node, error) {
	if err := ValidateName(name); err != nil {
		return node.Node{}, err
	}
	parent, err := s.resolver.ValidateParentOwnership(ctx, ownerID, parentID, appID)
	if err != nil {
		return node.Node{}, err
	}

	file := node.NewFile(uuid.New(), ownerID, parent.Namespace, parent, name, info, s.nowFunc().UTC())
	return s.insert(ctx, file)
}

func (s *Service) insert(ctx context.Context, n node.Node) (node.Node, error) {
	stored, err := s.nodes.Insert(ctx, n)
	if err != nil {
		if errors.Is(err, node.ErrParentMissing) {
			return node.Node{}, ownership.ErrParentNotFound
		}
		return node.Node{}, err
	}
	return stored, nil
}

// Get returns an owned node.
func (s *Service) Get(ctx context.Context, ownerID string, nodeID uuid.UUID) (node.Node, error) {
	n, err := s.nodes.Get(ctx, nodeID)
	if err != nil {
		return node.Node{}, err
	}
	// other owners' nodes are reported as absent
	if n.OwnerID != ownerID {
		return node.Node{}, node.ErrNodeNotFound
	}
	return n, nil
}

// getVisible returns an owned node that is neither trashed nor under a trashed folder.
func (s *Service) getVisible(ctx context.Context, ownerID string, nodeID uuid.UUID) (node.Node, error) {
	n, err := s.Get(ctx, ownerID, nodeID)
	if err != nil {
		return node.Node{}, err
	}
	if n.IsDeleted() {
		return node.Node{}, ErrNodeInTrash
	}
	trashed, err := s.nodes.HasTrashedAncestor(ctx, n)
	if err != nil {
		return node.Node{}, err
	}
	if trashed {
		return node.Node{}, ErrNodeInTrash
	}
	return n, nil
}

// Rename changes the name of a node. Ids are stable, so descendants' paths
// are unaffected.
func (s *Service) Rename(ctx context.Context, ownerID string, nodeID uuid.UUID, newName string) (node.Node, error) {
	if err := ValidateName(newName); err != nil {
		return node.Node{}, err
	}
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return node.Node{}, err
	}

	n, err := s.getVisible(ctx, ownerID, nodeID)
	if err != nil {
		return node.Node{}, err
	}
	if n.IsAppRoot() {
		return node.Node{}, ErrAppRootProtected
	}
	if n.Name == newName {
		return n, nil
	}
	return s.nodes.Rename(ctx, nodeID, newName, s.nowFunc().UTC())
}

// DeleteRecursive permanently removes a node and everything below it.
// Deleting an absent node succeeds with an empty result.
func (s *Service) DeleteRecursive(ctx context.Context, ownerID string, nodeID uuid.UUID) (DeleteResult, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return DeleteResult{}, err
	}

	n, err := s.Get(ctx, ownerID, nodeID)
	if err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			return DeleteResult{}, nil
		}
		return DeleteResult{}, err
	}

	result, err := s.deleteTree(ctx, n)
	if err != nil {
		return result, err
	}
	s.log.Info("node deleted permanently",
		zap.String("owner_id", ownerID),
		zap.String("node_id", nodeID.String()),
		zap.Int("nodes", result.Nodes),
		zap.Int64("freed_bytes", result.FreedBytes),
	)
	return result, nil
}

// deleteTree removes descendants depth-first before n itself.
func (s *Service) deleteTree(ctx context.Context, n node.Node) (DeleteResult, error) {
	if n.IsFile() {
		return s.removeFile(ctx, n)
	}

	var result DeleteResult
	for attempt := 1; ; attempt++ {
		children, err := s.nodes.ListAllChildren(ctx, n.ID)
		if err != nil {
			return result, err
		}
		for _, child := range children {
			sub, err := s.deleteTree(ctx, child)
			result.add(sub)
			if err != nil {
				return result, err
			}
		}

		_, removed, err := s.nodes.Remove(ctx, n.ID)
		if errors.Is(err, node.ErrHasChildren) && attempt < removeAttempts {
			// a child was inserted concurrently; sweep again
			continue
		}
		if err != nil {
			return result, err
		}
		if removed {
			result.Nodes++
		}
		return result, nil
	}
}

// removeFile deletes the blob best-effort, then the row, returning the
// file's bytes to the account only when this call removed the row.
func (s *Service) removeFile(ctx context.Context, n node.Node) (DeleteResult, error) {
	if key := n.File.BlobKey; key != "" {
		if err := s.blobs.Delete(ctx, key); err != nil {
			metrics.BestEffortFailure("blob_delete")
			logger.FromContext(ctx, s.log).Warn("blob delete failed; removing metadata anyway",
				zap.String("owner_id", n.OwnerID),
				zap.String("node_id", n.ID.String()),
				zap.Error(err),
			)
		}
	}

	var result DeleteResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		removed, existed, err := s.nodes.Remove(ctx, n.ID)
		if err != nil || !existed {
			return err
		}
		if err := s.ledger.Free(ctx, removed.OwnerID, removed.SizeBytes()); err != nil {
			return err
		}
		result = DeleteResult{Nodes: 1, Files: 1, FreedBytes: removed.SizeBytes()}
		return nil
	})
	if err != nil {
		// the row survives but its object may already be gone; a retry removes it
		logger.FromContext(ctx, s.log).Error("file metadata removal failed after blob delete",
			zap.String("owner_id", n.OwnerID),
			zap.String("node_id", n.ID.String()),
			zap.String("blob_key", n.File.BlobKey),
			zap.Error(err),
		)
		return DeleteResult{}, err
	}
	return result, nil
}

// SoftDelete moves a node to the trash for retention, or the configured
// default when retention is not positive. Descendants stay in place and are
// hidden through their trashed ancestor.
func (s *Service) SoftDelete(ctx context.Context, ownerID string, nodeID uuid.UUID, retention time.Duration) (node.Node, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return node.Node{}, err
	}
	if retention <= 0 {
		retention = s.opts.Retention
	}

	n, err := s.Get(ctx, ownerID, nodeID)
	if err != nil {
		return node.Node{}, err
	}
	if n.IsAppRoot() {
		return node.Node{}, ErrAppRootProtected
	}
	if n.IsDeleted() {
		return n, nil
	}

	now := s.nowFunc().UTC()
	return s.nodes.Trash(ctx, nodeID, now, now.Add(retention))
}

// Restore takes a node back out of the trash.
func (s *Service) Restore(ctx context.Context, ownerID string, nodeID uuid.UUID) (node.Node, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return node.Node{}, err
	}

	n, err := s.Get(ctx, ownerID, nodeID)
	if err != nil {
		return node.Node{}, err
	}
	if !n.IsDeleted() {
		return node.Node{}, ErrNotInTrash
	}
	if n.ParentID != nil {
		parent, err := s.nodes.Get(ctx, *n.ParentID)
		if err != nil {
			return node.Node{}, err
		}
		if parent.IsDeleted() {
			return node.Node{}, ErrParentInTrash
		}
		trashed, err := s.nodes.HasTrashedAncestor(ctx, parent)
		if err != nil {
			return node.Node{}, err
		}
		if trashed {
			return node.Node{}, ErrParentInTrash
		}
	}
	return s.nodes.Untrash(ctx, nodeID, s.nowFunc().UTC())
}

// PurgeExpiredTrash permanently deletes the owner's trash entries whose
// retention has ended and returns how many entries were purged. Entries that
// fail are logged and left for the next run.
func (s *Service) PurgeExpiredTrash(ctx context.Context, ownerID string) (int, error) {
	now := s.nowFunc().UTC()
	purged := 0
	failed := make(map[uuid.UUID]struct{})

	for {
		batch, err := s.nodes.ListExpiredTrash(ctx, ownerID, now, s.opts.PurgeBatch+len(failed))
		if err != nil {
			return purged, err
		}

		progressed := false
		for _, n := range batch {
			if _, skip := failed[n.ID]; skip {
				continue
			}
			progressed = true
			result, err := s.deleteTree(ctx, n)
			if err != nil {
				if ctx.Err() != nil {
					return purged, ctx.Err()
				}
				failed[n.ID] = struct{}{}
				s.log.Warn("purge trash entry failed",
					zap.String("owner_id", ownerID),
					zap.String("node_id", n.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if result.Nodes > 0 {
				purged++
			}
		}
		if !progressed || len(batch) < s.opts.PurgeBatch+len(failed) {
			break
		}
	}

	metrics.TrashPurged(purged)
	if purged > 0 {
		s.log.Info("trash purged", zap.String("owner_id", ownerID), zap.Int("entries", purged))
	}
	return purged, nil
}

// PurgeAllExpiredTrash runs PurgeExpiredTrash for every owner with expired
// trash, up to one batch of owners per call.
func (s *Service) PurgeAllExpiredTrash(ctx context.Context) (int, error) {
	owners, err := s.nodes.OwnersWithExpiredTrash(ctx, s.nowFunc().UTC(), s.opts.PurgeBatch)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, ownerID := range owners {
		n, err := s.PurgeExpiredTrash(ctx, ownerID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ListChildren returns the active children of a visible folder.
func (s *Service) ListChildren(ctx context.Context, ownerID string, folderID uuid.UUID) ([]node.Node, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return nil, err
	}

	folder, err := s.getVisible(ctx, ownerID, folderID)
	if err != nil {
		return nil, err
	}
	if !folder.IsFolder() {
		return nil, ownership.ErrNotAFolder
	}
	children, err := s.nodes.ListChildren(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []node.Node{}
	}
	return children, nil
}

// ListTrash returns the owner's trashed nodes.
func (s *Service) ListTrash(ctx context.Context, ownerID string) ([]node.Node, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return nil, err
	}
	nodes, err := s.nodes.ListTrash(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []node.Node{}
	}
	return nodes, nil
}

// DownloadURL presigns a download of one of the owner's files.
func (s *Service) DownloadURL(ctx context.Context, ownerID string, fileID uuid.UUID) (string, error) {
	if err := s.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return "", err
	}

	n, err := s.getVisible(ctx, ownerID, fileID)
	if err != nil {
		return "", err
	}
	if !n.IsFile() {
		return "", ErrNotAFile
	}
	return s.blobs.PresignDownload(ctx, n.File.BlobKey, s.opts.DownloadTTL)
}
