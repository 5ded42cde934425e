// Package ownership enforces the application namespace of folders and files
// and manages the per-application root and main folders.
package ownership

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/node"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// rootNamespace seeds the deterministic ids of application root folders.
var rootNamespace = uuid.MustParse("6f1c2d9e-3b7a-4c55-9e0d-2a8f4b61c7d3")

type nodeStore interface {
	Get(ctx context.Context, id uuid.UUID) (node.Node, error)
	FindAppRoot(ctx context.Context, ownerID, appID string) (node.Node, error)
	InsertAppRoot(ctx context.Context, n node.Node) (node.Node, error)
	LockAppRoot(ctx context.Context, ownerID, appID string) error
	HasTrashedAncestor(ctx context.Context, n node.Node) (bool, error)
	ClearMainFolders(ctx context.Context, ownerID, appID string, keep uuid.UUID, now time.Time) error
	MarkMainFolder(ctx context.Context, id uuid.UUID, now time.Time) (node.Node, error)
}

type ledger interface {
	Authorize(ctx context.Context, uid string, c account.Capability) error
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Resolver resolves and enforces application namespaces.
type Resolver struct {
	nodes   nodeStore
	ledger  ledger
	tx      txRunner
	log     *zap.Logger
	nowFunc func() time.Time
}

// NewResolver constructs an ownership resolver.
func NewResolver(nodes nodeStore, ledger ledger, tx txRunner, log *zap.Logger) *Resolver {
	return &Resolver{nodes: nodes, ledger: ledger, tx: tx, log: log.Named("ownership"), nowFunc: time.Now}
}

// RootID returns the id of the root folder of (ownerID, appID). Concurrent
// creators derive the same id, so only one insert can win.
func RootID(ownerID, appID string) uuid.UUID {
	return uuid.NewSHA1(rootNamespace, []byte(ownerID+"\x00"+appID))
}

// GetOrCreateAppRoot returns the application root folder, creating it on
// first use. Creation needs a writable account; an existing root is
// returned to any account that may read.
func (r *Resolver) GetOrCreateAppRoot(ctx context.Context, ownerID, rawAppID, appName string) (node.Node, error) {
	appID, err := NormalizeAppID(rawAppID)
	if err != nil {
		return node.Node{}, err
	}

	if err := r.ledger.Authorize(ctx, ownerID, account.CapabilityRead); err != nil {
		return node.Node{}, err
	}
	root, err := r.nodes.FindAppRoot(ctx, ownerID, appID)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, node.ErrNodeNotFound) {
		return node.Node{}, err
	}
	if err := r.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return node.Node{}, err
	}

	name := strings.TrimSpace(appName)
	if name == "" {
		name = appID
	}
	root, err = r.nodes.InsertAppRoot(ctx, node.NewFolder(RootID(ownerID, appID), ownerID, node.Owned(appID), nil, name, r.nowFunc().UTC()))
	if err != nil {
		return node.Node{}, err
	}
	r.log.Debug("app root ready", zap.String("owner_id", ownerID), zap.String("app_id", appID), zap.String("node_id", root.ID.String()))
	return root, nil
}

// ValidateParentOwnership checks that parentID names an active folder of
// ownerID inside the expectedAppID namespace, and returns it.
func (r *Resolver) ValidateParentOwnership(ctx context.Context, ownerID string, parentID uuid.UUID, expectedAppID string) (node.Node, error) {
	appID, err := NormalizeAppID(expectedAppID)
	if err != nil {
		return node.Node{}, err
	}

	parent, err := r.nodes.Get(ctx, parentID)
	if err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			return node.Node{}, ErrParentNotFound
		}
		return node.Node{}, err
	}
	if parent.OwnerID != ownerID {
		return node.Node{}, ErrParentNotOwned
	}
	if parent.IsDeleted() {
		return node.Node{}, ErrParentNotFound
	}
	if !parent.IsFolder() {
		return node.Node{}, ErrNotAFolder
	}
	parentApp, owned := parent.Namespace.AppID()
	if !owned {
		return node.Node{}, ErrLegacyParent
	}
	if parentApp != appID {
		return node.Node{}, ErrAppMismatch
	}

	trashed, err := r.nodes.HasTrashedAncestor(ctx, parent)
	if err != nil {
		return node.Node{}, err
	}
	if trashed {
		return node.Node{}, ErrParentNotFound
	}
	return parent, nil
}

// ResolveParent returns the folder new nodes are created in: parentID when
// given, the application root otherwise.
func (r *Resolver) ResolveParent(ctx context.Context, ownerID, appID string, parentID *uuid.UUID) (node.Node, error) {
	if parentID == nil {
		return r.GetOrCreateAppRoot(ctx, ownerID, appID, "")
	}
	return r.ValidateParentOwnership(ctx, ownerID, *parentID, appID)
}

// SetMainFolder flags folderID as the main folder of (ownerID, appID) and
// clears the flag everywhere else in one transaction.
func (r *Resolver) SetMainFolder(ctx context.Context, ownerID, rawAppID string, folderID uuid.UUID) (node.Node, error) {
	appID, err := NormalizeAppID(rawAppID)
	if err != nil {
		return node.Node{}, err
	}
	if err := r.ledger.Authorize(ctx, ownerID, account.CapabilityWrite); err != nil {
		return node.Node{}, err
	}
	if _, err := r.ValidateParentOwnership(ctx, ownerID, folderID, appID); err != nil {
		return node.Node{}, err
	}

	var folder node.Node
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.nodes.LockAppRoot(ctx, ownerID, appID); err != nil && !errors.Is(err, node.ErrNodeNotFound) {
			return err
		}
		now := r.nowFunc().UTC()
		if err := r.nodes.ClearMainFolders(ctx, ownerID, appID, folderID, now); err != nil {
			return err
		}
		marked, err := r.nodes.MarkMainFolder(ctx, folderID, now)
		if err != nil {
			return err
		}
		folder = marked
		return nil
	})
	if err != nil {
		return node.Node{}, err
	}

	r.log.Info("main folder set", zap.String("owner_id", ownerID), zap.String("app_id", appID), zap.String("node_id", folderID.String()))
	return folder, nil
}
