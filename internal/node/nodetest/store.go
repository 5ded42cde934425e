// Package nodetest provides an in-memory node store enforcing the same
// constraints as the PostgreSQL schema, for use in tests.
package nodetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abduss/appdrive/internal/node"
	"github.com/google/uuid"
)

// Store is a concurrency-safe in-memory node table.
type Store struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]node.Node

	// GetErr, when set, is returned by Get.
	GetErr error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{nodes: make(map[uuid.UUID]node.Node)}
}

// Put stores n as-is, bypassing every constraint. Useful to seed legacy rows.
func (s *Store) Put(n node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = clone(n)
}

// Len returns the number of stored nodes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// All returns every stored node.
func (s *Store) All() []node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]node.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, clone(n))
	}
	return out
}

func (s *Store) Insert(_ context.Context, n node.Node) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ParentID == nil {
		return node.Node{}, node.ErrParentMissing
	}
	if _, ok := s.nodes[*n.ParentID]; !ok {
		return node.Node{}, node.ErrParentMissing
	}
	if s.siblingTaken(n, n.Name) {
		return node.Node{}, node.ErrDuplicateName
	}
	s.nodes[n.ID] = clone(n)
	return clone(n), nil
}

func (s *Store) InsertAppRoot(_ context.Context, n node.Node) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID, _ := n.Namespace.AppID()
	if root, ok := s.findRoot(n.OwnerID, appID); ok {
		return clone(root), nil
	}
	if _, exists := s.nodes[n.ID]; !exists {
		s.nodes[n.ID] = clone(n)
	}
	return clone(s.nodes[n.ID]), nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return node.Node{}, s.GetErr
	}
	n, ok := s.nodes[id]
	if !ok {
		return node.Node{}, node.ErrNodeNotFound
	}
	return clone(n), nil
}

func (s *Store) FindAppRoot(_ context.Context, ownerID, appID string) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.findRoot(ownerID, appID)
	if !ok {
		return node.Node{}, node.ErrNodeNotFound
	}
	return clone(root), nil
}

func (s *Store) LockAppRoot(ctx context.Context, ownerID, appID string) error {
	_, err := s.FindAppRoot(ctx, ownerID, appID)
	return err
}

func (s *Store) ListChildren(_ context.Context, parentID uuid.UUID) ([]node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []node.Node
	for _, n := range s.nodes {
		if n.ParentID != nil && *n.ParentID == parentID && !n.IsDeleted() {
			out = append(out, clone(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].IsFolder()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) ListAllChildren(_ context.Context, parentID uuid.UUID) ([]node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []node.Node
	for _, n := range s.nodes {
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, clone(n))
		}
	}
	return out, nil
}

func (s *Store) Rename(_ context.Context, id uuid.UUID, name string, now time.Time) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return node.Node{}, node.ErrNodeNotFound
	}
	if !n.IsDeleted() && s.siblingTaken(n, name) {
		return node.Node{}, node.ErrDuplicateName
	}
	n.Name = name
	n.UpdatedAt = now
	s.nodes[id] = n
	return clone(n), nil
}

func (s *Store) Remove(_ context.Context, id uuid.UUID) (node.Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return node.Node{}, false, nil
	}
	for _, other := range s.nodes {
		if other.ParentID != nil && *other.ParentID == id {
			return node.Node{}, false, node.ErrHasChildren
		}
	}
	delete(s.nodes, id)
	return clone(n), true, nil
}

func (s *Store) Trash(_ context.Context, id uuid.UUID, deletedAt, expiresAt time.Time) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return node.Node{}, node.ErrNodeNotFound
	}
	if n.IsDeleted() {
		return clone(n), nil
	}
	n.DeletedAt, n.ExpiresAt = &deletedAt, &expiresAt
	n.UpdatedAt = deletedAt
	s.nodes[id] = n
	return clone(n), nil
}

func (s *Store) Untrash(_ context.Context, id uuid.UUID, now time.Time) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return node.Node{}, node.ErrNodeNotFound
	}
	if n.IsDeleted() && s.siblingTaken(n, n.Name) {
		return node.Node{}, node.ErrDuplicateName
	}
	n.DeletedAt, n.ExpiresAt = nil, nil
	n.UpdatedAt = now
	s.nodes[id] = n
	return clone(n), nil
}

func (s *Store) ListTrash(_ context.Context, ownerID string) ([]node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []node.Node
	for _, n := range s.nodes {
		if n.OwnerID == ownerID && n.IsDeleted() {
			out = append(out, clone(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(*out[j].DeletedAt) })
	return out, nil
}

func (s *Store) ListExpiredTrash(_ context.Context, ownerID string, before time.Time, limit int) ([]node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []node.Node
	for _, n := range s.nodes {
		if n.OwnerID == ownerID && s.expired(n, before) {
			out = append(out, clone(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) OwnersWithExpiredTrash(_ context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, n := range s.nodes {
		if s.expired(n, before) {
			seen[n.OwnerID] = struct{}{}
		}
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	if len(owners) > limit {
		owners = owners[:limit]
	}
	return owners, nil
}

func (s *Store) HasTrashedAncestor(_ context.Context, n node.Node) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range n.Path {
		if ancestor, ok := s.nodes[id]; ok && ancestor.IsDeleted() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ClearMainFolders(_ context.Context, ownerID, appID string, keep uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.nodes {
		if id == keep || n.OwnerID != ownerID || n.Folder == nil || !n.Folder.IsMainFolder {
			continue
		}
		if app, ok := n.Namespace.AppID(); !ok || app != appID {
			continue
		}
		folder := *n.Folder
		folder.IsMainFolder = false
		n.Folder = &folder
		n.UpdatedAt = now
		s.nodes[id] = n
	}
	return nil
}

func (s *Store) MarkMainFolder(_ context.Context, id uuid.UUID, now time.Time) (node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || !n.IsFolder() {
		return node.Node{}, node.ErrNodeNotFound
	}
	for otherID, other := range s.nodes {
		if otherID != id && other.OwnerID == n.OwnerID && other.Namespace.Equal(n.Namespace) &&
			other.Folder != nil && other.Folder.IsMainFolder {
			return node.Node{}, node.ErrMainFolderConflict
		}
	}
	folder := *n.Folder
	folder.IsMainFolder = true
	n.Folder = &folder
	n.UpdatedAt = now
	s.nodes[id] = n
	return clone(n), nil
}

func (s *Store) findRoot(ownerID, appID string) (node.Node, bool) {
	for _, n := range s.nodes {
		if n.OwnerID != ownerID || !n.IsAppRoot() {
			continue
		}
		if app, ok := n.Namespace.AppID(); ok && app == appID {
			return n, true
		}
	}
	return node.Node{}, false
}

// siblingTaken mirrors the partial unique index on active sibling names.
func (s *Store) siblingTaken(n node.Node, name string) bool {
	if n.ParentID == nil {
		return false
	}
	for id, other := range s.nodes {
		if id == n.ID || other.IsDeleted() || other.ParentID == nil {
			continue
		}
		if *other.ParentID == *n.ParentID && other.OwnerID == n.OwnerID && other.Kind == n.Kind &&
			other.Namespace.Equal(n.Namespace) && other.Name == name && !n.Namespace.IsLegacy() {
			return true
		}
	}
	return false
}

func (s *Store) expired(n node.Node, before time.Time) bool {
	return n.IsDeleted() && n.ExpiresAt != nil && n.ExpiresAt.Before(before)
}

func clone(n node.Node) node.Node {
	n.Path = append([]uuid.UUID{}, n.Path...)
	if n.File != nil {
		f := *n.File
		n.File = &f
	}
	if n.Folder != nil {
		f := *n.Folder
		n.Folder = &f
	}
	if n.ParentID != nil {
		p := *n.ParentID
		n.ParentID = &p
	}
	return n
}
