// Package node models the unified file/folder tree and persists it as a flat
// table keyed by id. Traversal goes through parent ids and ancestor paths,
// never through embedded child pointers.
package node

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the variant of a node.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Namespace is the application a node belongs to. Nodes written before
// application scoping existed carry a legacy namespace.
type Namespace struct {
	appID string
	owned bool
}

// Owned returns the namespace of application appID.
func Owned(appID string) Namespace {
	return Namespace{appID: appID, owned: true}
}

// Legacy returns the namespace of un-migrated nodes without an application.
func Legacy() Namespace {
	return Namespace{}
}

// AppID returns the application id and false for legacy nodes.
func (n Namespace) AppID() (string, bool) {
	return n.appID, n.owned
}

// IsLegacy reports whether the namespace has no application.
func (n Namespace) IsLegacy() bool {
	return !n.owned
}

// Equal reports whether both namespaces name the same application.
func (n Namespace) Equal(other Namespace) bool {
	return n.owned == other.owned && n.appID == other.appID
}

func (n Namespace) String() string {
	if !n.owned {
		return "legacy"
	}
	return n.appID
}

// MarshalJSON encodes the app id, or null for legacy nodes.
func (n Namespace) MarshalJSON() ([]byte, error) {
	if !n.owned {
		return []byte("null"), nil
	}
	return json.Marshal(n.appID)
}

// UnmarshalJSON decodes an app id or null.
func (n *Namespace) UnmarshalJSON(data []byte) error {
	var appID *string
	if err := json.Unmarshal(data, &appID); err != nil {
		return err
	}
	if appID == nil {
		*n = Legacy()
		return nil
	}
	*n = Owned(*appID)
	return nil
}

// FileInfo holds the attributes only files have.
type FileInfo struct {
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	BlobKey   string `json:"-"`
}

// FolderInfo holds the attributes only folders have.
type FolderInfo struct {
	IsAppRoot    bool `json:"is_app_root"`
	IsMainFolder bool `json:"is_main_folder"`
}

// Node is a file or a folder. Exactly one of File and Folder is set,
// matching Kind.
type Node struct {
	ID        uuid.UUID   `json:"id"`
	OwnerID   string      `json:"owner_id"`
	Kind      Kind        `json:"kind"`
	Name      string      `json:"name"`
	ParentID  *uuid.UUID  `json:"parent_id"`
	Path      []uuid.UUID `json:"path"`
	Namespace Namespace   `json:"app_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`

	File   *FileInfo   `json:"file,omitempty"`
	Folder *FolderInfo `json:"folder,omitempty"`
}

// NewFolder builds a folder node under parent. A nil parent yields an app root.
func NewFolder(id uuid.UUID, ownerID string, ns Namespace, parent *Node, name string, now time.Time) Node {
	n := Node{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      KindFolder,
		Name:      name,
		Path:      []uuid.UUID{},
		Namespace: ns,
		CreatedAt: now,
		UpdatedAt: now,
		Folder:    &FolderInfo{},
	}
	if parent == nil {
		n.Folder.IsAppRoot = true
		return n
	}
	parentID := parent.ID
	n.ParentID = &parentID
	n.Path = parent.ChildPath()
	return n
}

// NewFile builds a file node under parent.
func NewFile(id uuid.UUID, ownerID string, ns Namespace, parent Node, name string, info FileInfo, now time.Time) Node {
	parentID := parent.ID
	return Node{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      KindFile,
		Name:      name,
		ParentID:  &parentID,
		Path:      parent.ChildPath(),
		Namespace: ns,
		CreatedAt: now,
		UpdatedAt: now,
		File:      &info,
	}
}

// IsFile reports whether the node is a file.
func (n Node) IsFile() bool { return n.Kind == KindFile }

// IsFolder reports whether the node is a folder.
func (n Node) IsFolder() bool { return n.Kind == KindFolder }

// IsDeleted reports whether the node sits in the trash.
func (n Node) IsDeleted() bool { return n.DeletedAt != nil }

// IsAppRoot reports whether the node is the root folder of its application.
func (n Node) IsAppRoot() bool { return n.Folder != nil && n.Folder.IsAppRoot }

// SizeBytes returns the file size, zero for folders.
func (n Node) SizeBytes() int64 {
	if n.File == nil {
		return 0
	}
	return n.File.SizeBytes
}

// ChildPath returns the ancestor path of a direct child of n.
func (n Node) ChildPath() []uuid.UUID {
	path := make([]uuid.UUID, 0, len(n.Path)+1)
	path = append(path, n.Path...)
	return append(path, n.ID)
}
