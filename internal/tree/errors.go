package tree

import "github.com/abduss/appdrive/internal/apperr"

var (
	// ErrInvalidName rejects empty names, path separators, dot entries and overlong names.
	ErrInvalidName = apperr.New(apperr.KindInvalidArgument, "invalid_name", "invalid node name")
	// ErrNotAFile is returned when a file operation targets a folder.
	ErrNotAFile = apperr.New(apperr.KindInvalidArgument, "not_a_file", "node is not a file")
	// ErrNodeInTrash is returned when mutating a node that sits in the trash.
	ErrNodeInTrash = apperr.New(apperr.KindInvalidState, "node_in_trash", "node is in the trash")
	// ErrNotInTrash is returned when restoring a node that is not trashed.
	ErrNotInTrash = apperr.New(apperr.KindInvalidState, "not_in_trash", "node is not in the trash")
	// ErrParentInTrash is returned when restoring a node whose parent is still trashed.
	ErrParentInTrash = apperr.New(apperr.KindInvalidState, "parent_in_trash", "restore the parent folder first")
	// ErrAppRootProtected is returned when trashing or renaming an application root.
	ErrAppRootProtected = apperr.New(apperr.KindInvalidState, "app_root_protected", "application root folders cannot be trashed or renamed")
)
