package node

import "github.com/abduss/appdrive/internal/apperr"

var (
	// ErrNodeNotFound is returned when no node exists for the id.
	ErrNodeNotFound = apperr.New(apperr.KindNotFound, "node_not_found", "node not found")
	// ErrDuplicateName is returned when an active sibling of the same kind already uses the name.
	ErrDuplicateName = apperr.New(apperr.KindConflict, "duplicate_name", "a sibling with this name already exists")
	// ErrParentMissing is returned when the parent row vanished underneath an insert.
	ErrParentMissing = apperr.New(apperr.KindNotFound, "parent_not_found", "parent folder not found")
	// ErrHasChildren is returned when a folder still has children at removal time.
	ErrHasChildren = apperr.New(apperr.KindConflict, "folder_not_empty", "folder still has children")
	// ErrMainFolderConflict is returned when another main folder appeared concurrently.
	ErrMainFolderConflict = apperr.New(apperr.KindConflict, "main_folder_conflict", "main folder changed concurrently")
)
