package ownership

import "github.com/abduss/appdrive/internal/apperr"

var (
	ErrInvalidAppID   = apperr.New(apperr.KindInvalidArgument, "invalid_app_id", "application id is invalid")
	ErrParentNotFound = apperr.New(apperr.KindNotFound, "parent_not_found", "parent folder not found")
	ErrParentNotOwned = apperr.New(apperr.KindPermissionDenied, "parent_not_owned", "parent folder belongs to another account")
	ErrNotAFolder     = apperr.New(apperr.KindInvalidArgument, "not_a_folder", "node is not a folder")
	ErrLegacyParent   = apperr.New(apperr.KindPermissionDenied, "legacy_parent", "parent folder has no application and must be migrated first")
	ErrAppMismatch    = apperr.New(apperr.KindPermissionDenied, "app_mismatch", "parent folder belongs to another application")
)
