package share

import "github.com/abduss/appdrive/internal/apperr"

var (
	ErrShareNotFound = apperr.New(apperr.KindNotFound, "share_not_found", "share link not found")
	ErrShareExpired  = apperr.New(apperr.KindInvalidState, "share_expired", "share link expired")
	ErrShareRevoked  = apperr.New(apperr.KindInvalidState, "share_revoked", "share link revoked")
	ErrFileNotFound  = apperr.New(apperr.KindNotFound, "file_not_found", "file not found")
	ErrFileDeleted   = apperr.New(apperr.KindNotFound, "file_deleted", "shared file was deleted")
	ErrNotOwner      = apperr.New(apperr.KindPermissionDenied, "not_owner", "caller does not own the file")
	ErrNotAFile      = apperr.New(apperr.KindInvalidArgument, "not_a_file", "only files can be shared")
	ErrInvalidTTL    = apperr.New(apperr.KindInvalidArgument, "invalid_ttl", "share ttl exceeds the allowed maximum")

	errTokenTaken = apperr.New(apperr.KindConflict, "share_token_taken", "share token already issued")
)
