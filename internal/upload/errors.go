package upload

import "github.com/abduss/appdrive/internal/apperr"

var (
	ErrSessionNotFound   = apperr.New(apperr.KindNotFound, "session_not_found", "upload session not found")
	ErrSessionNotPending = apperr.New(apperr.KindInvalidState, "session_not_pending", "upload session is no longer pending")
	ErrSessionExpired    = apperr.New(apperr.KindInvalidState, "session_expired", "upload session expired")
	ErrUploadMissing     = apperr.New(apperr.KindInvalidState, "upload_missing", "no uploaded object found for the session")
	ErrSizeMismatch      = apperr.New(apperr.KindInvalidArgument, "size_mismatch", "uploaded size does not match the reported size")
	ErrFileTooLarge      = apperr.New(apperr.KindInvalidArgument, "file_too_large", "file exceeds the maximum upload size")
	ErrInvalidSize       = apperr.New(apperr.KindInvalidArgument, "invalid_size", "file size must be positive")
)
