package auth

import "github.com/abduss/appdrive/internal/apperr"

var (
	// ErrInvalidToken represents a malformed, unsigned or otherwise unacceptable token.
	ErrInvalidToken = apperr.New(apperr.KindUnauthenticated, "invalid_token", "invalid token")
	// ErrExpiredToken represents a well-formed token past its expiry.
	ErrExpiredToken = apperr.New(apperr.KindUnauthenticated, "expired_token", "token expired")
	// ErrUnauthorized represents a request without usable credentials.
	ErrUnauthorized = apperr.New(apperr.KindUnauthenticated, "unauthorized", "unauthorized")
	// ErrForbidden rejects authenticated callers lacking operator rights.
	ErrForbidden = apperr.New(apperr.KindPermissionDenied, "forbidden", "operator access required")
)
