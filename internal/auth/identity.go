// Package auth verifies identity tokens and exposes the verified subject to
// handlers. Token issuance belongs to the external identity provider.
package auth

import (
	"context"
	"time"
)

// Identity is the verified principal behind a request.
type Identity struct {
	Subject   string
	Email     string
	IsAdmin   bool
	ExpiresAt time.Time
}

// Verifier validates a bearer token and returns its subject.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
