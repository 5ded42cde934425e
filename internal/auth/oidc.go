package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCVerifier validates ID tokens issued by an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

// NewOIDCVerifier discovers the issuer's keys and builds a verifier for clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, client *http.Client) (*OIDCVerifier, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("create oidc provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		client:   client,
	}, nil
}

// Verify validates the ID token and extracts its subject.
func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return Identity{}, ErrInvalidToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	var claims struct {
		Email   string `json:"email"`
		IsAdmin bool   `json:"is_admin"`
	}
	if err := token.Claims(&claims); err != nil {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		Subject:   token.Subject,
		Email:     claims.Email,
		IsAdmin:   claims.IsAdmin,
		ExpiresAt: token.Expiry,
	}, nil
}
