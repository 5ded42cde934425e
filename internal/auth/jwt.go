package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier accepts HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret  []byte
	parser  *jwt.Parser
	nowFunc func() time.Time
}

type identityClaims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// NewJWTVerifier builds a verifier. Empty issuer or audience disables that check.
func NewJWTVerifier(secret, issuer, audience string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	v := &JWTVerifier{secret: []byte(secret), nowFunc: time.Now}
	opts = append(opts, jwt.WithTimeFunc(func() time.Time { return v.nowFunc() }))
	v.parser = jwt.NewParser(opts...)
	return v
}

// Verify checks the signature and standard claims and extracts the subject.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, ErrInvalidToken
	}

	var claims identityClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}

	identity := Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		IsAdmin: claims.IsAdmin,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}
