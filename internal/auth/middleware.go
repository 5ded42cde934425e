package auth

import (
	"strings"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/gin-gonic/gin"
)

type contextKey string

const identityContextKey contextKey = "appdriveIdentity"

// Middleware validates bearer tokens and injects the verified identity.
func Middleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apperr.Respond(c, ErrUnauthorized)
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			apperr.Respond(c, ErrInvalidToken)
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		c.Set(string(identityContextKey), identity)
		c.Next()
	}
}

// RequireAdmin rejects callers whose identity lacks operator rights.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			apperr.Respond(c, ErrUnauthorized)
			return
		}
		if !identity.IsAdmin {
			apperr.Respond(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// CurrentIdentity extracts the verified identity from the context.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(string(identityContextKey))
	if !exists {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

// RequireSubject returns the verified subject id, writing a 401 when absent.
func RequireSubject(c *gin.Context) (string, bool) {
	identity, ok := CurrentIdentity(c)
	if !ok || identity.Subject == "" {
		apperr.Respond(c, ErrUnauthorized)
		return "", false
	}
	return identity.Subject, true
}

func extractBearerToken(header string) string {
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
