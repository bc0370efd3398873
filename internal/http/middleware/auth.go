// Package middleware – API key authentication
//
// RequireAPIKey authenticates the credential from X-UCP-API-Key (or the
// ucp_api_key query parameter) for a permission level. The resulting key is
// stored in the Gin context and in the request context.Context through
// services.WithPrincipal; nothing is kept in globals.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

const (
	// APIKeyHeader carries "key_id:secret".
	APIKeyHeader = "X-UCP-API-Key"
	// APIKeyQueryParam is the fallback for clients that cannot set headers.
	APIKeyQueryParam = "ucp_api_key"

	principalKey = "principal"
)

// Authenticator resolves a credential for a required permission.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string, required domain.Permission) (*domain.APIKey, error)
}

// Credential returns the raw credential presented by the request.
func Credential(c *gin.Context) string {
	if v := c.GetHeader(APIKeyHeader); v != "" {
		return v
	}
	return c.Query(APIKeyQueryParam)
}

// RequireAPIKey rejects requests that do not satisfy perm. For read routes
// an absent credential is allowed through anonymously.
func RequireAPIKey(auth Authenticator, perm domain.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		k, err := auth.Authenticate(c.Request.Context(), Credential(c), perm)
		if err != nil {
			abortAuth(c, err)
			return
		}
		if k != nil {
			c.Set(principalKey, k)
			c.Set(apiKeyIDKey, k.KeyID)
			ctx := services.WithPrincipal(c.Request.Context(), k)
			c.Request = c.Request.WithContext(ctx)
			setRequestLogger(c, LoggerFrom(c).With().Str("api_key_id", k.KeyID).Logger())
		}
		c.Next()
	}
}

// RequireKey is RequireAPIKey that also refuses anonymous read access.
func RequireKey(auth Authenticator, perm domain.Permission) gin.HandlerFunc {
	inner := RequireAPIKey(auth, perm)
	return func(c *gin.Context) {
		if Credential(c) == "" {
			abortAuth(c, services.ErrAuthRequired)
			return
		}
		inner(c)
	}
}

// Principal returns the authenticated key stored by RequireAPIKey, or nil.
func Principal(c *gin.Context) *domain.APIKey {
	if v, ok := c.Get(principalKey); ok {
		if k, ok := v.(*domain.APIKey); ok {
			return k
		}
	}
	return nil
}

func abortAuth(c *gin.Context, err error) {
	status, code := http.StatusUnauthorized, "unauthorized"
	switch {
	case errors.Is(err, services.ErrAuthRequired):
		code = "auth_required"
	case errors.Is(err, services.ErrInvalidFormat):
		code = "invalid_api_key_format"
	case errors.Is(err, services.ErrInvalidKey):
		code = "invalid_api_key"
	case errors.Is(err, services.ErrInsufficientPermission):
		status, code = http.StatusForbidden, "insufficient_permission"
	default:
		LoggerFrom(c).Error().Err(err).Msg("authentication failed")
		status, code, err = http.StatusInternalServerError, "internal_error", errors.New("internal server error")
	}
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": asString(rid),
		"code":       code,
		"message":    err.Error(),
	})
}
