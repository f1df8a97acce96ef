package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Archan-07/my-chat-app/internal/domain"
	"github.com/Archan-07/my-chat-app/pkg/response"
)

const (
	identityKey   = "identity"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// RequireAuth returns a gin middleware that resolves the bearer token and
// stores the identity on the request context.
func RequireAuth(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromHeader(c.GetHeader(AuthHeaderKey))
		if token == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			if IsAuthError(err) {
				response.Unauthorized(c, err.Error())
			} else {
				response.InternalError(c, "failed to validate token")
			}
			c.Abort()
			return
		}

		c.Set(identityKey, *identity)
		c.Next()
	}
}

// TokenFromHeader strips the Bearer prefix from an Authorization header.
func TokenFromHeader(header string) string {
	if strings.HasPrefix(header, BearerPrefix) {
		return strings.TrimPrefix(header, BearerPrefix)
	}
	return ""
}

// GetIdentity extracts the resolved identity from the gin context.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}
