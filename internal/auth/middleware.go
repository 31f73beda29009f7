package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"seatcheck/internal/roster"
)

const identityKey = "identity"

// StudentAuth enforces bearer JWT tokens signed with HS256 and stores the
// caller identity on the context.
func StudentAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// IdentityFrom returns the identity set by StudentAuth.
func IdentityFrom(c *gin.Context) (roster.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return roster.Identity{}, false
	}
	id, ok := v.(roster.Identity)
	return id, ok
}
