package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Roles the roster knows about.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// ContextClaimsKey is where authenticated claims live on the gin context.
const ContextClaimsKey = "claims"

// Authenticated enforces bearer JWT tokens signed with HS256.
func Authenticated(signingKey, issuer string) gin.HandlerFunc {
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
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// RequireRole gates a route group to the listed roles. Admin passes
// everywhere.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if claims.Role == RoleAdmin {
			c.Next()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// FromContext extracts claims stored by Authenticated.
func FromContext(c *gin.Context) (Claims, bool) {
	v, exists := c.Get(ContextClaimsKey)
	if !exists {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
