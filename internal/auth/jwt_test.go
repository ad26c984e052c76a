package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundTrip(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "attendgate", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(pair.AccessToken, "secret", "attendgate")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "attendgate", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "attendgate")
	assert.Error(t, err)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "someone-else", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "attendgate")
	assert.Error(t, err)
}

func TestParseRejectsRefreshToken(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "attendgate", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.RefreshToken, "secret", "attendgate")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "attendgate", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "attendgate")
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(role string, middleware gin.HandlerFunc) int {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Set(ContextClaimsKey, Claims{Subject: "u1", Role: role})
			c.Next()
		})
		r.GET("/", middleware, func(c *gin.Context) { c.Status(http.StatusOK) })
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve(RoleTeacher, RequireRole(RoleTeacher)))
	assert.Equal(t, http.StatusForbidden, serve(RoleStudent, RequireRole(RoleTeacher)))
	// Admin passes role gates it is not listed in.
	assert.Equal(t, http.StatusOK, serve(RoleAdmin, RequireRole(RoleTeacher)))
}

func TestAuthenticatedMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Authenticated("secret", "attendgate"), func(c *gin.Context) {
		claims, ok := FromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject})
	})

	pair, err := Issue("stu-1", RoleStudent, "attendgate", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stu-1")

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
}
