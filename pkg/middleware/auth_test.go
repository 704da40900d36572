package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/live-relay/pkg/jwt"
)

func newEngine(validator TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", NewAuthMiddleware(validator).RequireRole("admin"), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})
	return r
}

func call(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if header != "" {
		req.Header.Set(AuthHeaderKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireRole(t *testing.T) {
	tokens, err := jwt.NewManager("secret", "live-relay")
	require.NoError(t, err)
	r := newEngine(tokens)

	admin, err := tokens.IssueToken("u1", "ops", []string{"admin"}, time.Minute)
	require.NoError(t, err)
	viewer, err := tokens.IssueToken("u2", "fan", []string{"viewer"}, time.Minute)
	require.NoError(t, err)
	expired, err := tokens.IssueToken("u1", "ops", []string{"admin"}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", BearerPrefix + "nope", http.StatusUnauthorized},
		{"expired", BearerPrefix + expired, http.StatusUnauthorized},
		{"wrong role", BearerPrefix + viewer, http.StatusForbidden},
		{"admin", BearerPrefix + admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, call(r, tt.header).Code)
		})
	}

	w := call(r, BearerPrefix+admin)
	assert.Equal(t, "u1", w.Body.String())
}

func TestRequireRoleWithoutValidator(t *testing.T) {
	w := call(newEngine(nil), "Bearer whatever")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "UNAVAILABLE")
}
