package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/pkg/auth"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

func newRouter(issuer *auth.TokenIssuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Cors(), ResolveUser(NewBearerResolver(issuer)))
	r.GET("/whoami", func(c *gin.Context) {
		u := visibility.UserFrom(c.Request.Context())
		if u == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, u.ID)
	})
	return r
}

func TestResolveUser(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	r := newRouter(issuer)
	token, err := issuer.GenerateToken(visibility.User{ID: "alice"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{name: "anonymous", code: http.StatusOK, body: "anonymous"},
		{name: "bearer", header: "Bearer " + token, code: http.StatusOK, body: "alice"},
		{name: "wrong scheme", header: "Basic " + token, code: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestTokenFromOtherSecretIsRejected(t *testing.T) {
	r := newRouter(auth.NewTokenIssuer("secret", time.Hour))
	token, err := auth.NewTokenIssuer("other", time.Hour).GenerateToken(visibility.User{ID: "mallory"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCorsPreflight(t *testing.T) {
	r := newRouter(auth.NewTokenIssuer("secret", time.Hour))

	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
