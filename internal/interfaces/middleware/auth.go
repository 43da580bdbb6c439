package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/pkg/auth"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

const headerAuthorization = "Authorization"

// BearerResolver resolves the caller from an HS256 bearer token
type BearerResolver struct {
	issuer *auth.TokenIssuer
}

var _ ports.CurrentUserResolver = (*BearerResolver)(nil)

func NewBearerResolver(issuer *auth.TokenIssuer) *BearerResolver {
	return &BearerResolver{issuer: issuer}
}

// Resolve returns nil for requests without an Authorization header
func (r *BearerResolver) Resolve(_ context.Context, req *http.Request) (*visibility.User, error) {
	header := req.Header.Get(headerAuthorization)
	if header == "" {
		return nil, nil
	}

	// Extract token (format: "Bearer <token>")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.NewUnauthorizedError("invalid authorization header format")
	}

	claims, err := r.issuer.ValidateToken(parts[1])
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}
	user := claims.User
	return &user, nil
}

// ResolveUser stores the caller in the request context. Anonymous requests
// pass through; a request with a bad token is rejected.
func ResolveUser(resolver ports.CurrentUserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolver.Resolve(c.Request.Context(), c.Request)
		if err != nil {
			if !errors.IsUnauthorized(err) {
				err = errors.NewUnauthorizedError(err.Error())
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToResponse(err))
			return
		}
		if user != nil {
			c.Request = c.Request.WithContext(visibility.WithUser(c.Request.Context(), user))
		}
		c.Next()
	}
}
