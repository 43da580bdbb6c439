package ports

import (
	"context"
	"net/http"

	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// CurrentUserResolver resolves the caller of a request.
// A nil user with a nil error means the request is anonymous.
type CurrentUserResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*visibility.User, error)
}

// PermissionChecker answers whether a user holds a named permission
type PermissionChecker interface {
	HasPermission(ctx context.Context, user *visibility.User, permission string) (bool, error)
}
