package services

import (
	"context"
	"fmt"

	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// Actions checked by authorize
const (
	ActionRead   = "read"
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionLock   = "lock"
)

// authorize decides whether ictx may perform action on a table at all.
// Row-level checks (visibility, ownership, locks) happen later.
//
//	public: reads only
//	user:   writes need a current user; the table's user permission, if
//	        declared, is required for every action
//	admin:  the table's admin permission is required
func authorize(ctx context.Context, permissions ports.PermissionChecker, spec *tablespec.TableSpec, ictx visibility.Context, action string) error {
	switch ictx.Intention {
	case visibility.IntentionAdmin:
		return requirePermission(ctx, permissions, spec, ictx, action, spec.AdminPermission())

	case visibility.IntentionUser:
		if action != ActionRead && ictx.CurrentUser == nil {
			return errors.NewAuthorizationError(action, spec.Name(), "")
		}
		if perm := spec.UserPermission(); perm != "" {
			return requirePermission(ctx, permissions, spec, ictx, action, perm)
		}
		return nil

	default:
		if action != ActionRead {
			return errors.NewAuthorizationError(action, spec.Name(), "")
		}
		return nil
	}
}

func requirePermission(ctx context.Context, permissions ports.PermissionChecker, spec *tablespec.TableSpec, ictx visibility.Context, action, permission string) error {
	if ictx.CurrentUser == nil {
		return errors.NewAuthorizationError(action, spec.Name(), permission)
	}
	ok, err := permissions.HasPermission(ctx, ictx.CurrentUser, permission)
	if err != nil {
		return fmt.Errorf("check permission %s: %w", permission, err)
	}
	if !ok {
		return errors.NewAuthorizationError(action, spec.Name(), permission)
	}
	return nil
}
