package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// PermissionStore is the storage behind PermissionService
type PermissionStore interface {
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// PermissionService resolves permission checks from role assignments
type PermissionService struct {
	store  PermissionStore
	logger logger.Logger
}

var _ ports.PermissionChecker = (*PermissionService)(nil)

// NewPermissionService creates a new PermissionService
func NewPermissionService(store PermissionStore, log logger.Logger) *PermissionService {
	return &PermissionService{store: store, logger: log}
}

// HasPermission reports whether user holds permission. Anonymous callers
// hold nothing.
func (ps *PermissionService) HasPermission(ctx context.Context, user *visibility.User, permission string) (bool, error) {
	if user == nil || user.ID == "" {
		return false, nil
	}
	ok, err := ps.store.HasPermission(context.WithoutCancel(ctx), user.ID, permission)
	if err != nil {
		return false, err
	}
	if !ok {
		ps.logger.Debug("permission denied",
			zap.String("user", user.ID),
			zap.String("permission", permission))
	}
	return ok, nil
}
