package services

import (
	"time"

	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
	"github.com/nexuscrm/tablekit/pkg/expression"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

// Options tunes the services built by NewServiceManager
type Options struct {
	MaxTake       int
	LockTTL       time.Duration
	SweepSchedule string
	// Locks overrides the SQL lock table, e.g. with the Redis lock. The
	// sweeper only runs for the SQL lock table.
	Locks ports.LockProtocol
}

// ServiceManager wires the engine's services over one database connection
type ServiceManager struct {
	Registry    *tablespec.Registry
	TxManager   *persistence.TransactionManager
	Audit       *persistence.AuditRepository
	Users       *persistence.UserRepository
	Locks       ports.LockProtocol
	Rules       *expression.Engine
	Permissions *PermissionService
	QuerySvc    *QueryService
	Mutations   *MutationService
	LockSvc     *LockService
	Sweeper     *LockSweeper
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(conn *database.Connection, registry *tablespec.Registry, rules *expression.Engine, log logger.Logger, opts Options) *ServiceManager {
	db := conn.DB()
	sm := &ServiceManager{
		Registry:  registry,
		TxManager: persistence.NewTransactionManager(db),
		Audit:     persistence.NewAuditRepository(db),
		Users:     persistence.NewUserRepository(db),
		Rules:     rules,
	}

	if opts.Locks != nil {
		sm.Locks = opts.Locks
	} else {
		sqlLocks := persistence.NewLockRepository(db, conn.Dialect())
		sm.Locks = sqlLocks
		if opts.SweepSchedule != "" {
			sm.Sweeper = NewLockSweeper(sqlLocks, log, opts.SweepSchedule)
		}
	}

	sm.Permissions = NewPermissionService(persistence.NewPermissionRepository(db), log)
	sm.QuerySvc = NewQueryService(sm.Permissions, sm.Audit, log, opts.MaxTake)
	sm.Mutations = NewMutationService(sm.TxManager, sm.Permissions, sm.Audit, sm.Locks, rules, log)
	sm.LockSvc = NewLockService(sm.Locks, sm.Permissions, log, opts.LockTTL)
	return sm
}

// StartBackground starts the lock sweeper when there is one
func (sm *ServiceManager) StartBackground() error {
	if sm.Sweeper == nil {
		return nil
	}
	return sm.Sweeper.Start()
}

// StopBackground stops the lock sweeper gracefully
func (sm *ServiceManager) StopBackground() {
	if sm.Sweeper != nil {
		sm.Sweeper.Stop()
	}
}
