package bootstrap

import (
	"github.com/nexuscrm/tablekit/internal/domain/schema"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
)

// SystemTableDefinitions returns the tables the engine itself writes to:
// the audit log, the edit locks and the role assignments
func SystemTableDefinitions() []schema.TableDefinition {
	return []schema.TableDefinition{
		persistence.AuditTableDefinition(),
		persistence.LockTableDefinition(),
		persistence.UserRolesTableDefinition(),
	}
}
