package persistence

// SQL column types used by the DDL renderer
const (
	SQLTypeVarchar64  = "VARCHAR(64)"
	SQLTypeText       = "TEXT"
	SQLTypeLongText   = "LONGTEXT"
	SQLTypeBigInt     = "BIGINT"
	SQLTypeInteger    = "INTEGER"
	SQLTypeBoolean    = "BOOLEAN"
	SQLTypeDateTime   = "DATETIME"
	SQLTypeDateTime6  = "DATETIME(6)"
	SQLTypeJSON       = "JSON"
	mysqlTableOptions = "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
)

// Engine bookkeeping tables
const (
	TableAuditLog    = "audit_log"
	TableRecordLocks = "record_locks"
	TableUserRoles   = "user_roles"
)

// TableRolePermissions is the join table behind the roles.permissions tag
// column. It is declared in the table descriptors, not here.
const TableRolePermissions = "role_permissions"
