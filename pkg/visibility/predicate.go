package visibility

import (
	sq "github.com/Masterminds/squirrel"
)

// Columns names the columns of a table that row visibility is decided on.
// Any of them may be empty when the table has no such column.
type Columns struct {
	Permission string `yaml:"permission" json:"permission,omitempty"`
	Owner      string `yaml:"owner" json:"owner,omitempty"`
	Deleted    string `yaml:"deleted" json:"deleted,omitempty"`
}

// BuildPredicate returns the row filter for ctx over a table with the given
// visibility columns. It is pure: the same inputs always yield the same SQL
// and arguments.
//
//	public: permission = 'public'
//	user:   permission IN ('public','member') OR owner = currentUser
//	admin:  no content filter
//
// Deleted rows are excluded for every intention unless an admin asked for
// them. The admin permission itself is enforced by the caller's authorize
// step, not here.
func BuildPredicate(ctx Context, cols Columns) sq.Sqlizer {
	and := sq.And{}

	switch ctx.Intention {
	case IntentionAdmin:
	case IntentionUser:
		if cols.Permission != "" {
			visible := sq.Or{sq.Eq{cols.Permission: []string{PermissionPublic, PermissionMember}}}
			if cols.Owner != "" && ctx.UserID() != "" {
				visible = append(visible, sq.Eq{cols.Owner: ctx.UserID()})
			}
			and = append(and, visible)
		}
	default:
		if cols.Permission != "" {
			and = append(and, sq.Eq{cols.Permission: PermissionPublic})
		}
	}

	if cols.Deleted != "" && !(ctx.Intention == IntentionAdmin && ctx.IncludeDeleted) {
		and = append(and, sq.Eq{cols.Deleted: false})
	}
	return and
}
