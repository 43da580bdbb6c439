// Package visibility carries the per-request intention context and turns it
// into the row predicate every read is filtered by.
package visibility

import (
	"context"
	"fmt"
	"strings"
)

// Intention is the scope a request reads or writes under
type Intention int

const (
	IntentionPublic Intention = iota
	IntentionUser
	IntentionAdmin
)

var intentionNames = map[Intention]string{
	IntentionPublic: "public",
	IntentionUser:   "user",
	IntentionAdmin:  "admin",
}

func (i Intention) String() string {
	if name, ok := intentionNames[i]; ok {
		return name
	}
	return fmt.Sprintf("intention(%d)", int(i))
}

// AtLeast reports whether i grants at least the scope of other
func (i Intention) AtLeast(other Intention) bool {
	return i >= other
}

// ParseIntention parses "public", "user" or "admin"
func ParseIntention(s string) (Intention, error) {
	for intention, name := range intentionNames {
		if strings.EqualFold(s, name) {
			return intention, nil
		}
	}
	return IntentionPublic, fmt.Errorf("unknown intention %q", s)
}

func (i Intention) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Intention) UnmarshalText(text []byte) error {
	parsed, err := ParseIntention(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Mode distinguishes ordinary table screens from association matrix editors
type Mode int

const (
	ModePrimary Mode = iota
	ModeAssociationMatrix
)

func (m Mode) String() string {
	if m == ModeAssociationMatrix {
		return "associationMatrix"
	}
	return "primary"
}

// Row visibility levels stored in a table's permission column
const (
	PermissionPublic = "public"
	PermissionMember = "member"
)

// User is the resolved caller
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Context is the per-request intention context. It is built once per request
// and never persisted.
type Context struct {
	Intention      Intention
	Mode           Mode
	CurrentUser    *User
	IncludeDeleted bool
}

// Public returns an anonymous public context
func Public() Context {
	return Context{Intention: IntentionPublic}
}

// ForUser returns a user-intention context
func ForUser(u *User) Context {
	return Context{Intention: IntentionUser, CurrentUser: u}
}

// ForAdmin returns an admin-intention context
func ForAdmin(u *User) Context {
	return Context{Intention: IntentionAdmin, CurrentUser: u}
}

// UserID returns the current user's id or "" when anonymous
func (c Context) UserID() string {
	if c.CurrentUser == nil {
		return ""
	}
	return c.CurrentUser.ID
}

// Describe renders the context for audit records, e.g. "admin/primary"
func (c Context) Describe() string {
	return c.Intention.String() + "/" + c.Mode.String()
}

type userContextKey struct{}

// WithUser stores the resolved caller in ctx
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFrom returns the caller stored by WithUser, or nil
func UserFrom(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey{}).(*User)
	return u
}
