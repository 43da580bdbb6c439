package bootstrap

import (
	"sort"

	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

// RequiredPermissions lists every permission the specs check, plus the
// wildcard, sorted
func RequiredPermissions(specs []*tablespec.TableSpec) []string {
	set := map[string]bool{persistence.WildcardPermission: true}
	for _, spec := range specs {
		if p := spec.AdminPermission(); p != "" {
			set[p] = true
		}
		if p := spec.UserPermission(); p != "" {
			set[p] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
