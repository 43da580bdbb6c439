package bootstrap

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/internal/infrastructure/persistence"
	"github.com/nexuscrm/tablekit/pkg/expression"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

//go:embed tables.yaml
var tablesYAML []byte

// StandardSpecs returns the table descriptors shipped with the service
func StandardSpecs() ([]*tablespec.TableSpec, error) {
	specs, err := tablespec.LoadYAML(bytes.NewReader(tablesYAML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse tables.yaml: %w", err)
	}
	return specs, nil
}

// ValidateRules compiles every record rule so a broken condition fails at
// startup instead of on the first write
func ValidateRules(specs []*tablespec.TableSpec, rules *expression.Engine) error {
	for _, spec := range specs {
		for _, rule := range spec.Rules() {
			if err := rules.Validate(rule.Condition); err != nil {
				return fmt.Errorf("table %s rule %s: %w", spec.Name(), rule.Name, err)
			}
		}
	}
	return nil
}

// LoadRegistry registers every spec over SQL accessors on conn
func LoadRegistry(conn *database.Connection, specs []*tablespec.TableSpec, rules *expression.Engine) (*tablespec.Registry, error) {
	if err := ValidateRules(specs, rules); err != nil {
		return nil, err
	}

	registry := tablespec.NewRegistry()
	for _, spec := range specs {
		entity, err := persistence.NewEntity(conn, spec)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(entity); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
