package tablespec

import (
	"sync"

	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/store"
)

// Entity binds a TableSpec to the accessor that serves it and to one join
// accessor per tagsMany column
type Entity struct {
	Spec     *TableSpec
	Accessor store.Accessor
	joins    map[string]store.Accessor
}

// NewEntity checks that every tagsMany column of spec has a join accessor
// and that joins names no other column
func NewEntity(spec *TableSpec, accessor store.Accessor, joins map[string]store.Accessor) (*Entity, error) {
	if spec == nil || accessor == nil {
		return nil, errors.NewSchemaError("", "", "entity needs a table spec and an accessor")
	}
	e := &Entity{Spec: spec, Accessor: accessor, joins: make(map[string]store.Accessor, len(joins))}
	for name, join := range joins {
		col, err := spec.GetColumn(name)
		if err != nil {
			return nil, err
		}
		if col.Kind != KindTagsMany {
			return nil, errors.NewSchemaError(spec.Name(), name, "join accessor registered for a column that is not tagsMany")
		}
		e.joins[name] = join
	}
	for _, col := range spec.TagColumns() {
		if e.joins[col.Name] == nil {
			return nil, errors.NewSchemaError(spec.Name(), col.Name, "tagsMany column has no join accessor")
		}
	}
	return e, nil
}

// Join returns the join accessor of a tagsMany column
func (e *Entity) Join(column string) (store.Accessor, error) {
	join, ok := e.joins[column]
	if !ok {
		return nil, errors.NewSchemaError(e.Spec.Name(), column, "no join accessor")
	}
	return join, nil
}

// Name is the table name
func (e *Entity) Name() string {
	return e.Spec.Name()
}

// Registry holds the entities of one engine instance. It is built at
// startup and passed to the services that need it.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*Entity)}
}

// Register adds e. A table may be registered once.
func (r *Registry) Register(e *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entities[e.Name()]; dup {
		return errors.NewSchemaError(e.Name(), "", "table is already registered")
	}
	r.entities[e.Name()] = e
	r.order = append(r.order, e.Name())
	return nil
}

// Entity looks a registered table up. Unknown names are schema errors.
func (r *Registry) Entity(table string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[table]
	if !ok {
		return nil, errors.NewSchemaError(table, "", "unknown table")
	}
	return e, nil
}

// Tables returns the registered table names in registration order
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Describe returns the description of every registered table
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name].Spec.Describe())
	}
	return out
}
