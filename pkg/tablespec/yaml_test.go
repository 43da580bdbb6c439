package tablespec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/store"
)

const sampleYAML = `
tables:
  - name: tags
    label: Tags
    columns:
      - {name: id, kind: primaryKey}
      - {name: name, kind: string, flags: [searchable, mutable, required], max_length: 40}
      - {name: color, kind: color, flags: [mutable], default: "#888888"}
  - name: events
    primary_key: id
    admin_permission: events.manage
    visibility: {permission: visible_permission, owner: created_by_user_id, deleted: is_deleted}
    timestamps: {created: created_at, updated: updated_at}
    columns:
      - {name: id, kind: primaryKey}
      - {name: title, kind: string, flags: [searchable, mutable, required]}
      - {name: visible_permission, kind: constEnum, values: [public, member], flags: [queryable, mutable], default: member}
      - {name: created_by_user_id, kind: foreignSingle, target: users, flags: [queryable]}
      - {name: is_deleted, kind: bool}
      - {name: created_at, kind: date, flags: [queryable]}
      - {name: updated_at, kind: date, flags: [queryable]}
      - name: tags
        kind: tagsMany
        target: tags
        join: {table: event_tags, source: event_id, target: tag_id}
        flags: [queryable, mutable]
    params:
      - {name: tag, column: tags, operator: equals}
    rules:
      - {name: title_not_tbd, field: title, condition: "title == 'TBD'", message: "needs a real title"}
`

func TestLoadYAML(t *testing.T) {
	specs, err := LoadYAML(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	tags := specs[0]
	assert.Equal(t, "id", tags.PrimaryKey())
	color, err := tags.GetColumn("color")
	require.NoError(t, err)
	assert.Equal(t, "#888888", color.Default)
	assert.True(t, color.Insertable)

	events := specs[1]
	assert.Equal(t, "events.manage", events.AdminPermission())
	assert.Equal(t, "is_deleted", events.Visibility().Deleted)
	assert.Equal(t, "created_at", events.Timestamps().Created)
	require.Len(t, events.TagColumns(), 1)
	assert.Equal(t, "event_tags", events.TagColumns()[0].Join.Table)
	require.Len(t, events.Rules(), 1)

	p, err := events.Param("tag")
	require.NoError(t, err)
	assert.Equal(t, OpEquals, p.Operator)
}

func TestLoadYAMLErrors(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("tables:\n  - name: x\n    columns:\n      - {name: id, kind: blob}\n"))
	assert.Error(t, err)

	_, err = LoadYAML(strings.NewReader("tables:\n  - name: x\n    columns:\n      - {name: id, kind: primaryKey, flags: [shiny]}\n"))
	assert.Error(t, err)

	_, err = LoadYAML(strings.NewReader("tables:\n  - name: x\n    surprise: true\n"))
	assert.Error(t, err)

	_, err = LoadYAML(strings.NewReader("tables:\n  - name: x\n    columns:\n      - {name: title, kind: string}\n"))
	assert.True(t, errors.IsSchema(err))
}

func TestRegistry(t *testing.T) {
	specs, err := LoadYAML(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	reg := NewRegistry()
	tagEntity, err := NewEntity(specs[0], &recordingJoin{}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(tagEntity))

	_, err = NewEntity(specs[1], &recordingJoin{}, nil)
	assert.True(t, errors.IsSchema(err), "missing join accessor")

	_, err = NewEntity(specs[1], &recordingJoin{}, map[string]store.Accessor{"title": &recordingJoin{}})
	assert.True(t, errors.IsSchema(err), "join on a non-tag column")

	eventEntity, err := NewEntity(specs[1], &recordingJoin{}, map[string]store.Accessor{"tags": &recordingJoin{}})
	require.NoError(t, err)
	require.NoError(t, reg.Register(eventEntity))
	assert.True(t, errors.IsSchema(reg.Register(eventEntity)))

	assert.Equal(t, []string{"tags", "events"}, reg.Tables())
	got, err := reg.Entity("events")
	require.NoError(t, err)
	assert.Same(t, eventEntity, got)

	_, err = got.Join("tags")
	assert.NoError(t, err)
	_, err = got.Join("title")
	assert.True(t, errors.IsSchema(err))

	_, err = reg.Entity("missing")
	assert.True(t, errors.IsSchema(err))
	assert.Len(t, reg.Describe(), 2)
}
