package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/internal/domain/models"
)

func TestAuditRepositoryAppendAndList(t *testing.T) {
	conn := openSQLite(t, AuditTableDefinition())
	repo := NewAuditRepository(conn.DB())
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Append(ctx,
		models.AuditRecord{
			Action:      models.ActionInsert,
			Table:       "events",
			PK:          "e1",
			NewValues:   map[string]interface{}{"title": "Go"},
			Context:     "user/primary",
			ActorUserID: "u1",
			Timestamp:   at,
		},
		models.AuditRecord{
			Action:    models.ActionUpdate,
			Table:     "events",
			PK:        "e1",
			OldValues: map[string]interface{}{"title": "Go"},
			NewValues: map[string]interface{}{"title": "Rust"},
			Context:   "admin/primary",
			Timestamp: at.Add(time.Second),
		},
		models.AuditRecord{Action: models.ActionInsert, Table: "events", PK: "e2", Context: "user/primary"},
	))

	records, err := repo.List(ctx, "events", "e1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, models.ActionUpdate, records[0].Action)
	assert.Equal(t, map[string]interface{}{"title": "Rust"}, records[0].NewValues)
	assert.Empty(t, records[0].ActorUserID)
	assert.True(t, records[0].Timestamp.Equal(at.Add(time.Second)))

	assert.Equal(t, models.ActionInsert, records[1].Action)
	assert.Nil(t, records[1].OldValues)
	assert.Equal(t, "u1", records[1].ActorUserID)
	assert.Equal(t, "user/primary", records[1].Context)
	assert.Len(t, records[1].ID, 26)
}

func TestAuditRepositoryAppendJoinsTransaction(t *testing.T) {
	conn := openSQLite(t, AuditTableDefinition())
	repo := NewAuditRepository(conn.DB())
	tm := NewTransactionManager(conn.DB())
	ctx := context.Background()

	boom := errors.New("boom")
	err := tm.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Append(ctx, models.AuditRecord{Action: models.ActionDelete, Table: "events", PK: "e1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	records, err := repo.List(ctx, "events", "e1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
