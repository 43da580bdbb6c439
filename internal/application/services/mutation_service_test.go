package services

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/pkg/changeplan"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

func TestMutateInsertStampsOwnerDefaultsAndAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.mutations.Mutate(ctx, env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": "Go meetup", "tags": []any{"go", "meetup"}},
	}, visibility.ForUser(alice))
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Equal(t, "alice", res.Row["owner_id"])
	assert.Equal(t, "private", res.Row["permission"])
	assert.Equal(t, false, res.Row["is_deleted"])
	assert.Equal(t, false, res.Row["featured"])
	assert.Equal(t, []string{"go", "meetup"}, res.Row["tags"])
	assert.NotEmpty(t, res.Row["created_at"])

	row, err := env.queries.Get(ctx, env.events, res.ID, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, "Go meetup", row["title"])
	assert.Equal(t, []string{"go", "meetup"}, row["tags"])

	records, err := env.audit.List(ctx, "events", res.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ActionInsert, records[0].Action)
	assert.Equal(t, "alice", records[0].ActorUserID)
	assert.Equal(t, "user/primary", records[0].Context)
	assert.Equal(t, "Go meetup", records[0].NewValues["title"])
	assert.Nil(t, records[0].OldValues)

	links, err := env.audit.List(ctx, "event_tags", res.ID+"/go", 10)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, models.ActionInsert, links[0].Action)
}

func TestMutateTagChangeAuditsOneCreateAndOneDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.insert(t, env.events, alice, map[string]any{"title": "Retro", "tags": []string{"a", "b"}})

	res, err := env.mutations.Mutate(ctx, env.events, Operation{
		Action: models.ActionUpdate,
		ID:     id,
		Values: map[string]any{"tags": []string{"b", "c"}},
	}, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, res.Row["tags"])

	removed, err := env.audit.List(ctx, "event_tags", id+"/a", 10)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, models.ActionDelete, removed[0].Action)
	assert.Equal(t, map[string]interface{}{"event_id": id, "tag_id": "a"}, removed[0].OldValues)

	created, err := env.audit.List(ctx, "event_tags", id+"/c", 10)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.ActionInsert, created[0].Action)

	kept, err := env.audit.List(ctx, "event_tags", id+"/b", 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1, "an unchanged link is not audited again")

	primary, err := env.audit.List(ctx, "events", id, 10)
	require.NoError(t, err)
	require.Len(t, primary, 2)
	assert.Equal(t, models.ActionUpdate, primary[0].Action)
	assert.Equal(t, []interface{}{"a", "b"}, primary[0].OldValues["tags"])
	assert.Equal(t, []interface{}{"b", "c"}, primary[0].NewValues["tags"])
}

func TestMutateTagReorderIsNotAChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.mutations.now = func() time.Time { return clock }
	id := env.insert(t, env.events, alice, map[string]any{"title": "Retro", "tags": []string{"a", "b"}})
	before, err := env.queries.Get(ctx, env.events, id, visibility.ForUser(alice))
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	_, err = env.mutations.Mutate(ctx, env.events, Operation{
		Action: models.ActionUpdate,
		ID:     id,
		Values: map[string]any{"tags": []string{"b", "a", "b"}},
	}, visibility.ForUser(alice))
	require.NoError(t, err)

	after, err := env.queries.Get(ctx, env.events, id, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, before["updated_at"], after["updated_at"])
	assert.Equal(t, []string{"a", "b"}, after["tags"])

	primary, err := env.audit.List(ctx, "events", id, 10)
	require.NoError(t, err)
	require.Len(t, primary, 2)
	assert.Equal(t, models.ActionUpdate, primary[0].Action)
	assert.NotContains(t, primary[0].NewValues, "tags")
	assert.NotContains(t, primary[0].OldValues, "tags")

	for _, tag := range []string{"a", "b"} {
		links, err := env.audit.List(ctx, "event_tags", id+"/"+tag, 10)
		require.NoError(t, err)
		assert.Len(t, links, 1, tag)
	}
}

func TestMutateRepeatedTagsAreStoredOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.mutations.Mutate(ctx, env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": "Go night", "tags": []string{"go", "go", "db"}},
	}, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "db"}, res.Row["tags"])

	records, err := env.audit.List(ctx, "events", res.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []interface{}{"go", "db"}, records[0].NewValues["tags"])

	res, err = env.mutations.Mutate(ctx, env.events, Operation{
		Action: models.ActionUpdate,
		ID:     res.ID,
		Values: map[string]any{"tags": []string{"db", "sql", "sql"}},
	}, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "sql"}, res.Row["tags"])

	records, err = env.audit.List(ctx, "events", res.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []interface{}{"db", "sql"}, records[0].NewValues["tags"])
}

func TestMutateTagCommitFailureRollsBackPrimaryUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.insert(t, env.events, alice, map[string]any{"title": "Before"})

	join, err := env.events.Join("tags")
	require.NoError(t, err)
	broken := withAccessor(t, env.events, env.events.Accessor, map[string]store.Accessor{
		"tags": &failingAccessor{Accessor: join, createErr: errInjected},
	})

	_, err = env.mutations.Mutate(ctx, broken, Operation{
		Action: models.ActionUpdate,
		ID:     id,
		Values: map[string]any{"title": "After", "tags": []string{"x"}},
	}, visibility.ForUser(alice))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	row, err := env.queries.Get(ctx, env.events, id, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, "Before", row["title"])
	assert.Equal(t, []string{}, row["tags"])

	records, err := env.audit.List(ctx, "events", id, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1, "the failed update leaves no audit record")
}

func TestMutateCollectsEveryFieldError(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": strings.Repeat("x", 121), "capacity": "many"},
	}, visibility.ForUser(alice))
	var verrs errors.ValidationErrors
	require.True(t, stderrors.As(err, &verrs), "got %v", err)
	assert.Equal(t, []string{"capacity", "title"}, verrs.Fields())
}

func TestMutateInsertRequiresRequiredColumns(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"venue": "Hall A"},
	}, visibility.ForUser(alice))
	var verrs errors.ValidationErrors
	require.True(t, stderrors.As(err, &verrs), "got %v", err)
	assert.Equal(t, []string{"title"}, verrs.Fields())
}

func TestMutateRejectsUnknownColumn(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": "x", "nope": 1},
	}, visibility.ForUser(alice))
	assert.True(t, errors.IsSchema(err), "got %v", err)
}

func TestMutateRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{Action: "upsert"}, visibility.ForUser(alice))
	assert.True(t, errors.IsValidation(err), "got %v", err)
}

func TestMutateAdminOnlyColumn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	values := map[string]any{"title": "Keynote", "featured": true}

	_, err := env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionInsert, Values: values}, visibility.ForUser(alice))
	assert.True(t, errors.IsAuthorization(err), "got %v", err)

	res, err := env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionInsert, Values: values}, visibility.ForAdmin(root))
	require.NoError(t, err)
	assert.Equal(t, true, res.Row["featured"])
	assert.Equal(t, "root", res.Row["owner_id"])
}

func TestMutateNonEditableColumn(t *testing.T) {
	env := newTestEnv(t)
	id := env.insert(t, env.events, alice, map[string]any{"title": "Mine"})

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionUpdate,
		ID:     id,
		Values: map[string]any{"owner_id": "bob"},
	}, visibility.ForUser(alice))
	var verrs errors.ValidationErrors
	require.True(t, stderrors.As(err, &verrs), "got %v", err)
	assert.Equal(t, "is not editable", verrs[0].Message)
}

func TestMutateRecordRule(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": "Tiny", "capacity": -5},
	}, visibility.ForUser(alice))
	var verrs errors.ValidationErrors
	require.True(t, stderrors.As(err, &verrs), "got %v", err)
	assert.Equal(t, []string{"capacity"}, verrs.Fields())
	assert.Equal(t, "must not be negative", verrs[0].Message)
}

func TestMutateUserCanOnlyWriteOwnRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shared := env.insert(t, env.events, alice, map[string]any{"title": "Shared", "permission": "public"})
	private := env.insert(t, env.events, alice, map[string]any{"title": "Private"})

	_, err := env.queries.Get(ctx, env.events, shared, visibility.ForUser(bob))
	require.NoError(t, err, "bob can read a public row")

	_, err = env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionUpdate, ID: shared, Values: map[string]any{"title": "Mine now"}}, visibility.ForUser(bob))
	assert.True(t, errors.IsAuthorization(err), "got %v", err)

	_, err = env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionDelete, ID: shared}, visibility.ForUser(bob))
	assert.True(t, errors.IsAuthorization(err), "got %v", err)

	_, err = env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionUpdate, ID: private, Values: map[string]any{"title": "Seen"}}, visibility.ForUser(bob))
	assert.True(t, errors.IsNotFound(err), "a hidden row is not found, got %v", err)

	_, err = env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionUpdate, ID: shared, Values: map[string]any{"title": "Moderated"}}, visibility.ForAdmin(root))
	require.NoError(t, err)
}

func TestMutatePublicIntentionIsReadOnly(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": "Anonymous"},
	}, visibility.Public())
	assert.True(t, errors.IsAuthorization(err), "got %v", err)
}

func TestMutateAdminIntentionNeedsAdminPermission(t *testing.T) {
	perms := &mockPermissions{}
	perms.On("HasPermission", mock.Anything, root, "events.admin").Return(false, nil).Once()
	env := newTestEnvWith(t, perms)

	_, err := env.mutations.Mutate(context.Background(), env.events, Operation{
		Action: models.ActionInsert,
		Values: map[string]any{"title": "Denied"},
	}, visibility.ForAdmin(root))
	assert.True(t, errors.IsAuthorization(err), "got %v", err)
	perms.AssertExpectations(t)
}

func TestMutateSoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.insert(t, env.events, alice, map[string]any{"title": "Gone soon", "tags": []string{"a"}})

	res, err := env.mutations.Mutate(ctx, env.events, Operation{Action: models.ActionDelete, ID: id}, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Nil(t, res.Row)

	_, err = env.queries.Get(ctx, env.events, id, visibility.ForUser(alice))
	assert.True(t, errors.IsNotFound(err))

	n, err := env.events.Accessor.Count(ctx, sq.Eq{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "soft deleted rows stay in the table")

	trail, err := env.queries.AuditTrail(ctx, env.events, id, visibility.ForAdmin(root), 0)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, models.ActionDelete, trail[0].Action)
	assert.Equal(t, "Gone soon", trail[0].OldValues["title"])

	_, err = env.queries.AuditTrail(ctx, env.events, id, visibility.ForUser(alice), 0)
	assert.True(t, errors.IsAuthorization(err))
}

func TestMutateLockableTableRequiresLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.insert(t, env.pages, alice, map[string]any{"title": "Home"})
	update := func(user *visibility.User, title string) error {
		_, err := env.mutations.Mutate(ctx, env.pages, Operation{
			Action: models.ActionUpdate,
			ID:     id,
			Values: map[string]any{"title": title},
		}, visibility.ForUser(user))
		return err
	}

	assert.True(t, errors.IsConflict(update(alice, "Home 2")), "an unlocked row cannot be edited")

	_, err := env.lockSvc.Acquire(ctx, env.pages, id, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.True(t, errors.IsConflict(update(bob, "Hijack")))
	require.NoError(t, update(alice, "Home 2"))

	_, err = env.mutations.Mutate(ctx, env.pages, Operation{Action: models.ActionDelete, ID: id}, visibility.ForUser(alice))
	require.NoError(t, err)

	n, err := env.pages.Accessor.Count(ctx, sq.Eq{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "pages have no deleted column and are removed")

	holder, err := env.locks.Holder(ctx, "pages", id)
	require.NoError(t, err)
	assert.Empty(t, holder, "deleting releases the lock")
}

func TestApplyMatrix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e1 := env.insert(t, env.events, alice, map[string]any{"title": "One", "tags": []string{"a"}})
	e2 := env.insert(t, env.events, alice, map[string]any{"title": "Two", "tags": []string{"a", "b"}})

	plan, err := env.mutations.ApplyMatrix(ctx, env.events, "tags", MatrixRequest{
		Rows: []string{e1, e2},
		Desired: []changeplan.Pair{
			{Row: e1, Related: "a"},
			{Row: e1, Related: "c"},
			{Row: e2, Related: "b"},
		},
	}, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, []changeplan.Pair{{Row: e1, Related: "c"}}, plan.Create)
	assert.Equal(t, []changeplan.Pair{{Row: e2, Related: "a"}}, plan.Delete)

	row, err := env.queries.Get(ctx, env.events, e1, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, row["tags"])
	row, err = env.queries.Get(ctx, env.events, e2, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, row["tags"])

	removed, err := env.audit.List(ctx, "event_tags", e2+"/a", 10)
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, models.ActionDelete, removed[0].Action)
	assert.Equal(t, "user/associationMatrix", removed[0].Context)

	again, err := env.mutations.ApplyMatrix(ctx, env.events, "tags", MatrixRequest{
		Rows:    []string{e1, e2},
		Desired: plan.DesiredState,
	}, visibility.ForUser(alice))
	require.NoError(t, err)
	assert.True(t, again.Empty(), "reapplying the same state changes nothing")
}

func TestApplyMatrixRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	e1 := env.insert(t, env.events, alice, map[string]any{"title": "One"})

	_, err := env.mutations.ApplyMatrix(ctx, env.events, "title", MatrixRequest{Rows: []string{e1}}, visibility.ForUser(alice))
	assert.True(t, errors.IsSchema(err), "got %v", err)

	_, err = env.mutations.ApplyMatrix(ctx, env.events, "tags", MatrixRequest{
		Rows:    []string{e1},
		Desired: []changeplan.Pair{{Row: "elsewhere", Related: "a"}},
	}, visibility.ForUser(alice))
	assert.True(t, errors.IsValidation(err), "got %v", err)
}
