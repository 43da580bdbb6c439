package services

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/internal/metrics"
	"github.com/nexuscrm/tablekit/pkg/changeplan"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/expression"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/utils"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// Operation is one write against an entity. ID names the row for updates
// and deletes; Values carries the touched columns of inserts and updates.
type Operation struct {
	Action models.Action  `json:"action"`
	ID     string         `json:"id,omitempty"`
	Values map[string]any `json:"values,omitempty"`
}

// MutationResult is the committed row in wire form. Row is nil for deletes.
type MutationResult struct {
	ID  string    `json:"id"`
	Row store.Row `json:"row,omitempty"`
}

// Transactor runs fn in a transaction carried by the context it receives
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// MutationService runs every write through one pipeline:
// authorize, validate, snapshot, primary write, tag commits, audit.
// All steps after validation share one transaction and nothing is retried.
type MutationService struct {
	tx          Transactor
	permissions ports.PermissionChecker
	audit       ports.AuditLog
	locks       ports.LockProtocol
	rules       *expression.Engine
	logger      logger.Logger
	now         func() time.Time
}

// NewMutationService creates a new MutationService. locks may be nil when no
// registered table is lockable.
func NewMutationService(
	tx Transactor,
	permissions ports.PermissionChecker,
	audit ports.AuditLog,
	locks ports.LockProtocol,
	rules *expression.Engine,
	log logger.Logger,
) *MutationService {
	return &MutationService{
		tx:          tx,
		permissions: permissions,
		audit:       audit,
		locks:       locks,
		rules:       rules,
		logger:      log,
		now:         time.Now,
	}
}

// Mutate applies op to entity under ictx
func (ms *MutationService) Mutate(ctx context.Context, entity *tablespec.Entity, op Operation, ictx visibility.Context) (result *MutationResult, err error) {
	spec := entity.Spec
	action := string(op.Action)
	defer func() { ms.observe(spec.Name(), action, err) }()

	switch op.Action {
	case models.ActionInsert, models.ActionUpdate, models.ActionDelete:
	default:
		return nil, &errors.ValidationError{Field: "action", Message: "must be insert, update or delete", Value: op.Action}
	}
	if err := authorize(ctx, ms.permissions, spec, ictx, action); err != nil {
		return nil, err
	}
	if op.Action != models.ActionInsert && op.ID == "" {
		return nil, &errors.ValidationError{Field: spec.PrimaryKey(), Message: "is required"}
	}

	changes, err := ms.validate(spec, op, ictx)
	if err != nil {
		return nil, err
	}

	// Once started, the unit of work is not cut short by the caller
	ctx = context.WithoutCancel(ctx)
	err = ms.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		switch op.Action {
		case models.ActionInsert:
			result, err = ms.insert(ctx, entity, changes, ictx)
		case models.ActionUpdate:
			result, err = ms.update(ctx, entity, op.ID, changes, ictx)
		case models.ActionDelete:
			result, err = ms.delete(ctx, entity, op.ID, ictx)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	ms.logger.Info("mutation committed",
		zap.String("table", spec.Name()),
		zap.String("action", action),
		zap.String("pk", result.ID),
		zap.String("user", ictx.UserID()))
	return result, nil
}

// validate checks every touched column and returns the typed values.
// Every field failure is collected; unknown columns are schema errors and
// admin-only columns touched without the admin intention are authorization
// errors.
func (ms *MutationService) validate(spec *tablespec.TableSpec, op Operation, ictx visibility.Context) (map[string]any, error) {
	if op.Action == models.ActionDelete {
		return nil, nil
	}

	keys := make([]string, 0, len(op.Values))
	for k := range op.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make(map[string]any, len(keys))
	var verrs errors.ValidationErrors
	for _, k := range keys {
		col, err := spec.GetColumn(k)
		if err != nil {
			return nil, err
		}
		if col.AdminOnly && ictx.Intention != visibility.IntentionAdmin {
			return nil, errors.NewAuthorizationError(string(op.Action), spec.Name()+"."+col.Name, spec.AdminPermission())
		}

		if op.Action == models.ActionInsert && !col.IsInsertable(ictx.Intention) {
			verrs = append(verrs, &errors.ValidationError{Field: col.Name, Message: "is not insertable"})
			continue
		}
		if op.Action == models.ActionUpdate && !col.IsEditable(ictx.Intention) {
			verrs = append(verrs, &errors.ValidationError{Field: col.Name, Message: "is not editable"})
			continue
		}

		typed, verr := col.Validate(op.Values[k])
		if verr != nil {
			verrs = append(verrs, verr)
			continue
		}
		if col.Kind == tablespec.KindTagsMany {
			// the join table holds each link once; so do the row and its audit
			typed = uniqueIDs(cast.ToStringSlice(typed))
		}
		changes[col.Name] = typed
	}

	if op.Action == models.ActionInsert {
		stamped := engineStampedColumns(spec)
		for _, col := range spec.Columns() {
			if !col.Required || col.Default != nil || stamped[col.Name] {
				continue
			}
			if _, ok := op.Values[col.Name]; !ok {
				verrs = append(verrs, &errors.ValidationError{Field: col.Name, Message: "is required"})
			}
		}
	}
	return changes, verrs.OrNil()
}

func (ms *MutationService) insert(ctx context.Context, entity *tablespec.Entity, changes map[string]any, ictx visibility.Context) (*MutationResult, error) {
	spec := entity.Spec
	now := ms.now().UTC()

	row := store.Row{}
	for _, col := range spec.StoredColumns() {
		if v, ok := changes[col.Name]; ok {
			row[col.Name] = v
			continue
		}
		if col.Default != nil {
			typed, verr := col.Validate(col.Default)
			if verr != nil {
				return nil, errors.NewSchemaError(spec.Name(), col.Name, "invalid default: "+verr.Message)
			}
			row[col.Name] = typed
		}
	}

	pk := spec.PrimaryKey()
	id := cast.ToString(row[pk])
	if id == "" {
		id = utils.GenerateID()
		row[pk] = id
	}
	vis := spec.Visibility()
	if vis.Owner != "" && ictx.UserID() != "" {
		row[vis.Owner] = ictx.UserID()
	}
	if vis.Deleted != "" {
		row[vis.Deleted] = false
	}
	ts := spec.Timestamps()
	if ts.Created != "" {
		row[ts.Created] = now
	}
	if ts.Updated != "" {
		row[ts.Updated] = now
	}

	merged := row.Clone()
	for _, col := range spec.TagColumns() {
		if ids, ok := changes[col.Name]; ok {
			merged[col.Name] = ids
		} else {
			merged[col.Name] = []string{}
		}
	}
	if err := ms.checkRules(spec, merged); err != nil {
		return nil, err
	}

	if err := entity.Accessor.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", spec.Name(), err)
	}

	records := []models.AuditRecord{ms.record(models.ActionInsert, spec.Name(), id, nil, wireValues(spec, merged), ictx, now)}
	linkRecords, err := ms.commitTags(ctx, entity, id, changes, ictx, now)
	if err != nil {
		return nil, err
	}
	if err := ms.audit.Append(ctx, append(records, linkRecords...)...); err != nil {
		return nil, err
	}
	return &MutationResult{ID: id, Row: wireValues(spec, merged)}, nil
}

func (ms *MutationService) update(ctx context.Context, entity *tablespec.Entity, id string, changes map[string]any, ictx visibility.Context) (*MutationResult, error) {
	spec := entity.Spec
	now := ms.now().UTC()

	old, err := ms.snapshot(ctx, entity, id, ictx, ActionUpdate)
	if err != nil {
		return nil, err
	}

	set := store.Row{}
	oldValues := map[string]any{}
	newValues := map[string]any{}
	merged := old.Clone()
	for _, col := range spec.Columns() {
		v, ok := changes[col.Name]
		if !ok {
			continue
		}
		merged[col.Name] = v
		if sameValue(col, old[col.Name], v) {
			continue
		}
		oldValues[col.Name] = col.Serialize(old[col.Name])
		newValues[col.Name] = col.Serialize(v)
		if col.Stored() {
			set[col.Name] = v
		}
	}

	if ts := spec.Timestamps(); ts.Updated != "" && len(newValues) > 0 {
		set[ts.Updated] = now
		merged[ts.Updated] = now
	}
	if err := ms.checkRules(spec, merged); err != nil {
		return nil, err
	}

	if len(set) > 0 {
		if _, err := entity.Accessor.UpdateMany(ctx, sq.Eq{spec.PrimaryKey(): id}, set); err != nil {
			return nil, fmt.Errorf("update %s/%s: %w", spec.Name(), id, err)
		}
	}

	records := []models.AuditRecord{ms.record(models.ActionUpdate, spec.Name(), id, oldValues, newValues, ictx, now)}
	linkRecords, err := ms.commitTags(ctx, entity, id, changes, ictx, now)
	if err != nil {
		return nil, err
	}
	if err := ms.audit.Append(ctx, append(records, linkRecords...)...); err != nil {
		return nil, err
	}
	return &MutationResult{ID: id, Row: wireValues(spec, merged)}, nil
}

// delete soft deletes when the table has a deleted column and otherwise
// removes the row together with its links
func (ms *MutationService) delete(ctx context.Context, entity *tablespec.Entity, id string, ictx visibility.Context) (*MutationResult, error) {
	spec := entity.Spec
	now := ms.now().UTC()
	pk := spec.PrimaryKey()

	old, err := ms.snapshot(ctx, entity, id, ictx, ActionDelete)
	if err != nil {
		return nil, err
	}
	records := []models.AuditRecord{ms.record(models.ActionDelete, spec.Name(), id, wireValues(spec, old), nil, ictx, now)}

	if deleted := spec.Visibility().Deleted; deleted != "" {
		set := store.Row{deleted: true}
		if ts := spec.Timestamps(); ts.Updated != "" {
			set[ts.Updated] = now
		}
		if _, err := entity.Accessor.UpdateMany(ctx, sq.Eq{pk: id}, set); err != nil {
			return nil, fmt.Errorf("delete %s/%s: %w", spec.Name(), id, err)
		}
	} else {
		for _, col := range spec.TagColumns() {
			linked := col.CurrentRelatedIDs(old)
			if len(linked) == 0 {
				continue
			}
			join, err := entity.Join(col.Name)
			if err != nil {
				return nil, err
			}
			if err := col.Apply(ctx, join, id, nil, linked); err != nil {
				return nil, err
			}
			metrics.TagLinksChanged.WithLabelValues(col.Join.Table, "delete").Add(float64(len(linked)))
			for _, related := range linked {
				records = append(records, ms.linkRecord(models.ActionDelete, col, id, related, ictx, now))
			}
		}
		if _, err := entity.Accessor.DeleteMany(ctx, sq.Eq{pk: id}); err != nil {
			return nil, fmt.Errorf("delete %s/%s: %w", spec.Name(), id, err)
		}
	}

	if spec.Lockable() && ms.locks != nil {
		if err := ms.locks.Release(ctx, spec.Name(), id, ictx.UserID()); err != nil {
			return nil, err
		}
	}
	if err := ms.audit.Append(ctx, records...); err != nil {
		return nil, err
	}
	return &MutationResult{ID: id}, nil
}

// snapshot reads the row being changed through the visibility predicate,
// locking it where the dialect supports it, and checks that ictx may write it
func (ms *MutationService) snapshot(ctx context.Context, entity *tablespec.Entity, id string, ictx visibility.Context, action string) (store.Row, error) {
	spec := entity.Spec
	rows, err := entity.Accessor.Find(ctx, store.Select{
		Where:     sq.And{visibility.BuildPredicate(ictx, spec.Visibility()), sq.Eq{spec.PrimaryKey(): id}},
		Limit:     1,
		ForUpdate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", spec.Name(), id, err)
	}
	if len(rows) == 0 {
		return nil, errors.NewNotFoundError(spec.Name(), id)
	}

	old := typedRow(spec, rows[0])
	if err := hydrateTags(ctx, entity, []store.Row{old}); err != nil {
		return nil, err
	}
	if err := checkOwnership(spec, old, id, ictx, action); err != nil {
		return nil, err
	}
	if err := ms.checkLock(ctx, spec, id, ictx); err != nil {
		return nil, err
	}
	return old, nil
}

// checkOwnership limits user-intention writes to rows the user owns
func checkOwnership(spec *tablespec.TableSpec, row store.Row, id string, ictx visibility.Context, action string) error {
	owner := spec.Visibility().Owner
	if ictx.Intention != visibility.IntentionUser || owner == "" {
		return nil
	}
	if cast.ToString(row[owner]) != ictx.UserID() {
		return errors.NewAuthorizationError(action, spec.Name()+"/"+id, "owner")
	}
	return nil
}

// checkLock requires the caller to hold the edit lock of a lockable row
func (ms *MutationService) checkLock(ctx context.Context, spec *tablespec.TableSpec, id string, ictx visibility.Context) error {
	if !spec.Lockable() {
		return nil
	}
	if ms.locks == nil {
		return fmt.Errorf("table %s is lockable but no lock protocol is configured", spec.Name())
	}
	holder, err := ms.locks.Holder(ctx, spec.Name(), id)
	if err != nil {
		return err
	}
	if holder == "" || holder != ictx.UserID() {
		return errors.NewConflictError(spec.Name(), id, holder)
	}
	return nil
}

// checkRules evaluates the table's record rules against the merged record.
// A rule whose condition is true rejects the record.
func (ms *MutationService) checkRules(spec *tablespec.TableSpec, record store.Row) error {
	rules := spec.Rules()
	if len(rules) == 0 {
		return nil
	}
	env := make(map[string]interface{}, len(record))
	for k, v := range record {
		env[k] = v
	}

	var verrs errors.ValidationErrors
	for _, rule := range rules {
		violated, err := ms.rules.EvaluateBool(rule.Condition, env)
		if err != nil {
			return fmt.Errorf("rule %s on %s: %w", rule.Name, spec.Name(), err)
		}
		if !violated {
			continue
		}
		field := rule.Field
		if field == "" {
			field = rule.Name
		}
		verrs = append(verrs, &errors.ValidationError{Field: field, Message: rule.Message})
	}
	return verrs.OrNil()
}

// commitTags commits every tag column present in changes and returns one
// audit record per link created or deleted
func (ms *MutationService) commitTags(ctx context.Context, entity *tablespec.Entity, id string, changes map[string]any, ictx visibility.Context, now time.Time) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	for _, col := range entity.Spec.TagColumns() {
		desired, ok := changes[col.Name]
		if !ok {
			continue
		}
		join, err := entity.Join(col.Name)
		if err != nil {
			return nil, err
		}
		plan, err := col.Commit(ctx, join, id, cast.ToStringSlice(desired))
		if err != nil {
			return nil, err
		}
		if plan.Empty() {
			continue
		}
		metrics.TagLinksChanged.WithLabelValues(col.Join.Table, "create").Add(float64(len(plan.Create)))
		metrics.TagLinksChanged.WithLabelValues(col.Join.Table, "delete").Add(float64(len(plan.Delete)))
		records = append(records, ms.planRecords(col, id, plan, ictx, now)...)
	}
	return records, nil
}

func (ms *MutationService) planRecords(col tablespec.Column, id string, plan changeplan.Plan[string], ictx visibility.Context, now time.Time) []models.AuditRecord {
	records := make([]models.AuditRecord, 0, len(plan.Create)+len(plan.Delete))
	for _, related := range plan.Delete {
		records = append(records, ms.linkRecord(models.ActionDelete, col, id, related, ictx, now))
	}
	for _, related := range plan.Create {
		records = append(records, ms.linkRecord(models.ActionInsert, col, id, related, ictx, now))
	}
	return records
}

func (ms *MutationService) linkRecord(action models.Action, col tablespec.Column, rowID, related string, ictx visibility.Context, now time.Time) models.AuditRecord {
	values := map[string]any{col.Join.Source: rowID, col.Join.Target: related}
	if action == models.ActionDelete {
		return ms.record(action, col.Join.Table, rowID+"/"+related, values, nil, ictx, now)
	}
	return ms.record(action, col.Join.Table, rowID+"/"+related, nil, values, ictx, now)
}

func (ms *MutationService) record(action models.Action, table, pk string, oldValues, newValues map[string]any, ictx visibility.Context, now time.Time) models.AuditRecord {
	return models.AuditRecord{
		Action:      action,
		Table:       table,
		PK:          pk,
		OldValues:   oldValues,
		NewValues:   newValues,
		Context:     ictx.Describe(),
		ActorUserID: ictx.UserID(),
		Timestamp:   now,
	}
}

func (ms *MutationService) observe(table, action string, err error) {
	outcome := "committed"
	switch {
	case err == nil:
	case errors.GetHTTPStatus(err) < 500:
		outcome = "rejected"
	default:
		outcome = "failed"
		ms.logger.Error("mutation failed",
			zap.String("table", table),
			zap.String("action", action),
			zap.Error(err))
	}
	metrics.MutationsTotal.WithLabelValues(table, action, outcome).Inc()
}

// engineStampedColumns are filled in by the pipeline rather than the client
func engineStampedColumns(spec *tablespec.TableSpec) map[string]bool {
	stamped := map[string]bool{spec.PrimaryKey(): true}
	vis := spec.Visibility()
	ts := spec.Timestamps()
	for _, name := range []string{vis.Owner, vis.Deleted, ts.Created, ts.Updated} {
		if name != "" {
			stamped[name] = true
		}
	}
	return stamped
}

// sameValue compares two typed values of col by their wire form. Tag
// columns are sets, so their order does not matter.
func sameValue(col tablespec.Column, a, b any) bool {
	if col.Kind == tablespec.KindTagsMany {
		return changeplan.Comparable(cast.ToStringSlice(a), cast.ToStringSlice(b)).Empty()
	}
	return reflect.DeepEqual(col.Serialize(a), col.Serialize(b))
}

// uniqueIDs drops repeated ids, keeping the first occurrence
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// wireValues renders the declared columns of row for the wire and for audit
// storage
func wireValues(spec *tablespec.TableSpec, row store.Row) map[string]any {
	out := make(map[string]any, len(row))
	for _, col := range spec.Columns() {
		if v, ok := row[col.Name]; ok {
			out[col.Name] = col.Serialize(v)
		}
	}
	return out
}
