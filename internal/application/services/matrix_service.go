package services

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/internal/metrics"
	"github.com/nexuscrm/tablekit/pkg/changeplan"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// MatrixRequest is the desired state of an association matrix. Rows scopes
// the edit: links of rows outside it are left alone, and every desired pair
// must name one of them.
type MatrixRequest struct {
	Rows    []string          `json:"rows"`
	Desired []changeplan.Pair `json:"desired"`
}

// ApplyMatrix makes the tagsMany column hold exactly the desired pairs for
// the scoped rows. The whole matrix commits in one transaction with one
// audit record per link created or deleted.
func (ms *MutationService) ApplyMatrix(ctx context.Context, entity *tablespec.Entity, column string, req MatrixRequest, ictx visibility.Context) (plan changeplan.Plan[changeplan.Pair], err error) {
	spec := entity.Spec
	defer func() { ms.observe(spec.Name(), "matrix", err) }()

	col, err := spec.GetColumn(column)
	if err != nil {
		return plan, err
	}
	if col.Kind != tablespec.KindTagsMany {
		return plan, errors.NewSchemaError(spec.Name(), column, "association matrix needs a tagsMany column")
	}
	ictx.Mode = visibility.ModeAssociationMatrix
	if err := authorize(ctx, ms.permissions, spec, ictx, ActionUpdate); err != nil {
		return plan, err
	}
	if !col.IsEditable(ictx.Intention) {
		return plan, &errors.ValidationError{Field: col.Name, Message: "is not editable"}
	}

	rows := dedupeStrings(req.Rows)
	scoped := make(map[string]bool, len(rows))
	for _, id := range rows {
		scoped[id] = true
	}
	desired, err := validatePairs(col, req.Desired, scoped)
	if err != nil {
		return plan, err
	}

	ctx = context.WithoutCancel(ctx)
	err = ms.tx.WithTransaction(ctx, func(ctx context.Context) error {
		current := make([]changeplan.Pair, 0)
		for _, id := range rows {
			old, err := ms.snapshot(ctx, entity, id, ictx, ActionUpdate)
			if err != nil {
				return err
			}
			for _, related := range col.CurrentRelatedIDs(old) {
				current = append(current, changeplan.Pair{Row: id, Related: related})
			}
		}

		plan = changeplan.Pairs(current, desired)
		if plan.Empty() {
			return nil
		}

		join, err := entity.Join(col.Name)
		if err != nil {
			return err
		}
		touched, create, remove := changeplan.GroupByRow(plan)
		for _, id := range touched {
			if err := col.Apply(ctx, join, id, create[id], remove[id]); err != nil {
				return err
			}
		}
		metrics.TagLinksChanged.WithLabelValues(col.Join.Table, "create").Add(float64(len(plan.Create)))
		metrics.TagLinksChanged.WithLabelValues(col.Join.Table, "delete").Add(float64(len(plan.Delete)))

		now := ms.now().UTC()
		records := make([]models.AuditRecord, 0, len(plan.Create)+len(plan.Delete))
		for _, p := range plan.Delete {
			records = append(records, ms.linkRecord(models.ActionDelete, col, p.Row, p.Related, ictx, now))
		}
		for _, p := range plan.Create {
			records = append(records, ms.linkRecord(models.ActionInsert, col, p.Row, p.Related, ictx, now))
		}
		return ms.audit.Append(ctx, records...)
	})
	if err != nil {
		return changeplan.Plan[changeplan.Pair]{}, err
	}

	ms.logger.Info("association matrix committed",
		zap.String("table", spec.Name()),
		zap.String("column", col.Name),
		zap.Int("created", len(plan.Create)),
		zap.Int("deleted", len(plan.Delete)),
		zap.String("user", ictx.UserID()))
	return plan, nil
}

// validatePairs checks every desired pair against the scoped rows and the
// column's id format
func validatePairs(col tablespec.Column, pairs []changeplan.Pair, scoped map[string]bool) ([]changeplan.Pair, error) {
	out := make([]changeplan.Pair, 0, len(pairs))
	var verrs errors.ValidationErrors
	for _, p := range pairs {
		if !scoped[p.Row] {
			verrs = append(verrs, &errors.ValidationError{Field: col.Name, Message: "row " + p.Row + " is outside the matrix rows", Value: p})
			continue
		}
		ids, verr := col.Validate([]string{p.Related})
		if verr != nil {
			verrs = append(verrs, verr)
			continue
		}
		related := ids.([]string)
		out = append(out, changeplan.Pair{Row: p.Row, Related: related[0]})
	}
	return out, verrs.OrNil()
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
