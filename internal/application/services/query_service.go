package services

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/internal/metrics"
	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/store"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// Page is one window of a query. Count is nil when the total could not be
// read.
type Page struct {
	Items    []store.Row `json:"items"`
	Count    *int64      `json:"count"`
	HasMore  bool        `json:"hasMore"`
	NextPage *Pagination `json:"nextPage,omitempty"`
}

// QueryService serves paginated, visibility-scoped reads
type QueryService struct {
	permissions ports.PermissionChecker
	audit       ports.AuditLog
	logger      logger.Logger
	maxTake     int
}

// NewQueryService creates a new QueryService
func NewQueryService(permissions ports.PermissionChecker, audit ports.AuditLog, log logger.Logger, maxTake int) *QueryService {
	if maxTake < 1 {
		maxTake = 1000
	}
	return &QueryService{
		permissions: permissions,
		audit:       audit,
		logger:      log,
		maxTake:     maxTake,
	}
}

// Query returns one page of the rows of entity visible under ictx. The data
// and count reads run concurrently and are not linked transactionally; a
// failed count degrades to an unknown total.
func (qs *QueryService) Query(ctx context.Context, entity *tablespec.Entity, filter FilterModel, page Pagination, ictx visibility.Context) (*Page, error) {
	spec := entity.Spec
	if err := authorize(ctx, qs.permissions, spec, ictx, ActionRead); err != nil {
		return nil, err
	}

	page, err := NormalizePage(page, qs.maxTake)
	if err != nil {
		return nil, err
	}
	where, err := PlanWhere(spec, filter, ictx)
	if err != nil {
		return nil, err
	}
	order, err := PlanOrder(spec, page.OrderBy)
	if err != nil {
		return nil, err
	}

	metrics.QueriesTotal.WithLabelValues(spec.Name(), ictx.Intention.String()).Inc()
	start := time.Now()

	// Issued reads run to completion even if the caller goes away
	storeCtx := context.WithoutCancel(ctx)

	var (
		rows     []store.Row
		rowsErr  error
		count    int64
		countErr error
		wg       conc.WaitGroup
	)
	wg.Go(func() {
		rows, rowsErr = entity.Accessor.Find(storeCtx, store.Select{
			Where:   where,
			OrderBy: order,
			Limit:   page.Take,
			Offset:  page.Skip,
		})
	})
	wg.Go(func() {
		count, countErr = entity.Accessor.Count(storeCtx, where)
	})
	wg.Wait()
	metrics.QueryDuration.WithLabelValues(spec.Name()).Observe(time.Since(start).Seconds())

	if rowsErr != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Name(), rowsErr)
	}

	items, err := qs.present(storeCtx, entity, rows)
	if err != nil {
		return nil, err
	}

	result := &Page{Items: items}
	if countErr != nil {
		metrics.CountDegradedTotal.WithLabelValues(spec.Name()).Inc()
		qs.logger.WarnWithContext(ctx, "count query failed, returning page without total",
			zap.String("table", spec.Name()),
			zap.Error(countErr))
		result.HasMore = len(items) == page.Take
	} else {
		result.Count = &count
		result.HasMore = int64(page.Skip+len(items)) < count
	}
	if result.HasMore {
		result.NextPage = &Pagination{Skip: page.Skip + len(items), Take: page.Take, OrderBy: page.OrderBy}
	}

	qs.logger.Debug("query served",
		zap.String("table", spec.Name()),
		zap.String("intention", ictx.Intention.String()),
		zap.Int("skip", page.Skip),
		zap.Int("items", len(items)))
	return result, nil
}

// Get returns one row by primary key. Rows that do not exist and rows
// hidden from ictx are both NotFoundErrors.
func (qs *QueryService) Get(ctx context.Context, entity *tablespec.Entity, id string, ictx visibility.Context) (store.Row, error) {
	spec := entity.Spec
	if err := authorize(ctx, qs.permissions, spec, ictx, ActionRead); err != nil {
		return nil, err
	}

	storeCtx := context.WithoutCancel(ctx)
	rows, err := entity.Accessor.Find(storeCtx, store.Select{
		Where: sq.And{visibility.BuildPredicate(ictx, spec.Visibility()), sq.Eq{spec.PrimaryKey(): id}},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", spec.Name(), id, err)
	}
	if len(rows) == 0 {
		return nil, errors.NewNotFoundError(spec.Name(), id)
	}

	items, err := qs.present(storeCtx, entity, rows)
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// AuditTrail returns the audit records of one row. It needs the admin
// intention and the row must still be visible to it.
func (qs *QueryService) AuditTrail(ctx context.Context, entity *tablespec.Entity, id string, ictx visibility.Context, limit int) ([]models.AuditRecord, error) {
	if ictx.Intention != visibility.IntentionAdmin {
		return nil, errors.NewAuthorizationError(ActionRead, entity.Name()+" audit", entity.Spec.AdminPermission())
	}
	ictx.IncludeDeleted = true
	if _, err := qs.Get(ctx, entity, id, ictx); err != nil {
		return nil, err
	}
	return qs.audit.List(context.WithoutCancel(ctx), entity.Name(), id, limit)
}

// present converts raw rows into typed wire values and hydrates tag columns
func (qs *QueryService) present(ctx context.Context, entity *tablespec.Entity, raw []store.Row) ([]store.Row, error) {
	rows := make([]store.Row, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, typedRow(entity.Spec, r))
	}
	if err := hydrateTags(ctx, entity, rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for _, col := range entity.Spec.Columns() {
			if v, ok := row[col.Name]; ok {
				row[col.Name] = col.Serialize(v)
			}
		}
	}
	return rows, nil
}

// typedRow keeps the declared stored columns of raw, converted to their
// typed values
func typedRow(spec *tablespec.TableSpec, raw store.Row) store.Row {
	row := make(store.Row, len(raw))
	for _, col := range spec.StoredColumns() {
		if v, ok := raw[col.Name]; ok {
			row[col.Name] = col.FromRow(v)
		}
	}
	return row
}

// hydrateTags reads the related ids of every tag column for all rows with
// one join table read per column
func hydrateTags(ctx context.Context, entity *tablespec.Entity, rows []store.Row) error {
	tags := entity.Spec.TagColumns()
	if len(rows) == 0 || len(tags) == 0 {
		return nil
	}

	pk := entity.Spec.PrimaryKey()
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, cast.ToString(row[pk]))
	}

	for _, col := range tags {
		join, err := entity.Join(col.Name)
		if err != nil {
			return err
		}
		links, err := join.Find(ctx, store.Select{
			Where:   sq.Eq{col.Join.Source: ids},
			OrderBy: []store.Order{{Column: col.Join.Source}, {Column: col.Join.Target}},
		})
		if err != nil {
			return fmt.Errorf("hydrate %s.%s: %w", entity.Name(), col.Name, err)
		}

		related := make(map[string][]string, len(rows))
		for _, link := range links {
			source := cast.ToString(link[col.Join.Source])
			related[source] = append(related[source], cast.ToString(link[col.Join.Target]))
		}
		for _, row := range rows {
			linked := related[cast.ToString(row[pk])]
			if linked == nil {
				linked = []string{}
			}
			row[col.Name] = linked
		}
	}
	return nil
}
