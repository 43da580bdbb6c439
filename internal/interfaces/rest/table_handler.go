package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexuscrm/tablekit/internal/application/services"
	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

const defaultAuditLimit = 100

// TableHandler serves every registered table through the engine
type TableHandler struct {
	svc    *services.ServiceManager
	logger logger.Logger
}

func NewTableHandler(svc *services.ServiceManager, log logger.Logger) *TableHandler {
	return &TableHandler{svc: svc, logger: log}
}

// QueryRequest is the body of a table query. Both parts are optional.
type QueryRequest struct {
	Filter     services.FilterModel `json:"filter"`
	Pagination services.Pagination  `json:"pagination"`
}

// request resolves the table and the intention context shared by every
// endpoint. On failure the error response has been sent.
func (h *TableHandler) request(c *gin.Context) (*tablespec.Entity, visibility.Context, bool) {
	entity, err := h.svc.Registry.Entity(c.Param("table"))
	if err != nil {
		RespondAppError(c, h.logger, err)
		return nil, visibility.Context{}, false
	}
	ictx, err := IntentionContext(c)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return nil, visibility.Context{}, false
	}
	return entity, ictx, true
}

// ListTables handles GET /api/tables
func (h *TableHandler) ListTables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tables": h.svc.Registry.Tables()})
}

// Describe handles GET /api/tables/:table/describe
func (h *TableHandler) Describe(c *gin.Context) {
	HandleGetEnvelope(c, h.logger, "table", func() (interface{}, error) {
		entity, err := h.svc.Registry.Entity(c.Param("table"))
		if err != nil {
			return nil, err
		}
		return entity.Spec.Describe(), nil
	})
}

// Query handles POST /api/tables/:table/query
func (h *TableHandler) Query(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	var req QueryRequest
	if !BindOptionalJSON(c, h.logger, &req) {
		return
	}

	page, err := h.svc.QuerySvc.Query(c.Request.Context(), entity, req.Filter, req.Pagination, ictx)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /api/tables/:table/:id
func (h *TableHandler) Get(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	HandleGetEnvelope(c, h.logger, "record", func() (interface{}, error) {
		return h.svc.QuerySvc.Get(c.Request.Context(), entity, c.Param("id"), ictx)
	})
}

// Create handles POST /api/tables/:table
func (h *TableHandler) Create(c *gin.Context) {
	h.mutate(c, http.StatusCreated, models.ActionInsert, "")
}

// Update handles PATCH /api/tables/:table/:id
func (h *TableHandler) Update(c *gin.Context) {
	h.mutate(c, http.StatusOK, models.ActionUpdate, c.Param("id"))
}

// Delete handles DELETE /api/tables/:table/:id
func (h *TableHandler) Delete(c *gin.Context) {
	h.mutate(c, http.StatusOK, models.ActionDelete, c.Param("id"))
}

func (h *TableHandler) mutate(c *gin.Context, status int, action models.Action, id string) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	op := services.Operation{Action: action, ID: id}
	if action != models.ActionDelete && !BindJSON(c, h.logger, &op.Values) {
		return
	}

	result, err := h.svc.Mutations.Mutate(c.Request.Context(), entity, op, ictx)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.JSON(status, result)
}

// ApplyMatrix handles PUT /api/tables/:table/matrix/:column
func (h *TableHandler) ApplyMatrix(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	var req services.MatrixRequest
	if !BindJSON(c, h.logger, &req) {
		return
	}

	plan, err := h.svc.Mutations.ApplyMatrix(c.Request.Context(), entity, c.Param("column"), req, ictx)
	if err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

// AuditTrail handles GET /api/tables/:table/:id/audit
func (h *TableHandler) AuditTrail(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	HandleGetEnvelope(c, h.logger, "records", func() (interface{}, error) {
		limit, err := queryInt(c, "limit", defaultAuditLimit)
		if err != nil {
			return nil, err
		}
		return h.svc.QuerySvc.AuditTrail(c.Request.Context(), entity, c.Param("id"), ictx, limit)
	})
}

// AcquireLock handles POST /api/tables/:table/:id/lock
func (h *TableHandler) AcquireLock(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	HandleGetEnvelope(c, h.logger, "lock", func() (interface{}, error) {
		return h.svc.LockSvc.Acquire(c.Request.Context(), entity, c.Param("id"), ictx)
	})
}

// RenewLock handles PUT /api/tables/:table/:id/lock
func (h *TableHandler) RenewLock(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	HandleGetEnvelope(c, h.logger, "lock", func() (interface{}, error) {
		return h.svc.LockSvc.Renew(c.Request.Context(), entity, c.Param("id"), ictx)
	})
}

// ReleaseLock handles DELETE /api/tables/:table/:id/lock
func (h *TableHandler) ReleaseLock(c *gin.Context) {
	entity, ictx, ok := h.request(c)
	if !ok {
		return
	}
	if err := h.svc.LockSvc.Release(c.Request.Context(), entity, c.Param("id"), ictx); err != nil {
		RespondAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{FieldMessage: "lock released"})
}
