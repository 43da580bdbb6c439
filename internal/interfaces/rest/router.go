package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/application/services"
	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/internal/interfaces/middleware"
	"github.com/nexuscrm/tablekit/pkg/logger"
)

// NewRouter builds the HTTP surface of the engine
func NewRouter(svc *services.ServiceManager, resolver ports.CurrentUserResolver, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(log), middleware.Cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewTableHandler(svc, log)
	api := router.Group("/api", middleware.ResolveUser(resolver))
	{
		api.GET("/tables", h.ListTables)
		api.GET("/tables/:table/describe", h.Describe)
		api.POST("/tables/:table/query", h.Query)
		api.POST("/tables/:table", h.Create)
		api.PUT("/tables/:table/matrix/:column", h.ApplyMatrix)
		api.GET("/tables/:table/:id", h.Get)
		api.PATCH("/tables/:table/:id", h.Update)
		api.DELETE("/tables/:table/:id", h.Delete)
		api.GET("/tables/:table/:id/audit", h.AuditTrail)
		api.POST("/tables/:table/:id/lock", h.AcquireLock)
		api.PUT("/tables/:table/:id/lock", h.RenewLock)
		api.DELETE("/tables/:table/:id/lock", h.ReleaseLock)
	}
	return router
}

func accessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
