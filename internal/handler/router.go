package handler

import (
	"time"

	"sitegen/internal/utils"
	"sitegen/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RegisterRoutes mounts the backend protocol at the root and the workspace
// API under /api/workspace. Either handler may be nil.
func RegisterRoutes(r *gin.Engine, site *SiteHandler, ws *WorkspaceHandler) {
	if site != nil {
		r.GET("/", site.Health)
		r.POST("/generate", site.Generate)
		r.POST("/generate/stream", site.GenerateStream)
		r.POST("/refine", site.Refine)
	}

	if ws != nil {
		api := r.Group("/api/workspace")
		{
			api.GET("", ws.Status)
			api.POST("/generate", ws.StartGeneration)
			api.POST("/refine", ws.Refine)
			api.POST("/cancel", ws.Cancel)
			api.GET("/events", ws.Events)
			api.GET("/document", ws.Document)
			api.POST("/export", ws.Export)
			api.GET("/exports", ws.ListExports)
			api.GET("/exports/:name", ws.GetExport)
			api.DELETE("/exports/:name", ws.DeleteExport)
		}
	}
}

// RequestID propagates or assigns X-Request-ID and logs every request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(utils.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(utils.RequestIDHeader, id)
		c.Set("request_id", id)

		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"elapsed":    time.Since(start).Round(time.Millisecond),
		}).Debug("request served")
	}
}
