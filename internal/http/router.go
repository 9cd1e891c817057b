package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/logging"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	log := logging.OrNop(cfg.Logger).WithField("component", "http")

	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.Version)
	for name, check := range cfg.HealthChecks {
		health.WithCheck(name, check)
	}
	router.GET("/health", health.Status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	importsController := NewImportsController(cfg.Imports, log)
	api.POST("/imports", cfg.ImportRateLimit.Middleware(), importsController.Create)
	api.GET("/imports", importsController.List)
	api.GET("/imports/:id", importsController.Get)
	api.GET("/imports/:id/files", importsController.Files)

	if cfg.Tasks != nil {
		tasksController := NewTasksController(cfg.Tasks, log)
		api.GET("/tasks/:id", tasksController.GetTaskStatus)
	}

	return router
}

// requestLogger logs one line per request through logrus.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
