package route

import (
	"net/http"

	"github.com/bassista/go_leaf/internal/api/middleware"
	"github.com/bassista/go_leaf/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes builds the HTTP engine for the host surface. Every API route
// except the event stream runs under the configured request timeout.
func SetupRoutes(appCtx *app.App, log *logrus.Logger) *gin.Engine {
	cfg := appCtx.Config

	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware(log))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.Server.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})

	// Exported artifacts are plain files named by the pipeline.
	r.Static(cfg.Export.URLPrefix, cfg.Export.Dir)

	NewEventRouter(r, appCtx.Events)

	publicRouter := r.Group("")
	publicRouter.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	NewConfigurationRouter(publicRouter, cfg)
	NewPageRouter(publicRouter, appCtx, appCtx.Textures)
	NewStackRouter(publicRouter, appCtx.Document)
	NewVisibilityRouter(publicRouter, appCtx, appCtx.Host)
	NewCacheRouter(publicRouter, appCtx.Cache)
	NewExportRouter(publicRouter, appCtx.Export, appCtx)

	return r
}
