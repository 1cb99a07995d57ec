package route

import (
	"github.com/bassista/go_leaf/internal/api/controller"
	"github.com/gin-gonic/gin"
)

// NewVisibilityRouter exposes the host's visibility snapshot.
func NewVisibilityRouter(group *gin.RouterGroup, service controller.VisibilityService, host controller.SnapshotReader) {
	vc := controller.NewVisibilityController(service, host)

	group.PUT("visibility", vc.Apply)
	group.GET("visibility", vc.Get)
}

func NewCacheRouter(group *gin.RouterGroup, inspector controller.CacheInspector) {
	cc := controller.NewCacheController(inspector)

	group.GET("cache/stats", cc.Stats)
	group.GET("cache/:name/state", cc.State)
}

// NewExportRouter registers synchronous exports and the task endpoints.
// Stack exports always run as tasks.
func NewExportRouter(group *gin.RouterGroup, exporter controller.Exporter, submitter controller.TaskSubmitter) {
	ec := controller.NewExportController(exporter, submitter)

	group.POST("page/:name/export", ec.ExportPage)
	group.POST("visible/export", ec.ExportVisible)
	group.POST("stack/:name/export", ec.ExportStack)
	group.POST("exports", ec.Submit)
	group.GET("exports", ec.List)
	group.GET("exports/:id", ec.Get)
	group.DELETE("exports/:id", ec.Cancel)
}

func NewEventRouter(r gin.IRoutes, hub controller.Subscriber) {
	r.GET("/events", controller.NewEventController(hub).Stream)
}
