package route

import (
	"github.com/bassista/go_leaf/internal/api/controller"
	"github.com/gin-gonic/gin"
)

func NewPageRouter(group *gin.RouterGroup, pages controller.PageService, textures controller.TextureReader) {
	pc := controller.NewPageController(pages, textures)

	pc.Crud().RegisterCrudRoutes(group, "page", true)
	group.PUT("page/:name/background", pc.SetBackground)
	group.PUT("page/:name/rotation", pc.SetRotation)
	group.PUT("page/:name/ink", pc.WriteInk)
	group.POST("page/:name/original", pc.ImportOriginal)
	group.GET("page/:name/properties", pc.Properties)
	group.GET("page/:name/texture", pc.Texture)
}

func NewStackRouter(group *gin.RouterGroup, store controller.StackStore) {
	controller.NewStackController(store).RegisterCrudRoutes(group, "stack", false)
}
