package controller

import (
	"net/http"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/gin-gonic/gin"
)

// CrudService defines the minimal interface required for CRUD operations.
type CrudService[T any] interface {
	All() ([]T, error)
	Add(c *gin.Context, item T) (T, error)
	Remove(name string) (T, error)
}

// CrudValidator defines the interface for validating a resource.
type CrudValidator[T any] interface {
	Validate(item T) error
}

// CrudController provides generic CRUD handlers for resources.
type CrudController[T any] struct {
	Component string
	Service   CrudService[T]
	Validator CrudValidator[T]
}

// RegisterCrudRoutes registers CRUD endpoints for a resource on the given router group.
// Without removable, the DELETE route is not registered.
func (cc *CrudController[T]) RegisterCrudRoutes(rg *gin.RouterGroup, resource string, removable bool) {
	rg.GET("/"+resource+"s", cc.GetAll)
	rg.POST("/"+resource, cc.CreateOrUpdate)
	if removable {
		rg.DELETE("/"+resource+"/:name", cc.Delete)
	}
}

// GetAll handles GET requests to list all resources.
func (cc *CrudController[T]) GetAll(c *gin.Context) {
	items, err := cc.Service.All()
	if err != nil {
		writeError(c, cc.component(), err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// CreateOrUpdate handles POST requests to create or update a resource.
func (cc *CrudController[T]) CreateOrUpdate(c *gin.Context) {
	var item T
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}
	if cc.Validator != nil {
		if err := cc.Validator.Validate(item); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}
	saved, err := cc.Service.Add(c, item)
	if err != nil {
		writeError(c, cc.component(), err)
		return
	}
	logger.WithComponent(cc.component()).Debugf("%s %s stored", c.Request.Method, c.Request.URL.Path)
	c.JSON(http.StatusOK, saved)
}

// Delete handles DELETE requests to remove a resource by name.
func (cc *CrudController[T]) Delete(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing resource name"})
		return
	}
	removed, err := cc.Service.Remove(name)
	if err != nil {
		writeError(c, cc.component(), err)
		return
	}
	c.JSON(http.StatusOK, removed)
}

func (cc *CrudController[T]) component() string {
	if cc.Component == "" {
		return "http"
	}
	return cc.Component
}
