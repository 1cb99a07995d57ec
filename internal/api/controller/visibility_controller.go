package controller

import (
	"net/http"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/visibility"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// VisibilityService accepts host snapshots.
type VisibilityService interface {
	ApplyVisibility(u visibility.Update) error
}

// SnapshotReader returns the current host snapshot.
type SnapshotReader interface {
	Snapshot() visibility.Update
}

// VisibilityController lets the host report what is on screen.
type VisibilityController struct {
	service   VisibilityService
	host      SnapshotReader
	validator *validator.Validate
}

// NewVisibilityController creates a VisibilityController.
func NewVisibilityController(service VisibilityService, host SnapshotReader) *VisibilityController {
	return &VisibilityController{service: service, host: host, validator: validator.New()}
}

// Apply handles PUT /visibility.
func (vc *VisibilityController) Apply(c *gin.Context) {
	var u visibility.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}
	if err := vc.validator.Struct(u); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := vc.service.ApplyVisibility(u); err != nil {
		writeError(c, "visibility-controller", err)
		return
	}
	logger.WithComponent("visibility-controller").Debugf("host snapshot applied: mode=%s top=%s list=%d", u.Mode, u.TopPage, len(u.ListPages))
	c.JSON(http.StatusOK, vc.host.Snapshot())
}

// Get handles GET /visibility.
func (vc *VisibilityController) Get(c *gin.Context) {
	c.JSON(http.StatusOK, vc.host.Snapshot())
}
