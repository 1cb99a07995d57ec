package controller

import (
	"net/http"

	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/gin-gonic/gin"
)

// ConfigurationResponse represents the configuration response structure for the API.
type ConfigurationResponse struct {
	PageSize        page.Size     `json:"pageSize"`
	ThumbnailSize   page.Size     `json:"thumbnailSize"`
	PrefetchRadius  int           `json:"prefetchRadius"`
	DefaultRotation page.Rotation `json:"defaultRotation"`
	ImageScale      float64       `json:"imageScale"`
	ArtifactsURL    string        `json:"artifactsUrl"`
	SweepIntervalMs int64         `json:"sweepIntervalMs"`
}

// ConfigurationController handles configuration-related API endpoints.
type ConfigurationController struct {
	config *config.Config
}

// NewConfigurationController creates a new ConfigurationController.
func NewConfigurationController(cfg *config.Config) *ConfigurationController {
	return &ConfigurationController{
		config: cfg,
	}
}

// GetConfiguration returns the settings a host needs to size its requests.
func (cc *ConfigurationController) GetConfiguration(c *gin.Context) {
	response := ConfigurationResponse{
		PageSize:        cc.config.Cache.PageSize(),
		ThumbnailSize:   cc.config.Cache.ThumbnailSize(),
		PrefetchRadius:  cc.config.Cache.PrefetchRadius,
		DefaultRotation: cc.config.Export.Rotation(),
		ImageScale:      cc.config.Export.ImageScale,
		ArtifactsURL:    cc.config.Export.URLPrefix,
		SweepIntervalMs: cc.config.Cache.SweepInterval.Milliseconds(),
	}
	c.JSON(http.StatusOK, response)
}
