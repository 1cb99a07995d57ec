package controller

import (
	"net/http"

	"github.com/bassista/go_leaf/internal/cache"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// CacheInspector is the read side of the cache manager.
type CacheInspector interface {
	Stats() cache.Stats
	State(key cache.Key) cache.State
	Options() cache.Options
}

// StateResponse is the body of GET /cache/:name/state.
type StateResponse struct {
	Key   cache.Key   `json:"key"`
	State cache.State `json:"state"`
}

// CacheController exposes cache statistics and per-key state.
type CacheController struct {
	cache CacheInspector
}

func NewCacheController(c CacheInspector) *CacheController {
	return &CacheController{cache: c}
}

// Stats handles GET /cache/stats.
func (cc *CacheController) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, cc.cache.Stats())
}

// State handles GET /cache/:name/state?w=&h=. Missing dimensions default
// to the configured page size.
func (cc *CacheController) State(c *gin.Context) {
	size := cc.cache.Options().PageSize
	if raw := c.Query("w"); raw != "" {
		w, err := cast.ToIntE(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "w must be an integer"})
			return
		}
		size.W = w
	}
	if raw := c.Query("h"); raw != "" {
		h, err := cast.ToIntE(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "h must be an integer"})
			return
		}
		size.H = h
	}
	if !size.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "size must be positive"})
		return
	}
	key := cache.Key{ID: page.ID(c.Param("name")), Size: size}
	c.JSON(http.StatusOK, StateResponse{Key: key, State: cc.cache.State(key)})
}
