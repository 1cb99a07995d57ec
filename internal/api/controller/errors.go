package controller

import (
	"errors"
	"net/http"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps err through the failure taxonomy. Server-side failures are
// logged; client errors only at debug.
func writeError(c *gin.Context, component string, err error) {
	status := page.HTTPStatus(err)
	if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		status = http.StatusGatewayTimeout
	}
	log := logger.WithComponent(component)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		log.Debugf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
