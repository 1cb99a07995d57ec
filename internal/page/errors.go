package page

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// Failure taxonomy. Each sentinel wraps an errdefs class so callers can
// branch on either the specific failure or its category.
var (
	ErrPageNotFound    = fmt.Errorf("page not found: %w", errdefs.ErrNotFound)
	ErrStackNotFound   = fmt.Errorf("stack not found: %w", errdefs.ErrNotFound)
	ErrInvalidSpec     = fmt.Errorf("invalid background: %w", errdefs.ErrInvalidArgument)
	ErrAssetDecode     = fmt.Errorf("asset decode failure: %w", errdefs.ErrDataLoss)
	ErrRender          = fmt.Errorf("render failure: %w", errdefs.ErrInternal)
	ErrDiskWrite       = fmt.Errorf("disk write failure: %w", errdefs.ErrUnavailable)
	ErrExportCancelled = fmt.Errorf("export cancelled: %w", errdefs.ErrAborted)
)

// HTTPStatus maps an error from any pipeline stage to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrExportCancelled), errdefs.IsAborted(err):
		return http.StatusConflict
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsDataLoss(err):
		return http.StatusUnprocessableEntity
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsCanceled(err), errdefs.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
