package controller

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bassista/go_leaf/internal/export"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Exporter runs synchronous exports and tracks background tasks.
type Exporter interface {
	ExportPage(ctx context.Context, id page.ID, rotation page.Rotation, format export.Format) (*export.Artifact, error)
	ExportVisible(ctx context.Context, rotation page.Rotation, format export.Format) (*export.Artifact, error)
	Task(id string) (*export.Task, bool)
	Tasks() []export.TaskStatus
}

// TaskSubmitter starts export tasks bound to the application lifetime,
// not to the request that asked for them.
type TaskSubmitter interface {
	SubmitExport(job export.Job) (*export.Task, error)
}

// ExportController handles export endpoints.
type ExportController struct {
	exporter  Exporter
	submitter TaskSubmitter
	validator *validator.Validate
}

func NewExportController(exporter Exporter, submitter TaskSubmitter) *ExportController {
	return &ExportController{exporter: exporter, submitter: submitter, validator: validator.New()}
}

func parseExportQuery(c *gin.Context) (export.Format, page.Rotation, error) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return "", page.RotationDefault, err
	}
	rotation, err := page.ParseRotation(c.Query("rotation"))
	if err != nil {
		return "", page.RotationDefault, err
	}
	return format, rotation, nil
}

// ExportPage handles POST /page/:name/export?format=&rotation=.
func (ec *ExportController) ExportPage(c *gin.Context) {
	format, rotation, err := parseExportQuery(c)
	if err != nil {
		writeError(c, "export-controller", err)
		return
	}
	art, err := ec.exporter.ExportPage(c.Request.Context(), page.ID(c.Param("name")), rotation, format)
	if err != nil {
		writeError(c, "export-controller", err)
		return
	}
	c.JSON(http.StatusCreated, art)
}

// ExportVisible handles POST /visible/export?format=&rotation=.
func (ec *ExportController) ExportVisible(c *gin.Context) {
	format, rotation, err := parseExportQuery(c)
	if err != nil {
		writeError(c, "export-controller", err)
		return
	}
	art, err := ec.exporter.ExportVisible(c.Request.Context(), rotation, format)
	if err != nil {
		writeError(c, "export-controller", err)
		return
	}
	c.JSON(http.StatusCreated, art)
}

// ExportStack handles POST /stack/:name/export?rotation=. A stack can be
// long, so it always runs as a task.
func (ec *ExportController) ExportStack(c *gin.Context) {
	_, rotation, err := parseExportQuery(c)
	if err != nil {
		writeError(c, "export-controller", err)
		return
	}
	ec.submit(c, export.Job{Kind: export.JobStack, Target: c.Param("name"), Format: export.FormatPDF, Rotation: rotation})
}

// Submit handles POST /exports with a Job body.
func (ec *ExportController) Submit(c *gin.Context) {
	var job export.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}
	if err := ec.validator.Struct(job); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if job.Kind == export.JobStack && job.Format != "" && job.Format != export.FormatPDF {
		writeError(c, "export-controller", fmt.Errorf("%w: stacks export to pdf only", page.ErrInvalidSpec))
		return
	}
	ec.submit(c, job)
}

func (ec *ExportController) submit(c *gin.Context, job export.Job) {
	t, err := ec.submitter.SubmitExport(job)
	if err != nil {
		writeError(c, "export-controller", err)
		return
	}
	logger.WithComponent("export-controller").Infof("export task %s started (%s %s)", t.ID(), job.Kind, job.Target)
	c.Header("Location", "/exports/"+t.ID())
	c.JSON(http.StatusAccepted, t.Status())
}

// List handles GET /exports.
func (ec *ExportController) List(c *gin.Context) {
	c.JSON(http.StatusOK, ec.exporter.Tasks())
}

// Get handles GET /exports/:id.
func (ec *ExportController) Get(c *gin.Context) {
	t, ok := ec.exporter.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return
	}
	c.JSON(http.StatusOK, t.Status())
}

// Cancel handles DELETE /exports/:id. The task stops after the page it is
// working on; the response reports the state at the time of the request.
func (ec *ExportController) Cancel(c *gin.Context) {
	t, ok := ec.exporter.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return
	}
	t.Cancel()
	c.JSON(http.StatusAccepted, t.Status())
}
