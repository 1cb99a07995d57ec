package controller

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bassista/go_leaf/internal/ink"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/texture"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// PageService is the page side of the application container.
type PageService interface {
	Pages() []page.Record
	AddPage(rec page.Record, index int) (page.Record, error)
	RemovePage(id page.ID) (page.Record, error)
	SetBackground(id page.ID, spec page.BackgroundSpec) (page.Record, error)
	SetIdealExportRotation(id page.ID, r page.Rotation) (page.Record, error)
	ImportAsset(id page.ID, source string) (page.Record, error)
	WriteInk(id page.ID, layer ink.Layer, r io.Reader) error
}

// TextureReader serves the persisted derived files of a page.
type TextureReader interface {
	Properties(id page.ID) (texture.Properties, error)
	TexturePath(id page.ID) (string, bool)
	ThumbnailPath(id page.ID, kind texture.ThumbKind) (string, bool)
}

// PageCrudService implements CrudService for pages. POST /page?index=n
// inserts at position n of the stack; without it the page goes last.
type PageCrudService struct {
	Pages PageService
}

func (s *PageCrudService) All() ([]page.Record, error) {
	return s.Pages.Pages(), nil
}

func (s *PageCrudService) Add(c *gin.Context, rec page.Record) (page.Record, error) {
	index := -1
	if raw := c.Query("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page.Record{}, fmt.Errorf("%w: index %q", page.ErrInvalidSpec, raw)
		}
		index = n
	}
	return s.Pages.AddPage(rec, index)
}

func (s *PageCrudService) Remove(name string) (page.Record, error) {
	return s.Pages.RemovePage(page.ID(name))
}

// PageCrudValidator checks the fields a client must send.
type PageCrudValidator struct {
	validator *validator.Validate
}

func (v *PageCrudValidator) Validate(rec page.Record) error {
	if err := v.validator.Var(rec.StackID, "required"); err != nil {
		return fmt.Errorf("stackId is required")
	}
	if rec.Background.Kind == "" {
		return nil
	}
	return rec.Background.Validate()
}

// PageController handles page endpoints beyond plain CRUD.
type PageController struct {
	crud     *CrudController[page.Record]
	pages    PageService
	textures TextureReader
}

// NewPageController creates a PageController.
func NewPageController(pages PageService, textures TextureReader) *PageController {
	return &PageController{
		crud: &CrudController[page.Record]{
			Component: "page-controller",
			Service:   &PageCrudService{Pages: pages},
			Validator: &PageCrudValidator{validator: validator.New()},
		},
		pages:    pages,
		textures: textures,
	}
}

// Crud exposes the generic list/create/delete handlers.
func (pc *PageController) Crud() *CrudController[page.Record] { return pc.crud }

// SetBackground handles PUT /page/:name/background.
func (pc *PageController) SetBackground(c *gin.Context) {
	var spec page.BackgroundSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid payload"})
		return
	}
	rec, err := pc.pages.SetBackground(page.ID(c.Param("name")), spec)
	if err != nil {
		writeError(c, "page-controller", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RotationRequest is the body of PUT /page/:name/rotation.
type RotationRequest struct {
	Rotation page.Rotation `json:"rotation"`
}

// SetRotation handles PUT /page/:name/rotation.
func (pc *PageController) SetRotation(c *gin.Context) {
	var req RotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	rec, err := pc.pages.SetIdealExportRotation(page.ID(c.Param("name")), req.Rotation)
	if err != nil {
		writeError(c, "page-controller", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// WriteInk handles PUT /page/:name/ink?layer=ink|scraps with a PNG body.
func (pc *PageController) WriteInk(c *gin.Context) {
	layer, err := ink.ParseLayer(c.Query("layer"))
	if err != nil {
		writeError(c, "page-controller", err)
		return
	}
	id := page.ID(c.Param("name"))
	if err := pc.pages.WriteInk(id, layer, c.Request.Body); err != nil {
		writeError(c, "page-controller", err)
		return
	}
	logger.WithPage("page-controller", string(id)).Debugf("%s layer stored", layer)
	c.Status(http.StatusNoContent)
}

// ImportRequest is the body of POST /page/:name/original.
type ImportRequest struct {
	Source string `json:"source"`
}

// ImportOriginal handles POST /page/:name/original.
func (pc *PageController) ImportOriginal(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Source == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "source is required"})
		return
	}
	rec, err := pc.pages.ImportAsset(page.ID(c.Param("name")), req.Source)
	if err != nil {
		writeError(c, "page-controller", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Properties handles GET /page/:name/properties.
func (pc *PageController) Properties(c *gin.Context) {
	props, err := pc.textures.Properties(page.ID(c.Param("name")))
	if err != nil {
		writeError(c, "page-controller", err)
		return
	}
	c.JSON(http.StatusOK, props)
}

// Texture handles GET /page/:name/texture. ?thumb=standard|scrapped serves
// a thumbnail instead of the full texture.
func (pc *PageController) Texture(c *gin.Context) {
	id := page.ID(c.Param("name"))
	var (
		path string
		ok   bool
	)
	switch thumb := c.Query("thumb"); thumb {
	case "":
		path, ok = pc.textures.TexturePath(id)
	case string(texture.ThumbStandard), string(texture.ThumbScrapped):
		path, ok = pc.textures.ThumbnailPath(id, texture.ThumbKind(thumb))
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "thumb must be standard or scrapped"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "texture not found"})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.File(path)
}
