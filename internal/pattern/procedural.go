package pattern

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/gogpu/gg"
)

// Procedural defaults, in points.
const (
	DefaultSpacing     = 24.0
	DefaultMarginTop   = 72.0
	DefaultLineWidth   = 1.0
	DefaultLineColor   = "#A6C8E6"
	DefaultMarginColor = "#E6A6A6"
)

// Layout is the pixel geometry of a procedural background at one size.
type Layout struct {
	Size      page.Size
	Rows      []int // top edge of each horizontal rule
	Cols      []int // left edge of each vertical grid line
	MarginX   int   // left edge of the margin line, -1 when there is none
	LineWidth int

	Paper, Line, Margin gg.RGBA
}

// ComputeLayout resolves the background's parameters at the given pixel size.
// Parameters are scaled by size.W / basisWidth and rounded to whole pixels,
// so rules land on exact rows.
func ComputeLayout(spec page.BackgroundSpec, size page.Size, cfg Config) (Layout, error) {
	if !size.Valid() {
		return Layout{}, fmt.Errorf("%w: invalid size %s", page.ErrRender, size)
	}
	if err := spec.Validate(); err != nil {
		return Layout{}, err
	}
	scale := float64(size.W) / cfg.BasisWidth

	spacing, err := spec.Float(page.ParamSpacing, DefaultSpacing)
	if err != nil {
		return Layout{}, err
	}
	marginTop, err := spec.Float(page.ParamMarginTop, DefaultMarginTop)
	if err != nil {
		return Layout{}, err
	}
	marginLeft, err := spec.Float(page.ParamMarginLeft, 0)
	if err != nil {
		return Layout{}, err
	}
	lineWidth, err := spec.Float(page.ParamLineWidth, DefaultLineWidth)
	if err != nil {
		return Layout{}, err
	}

	l := Layout{Size: size, MarginX: -1}
	if l.Paper, err = parseColor(spec.Param(page.ParamPaper, cfg.Paper)); err != nil {
		return Layout{}, err
	}
	if l.Line, err = parseColor(spec.Param(page.ParamColor, DefaultLineColor)); err != nil {
		return Layout{}, err
	}
	if l.Margin, err = parseColor(spec.Param(page.ParamMarginColor, DefaultMarginColor)); err != nil {
		return Layout{}, err
	}
	l.LineWidth = max(1, int(math.Round(lineWidth*scale)))

	if spec.Kind == page.KindNone {
		return l, nil
	}

	step := spacing * scale
	if step < 1 {
		return Layout{}, fmt.Errorf("%w: spacing %.2fpt collapses below one pixel at %s", page.ErrInvalidSpec, spacing, size)
	}
	for k := 0; ; k++ {
		y := int(math.Round((marginTop + float64(k)*spacing) * scale))
		if y >= size.H {
			break
		}
		l.Rows = append(l.Rows, y)
	}
	switch spec.Kind {
	case page.KindGrid:
		for k := 0; ; k++ {
			x := int(math.Round((marginLeft + float64(k)*spacing) * scale))
			if x >= size.W {
				break
			}
			l.Cols = append(l.Cols, x)
		}
	case page.KindRuled:
		if marginLeft > 0 {
			if x := int(math.Round(marginLeft * scale)); x < size.W {
				l.MarginX = x
			}
		}
	}
	return l, nil
}

// ProceduralRenderer draws ruled, grid and blank paper with gg.
type ProceduralRenderer struct {
	cfg Config
}

func NewProceduralRenderer(cfg Config) *ProceduralRenderer {
	return &ProceduralRenderer{cfg: cfg}
}

func (r *ProceduralRenderer) Render(ctx context.Context, spec page.BackgroundSpec, size page.Size) (*image.RGBA, error) {
	l, err := ComputeLayout(spec, size, r.cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dc := gg.NewContext(size.W, size.H)
	defer func() { _ = dc.Close() }()
	dc.ClearWithColor(l.Paper)

	lw := float64(l.LineWidth)
	if len(l.Rows) > 0 || len(l.Cols) > 0 {
		for _, y := range l.Rows {
			dc.DrawRectangle(0, float64(y), float64(size.W), lw)
		}
		for _, x := range l.Cols {
			dc.DrawRectangle(float64(x), 0, lw, float64(size.H))
		}
		dc.SetRGBA(l.Line.R, l.Line.G, l.Line.B, l.Line.A)
		if err := dc.Fill(); err != nil {
			return nil, fmt.Errorf("%w: fill rules: %w", page.ErrRender, err)
		}
	}
	if l.MarginX >= 0 {
		dc.DrawRectangle(float64(l.MarginX), 0, lw, float64(size.H))
		dc.SetRGBA(l.Margin.R, l.Margin.G, l.Margin.B, l.Margin.A)
		if err := dc.Fill(); err != nil {
			return nil, fmt.Errorf("%w: fill margin: %w", page.ErrRender, err)
		}
	}

	logger.WithComponent("render").Tracef("rendered %s background at %s (%d rows, %d cols)", spec.Kind, size, len(l.Rows), len(l.Cols))
	return toRGBA(dc.Image()), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// parseColor accepts #RGB, #RGBA, #RRGGBB and #RRGGBBAA.
func parseColor(s string) (gg.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(hex) {
	case 3, 4, 6, 8:
	default:
		return gg.RGBA{}, fmt.Errorf("%w: color %q", page.ErrInvalidSpec, s)
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return gg.RGBA{}, fmt.Errorf("%w: color %q", page.ErrInvalidSpec, s)
		}
	}
	return gg.Hex(hex), nil
}
