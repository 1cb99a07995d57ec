// Package pattern rasterizes page backgrounds: procedural ruled/grid paper
// drawn with gg, and imported images fitted to the target size.
//
// Renderers are pure: they never read the cache or write to disk.
package pattern

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/bassista/go_leaf/internal/page"
)

// Renderer turns a background spec into a bitmap of exactly size pixels.
type Renderer interface {
	Render(ctx context.Context, spec page.BackgroundSpec, size page.Size) (*image.RGBA, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, spec page.BackgroundSpec, size page.Size) (*image.RGBA, error)

func (f RendererFunc) Render(ctx context.Context, spec page.BackgroundSpec, size page.Size) (*image.RGBA, error) {
	return f(ctx, spec, size)
}

// FitPolicy decides how an asset whose aspect differs from the target is placed.
type FitPolicy string

const (
	FitLetterbox FitPolicy = "letterbox"
	FitCrop      FitPolicy = "crop"
)

// Config holds renderer settings shared by every page.
type Config struct {
	// BasisWidth is the page width, in points, that procedural parameters refer to.
	BasisWidth float64
	Fit        FitPolicy
	// Paper is the default paper color, overridable per spec with the "paper" param.
	Paper string
}

// DefaultConfig matches the defaults of the configuration file.
func DefaultConfig() Config {
	return Config{BasisWidth: 768, Fit: FitLetterbox, Paper: "#FFFFFF"}
}

// Composite dispatches procedural specs and asset-backed specs to their renderers.
type Composite struct {
	Procedural Renderer
	Asset      Renderer
}

func (c *Composite) Render(ctx context.Context, spec page.BackgroundSpec, size page.Size) (*image.RGBA, error) {
	if spec.IsProcedural() {
		return c.Procedural.Render(ctx, spec, size)
	}
	return c.Asset.Render(ctx, spec, size)
}

// NewRendererFromConfig builds the composite renderer.
// An empty fit policy defaults to letterbox.
func NewRendererFromConfig(cfg Config) (Renderer, error) {
	if cfg.BasisWidth <= 0 {
		return nil, fmt.Errorf("render basis width must be positive, got %v", cfg.BasisWidth)
	}
	if _, err := parseColor(cfg.Paper); err != nil {
		return nil, fmt.Errorf("render paper color: %w", err)
	}
	switch FitPolicy(strings.ToLower(string(cfg.Fit))) {
	case FitLetterbox, "":
		cfg.Fit = FitLetterbox
	case FitCrop:
		cfg.Fit = FitCrop
	default:
		return nil, fmt.Errorf("unknown fit policy: %s (supported: %s, %s)", cfg.Fit, FitLetterbox, FitCrop)
	}
	return &Composite{
		Procedural: NewProceduralRenderer(cfg),
		Asset:      NewAssetRenderer(cfg),
	}, nil
}
