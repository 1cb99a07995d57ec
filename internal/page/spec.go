package page

import (
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
)

// PatternKind selects how a background is produced.
type PatternKind string

const (
	KindNone  PatternKind = "none"
	KindRuled PatternKind = "ruled"
	KindGrid  PatternKind = "grid"
	KindImage PatternKind = "image"
)

// Named parameters understood by the procedural renderer.
const (
	ParamSpacing     = "spacing"
	ParamMarginTop   = "margin_top"
	ParamMarginLeft  = "margin_left"
	ParamLineWidth   = "line_width"
	ParamColor       = "color"
	ParamMarginColor = "margin_color"
	ParamPaper       = "paper"
)

var numericParams = []string{ParamSpacing, ParamMarginTop, ParamMarginLeft, ParamLineWidth}

// BackgroundSpec describes a page background: either a procedural pattern
// with named parameters, or an imported asset plus its derived texture.
// A spec is never mutated after it is attached to a page; changing a
// background replaces the whole value.
type BackgroundSpec struct {
	Kind    PatternKind       `json:"kind" yaml:"kind" validate:"required,oneof=none ruled grid image"`
	Params  map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Asset   string            `json:"asset,omitempty" yaml:"asset,omitempty"`
	Texture string            `json:"texture,omitempty" yaml:"texture,omitempty"`
}

// Ruled builds a ruled-paper spec.
func Ruled(params map[string]string) BackgroundSpec {
	return BackgroundSpec{Kind: KindRuled, Params: maps.Clone(params)}
}

// Grid builds a grid-paper spec.
func Grid(params map[string]string) BackgroundSpec {
	return BackgroundSpec{Kind: KindGrid, Params: maps.Clone(params)}
}

// Float returns a numeric parameter, or def when it is not set.
func (s BackgroundSpec) Float(name string, def float64) (float64, error) {
	raw, ok := s.Params[name]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return def, fmt.Errorf("%w: param %s=%q is not a number", ErrInvalidSpec, name, raw)
	}
	return v, nil
}

// Param returns a string parameter, or def when it is not set.
func (s BackgroundSpec) Param(name, def string) string {
	if v, ok := s.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// IsProcedural reports whether the renderer draws this background itself.
func (s BackgroundSpec) IsProcedural() bool {
	return s.Kind == KindNone || s.Kind == KindRuled || s.Kind == KindGrid
}

// Source is the image a non-procedural background is decoded from:
// the derived texture when present, the original asset otherwise.
func (s BackgroundSpec) Source() string {
	if s.Texture != "" {
		return s.Texture
	}
	return s.Asset
}

// Validate checks the kind, the numeric parameters and asset references.
func (s BackgroundSpec) Validate() error {
	switch s.Kind {
	case KindNone, KindRuled, KindGrid:
	case KindImage:
		if s.Source() == "" {
			return fmt.Errorf("%w: image background needs an asset or texture", ErrInvalidSpec)
		}
	default:
		return fmt.Errorf("%w: unknown pattern kind %q", ErrInvalidSpec, s.Kind)
	}
	for _, name := range numericParams {
		v, err := s.Float(name, 0)
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("%w: param %s must not be negative", ErrInvalidSpec, name)
		}
	}
	if raw, ok := s.Params[ParamSpacing]; ok && raw != "" {
		if v, _ := s.Float(ParamSpacing, 0); v == 0 {
			return fmt.Errorf("%w: spacing must be positive", ErrInvalidSpec)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s BackgroundSpec) Clone() BackgroundSpec {
	s.Params = maps.Clone(s.Params)
	return s
}

// Equal compares two specs field by field.
func (s BackgroundSpec) Equal(o BackgroundSpec) bool {
	if s.Kind != o.Kind || s.Asset != o.Asset || s.Texture != o.Texture {
		return false
	}
	if len(s.Params) != len(o.Params) {
		return false
	}
	return maps.Equal(s.Params, o.Params)
}

// LocalPath turns an asset reference (plain path or file:// URL) into a
// filesystem path.
func LocalPath(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty asset reference", ErrInvalidSpec)
	}
	if !strings.Contains(ref, "://") {
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: asset url %q: %v", ErrInvalidSpec, ref, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported asset scheme %q", ErrInvalidSpec, u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}
