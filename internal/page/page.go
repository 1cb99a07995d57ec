// Package page holds the data model shared by the renderer, the texture store,
// the cache manager and the export pipeline.
package page

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is the opaque identity of a page.
type ID string

// NewID returns a fresh random page id.
func NewID() ID {
	return ID(uuid.New().String())
}

func (id ID) String() string { return string(id) }

// Size is a width/height pair. Page sizes are in points; bitmap sizes in pixels.
type Size struct {
	W int `json:"w" yaml:"w" mapstructure:"w" validate:"gt=0"`
	H int `json:"h" yaml:"h" mapstructure:"h" validate:"gt=0"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool { return s.W > 0 && s.H > 0 }

// Bytes is the memory footprint of an RGBA bitmap of this size.
func (s Size) Bytes() int64 { return int64(s.W) * int64(s.H) * 4 }

// Swap returns the size with width and height exchanged.
func (s Size) Swap() Size { return Size{W: s.H, H: s.W} }

// Scale multiplies both dimensions, rounding to the nearest pixel.
func (s Size) Scale(f float64) Size {
	return Size{W: int(float64(s.W)*f + 0.5), H: int(float64(s.H)*f + 0.5)}
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.W, s.H) }

// Rotation is the orientation a page is exported in.
type Rotation int

const (
	RotationDefault Rotation = iota
	RotationLandscapeLeft
	RotationPortrait
	RotationLandscapeRight
)

var rotationNames = map[Rotation]string{
	RotationDefault:        "default",
	RotationLandscapeLeft:  "landscape_left",
	RotationPortrait:       "portrait",
	RotationLandscapeRight: "landscape_right",
}

func (r Rotation) String() string {
	if name, ok := rotationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rotation(%d)", int(r))
}

// IsLandscape reports whether the rotation turns the page on its side.
func (r Rotation) IsLandscape() bool {
	return r == RotationLandscapeLeft || r == RotationLandscapeRight
}

// ParseRotation accepts the names produced by String, case-insensitive.
// The empty string parses as RotationDefault.
func ParseRotation(s string) (Rotation, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if norm == "" {
		return RotationDefault, nil
	}
	for r, name := range rotationNames {
		if name == norm {
			return r, nil
		}
	}
	return RotationDefault, fmt.Errorf("%w: unknown rotation %q", ErrInvalidSpec, s)
}

func (r Rotation) MarshalText() ([]byte, error) {
	if _, ok := rotationNames[r]; !ok {
		return nil, fmt.Errorf("%w: unknown rotation %d", ErrInvalidSpec, int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rotation) UnmarshalText(text []byte) error {
	parsed, err := ParseRotation(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Resolve picks the rotation to export with: an explicit override wins,
// then the page's ideal rotation, then the host default.
func Resolve(override, ideal, fallback Rotation) Rotation {
	if override != RotationDefault {
		return override
	}
	if ideal != RotationDefault {
		return ideal
	}
	if fallback != RotationDefault {
		return fallback
	}
	return RotationPortrait
}

// Record is a page as the document knows it.
type Record struct {
	ID                  ID             `json:"id" validate:"required"`
	StackID             string         `json:"stackId" validate:"required"`
	Order               int            `json:"order"`
	IdealExportRotation Rotation       `json:"idealExportRotation"`
	Background          BackgroundSpec `json:"background"`
	Generation          uint64         `json:"generation"`
	Size                Size           `json:"size"`
}

// Clone returns a copy that shares no maps with r.
func (r Record) Clone() Record {
	r.Background = r.Background.Clone()
	return r
}

// Stack is an ordered group of pages.
type Stack struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	PageIDs []ID   `json:"pageIds"`
}
