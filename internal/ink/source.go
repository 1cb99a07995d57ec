// Package ink stores the per-page layers drawn on top of a background:
// the ink strokes and the scraps pasted onto the page.
package ink

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
)

// Layer names one of the overlay images of a page.
type Layer string

const (
	LayerInk    Layer = "ink"
	LayerScraps Layer = "scraps"
)

// ParseLayer accepts "ink" and "scraps"; the empty string means ink.
func ParseLayer(s string) (Layer, error) {
	switch Layer(s) {
	case "", LayerInk:
		return LayerInk, nil
	case LayerScraps:
		return LayerScraps, nil
	}
	return "", fmt.Errorf("%w: unknown layer %q", page.ErrInvalidSpec, s)
}

// Source reads the overlay layers of a page. A page without a layer
// yields a nil image and no error.
type Source interface {
	Ink(ctx context.Context, id page.ID) (image.Image, error)
	Scraps(ctx context.Context, id page.ID) (image.Image, error)
}

// DirSource keeps layers as PNG files under <root>/<page id>/<layer>.png.
type DirSource struct {
	root string
	mu   sync.RWMutex
}

// NewDirSource creates root if needed.
func NewDirSource(root string) (*DirSource, error) {
	if root == "" {
		return nil, errors.New("ink directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create ink dir: %v", page.ErrDiskWrite, err)
	}
	return &DirSource{root: root}, nil
}

func (s *DirSource) path(id page.ID, layer Layer) string {
	return filepath.Join(s.root, string(id), string(layer)+".png")
}

// Ink returns the ink layer of a page.
func (s *DirSource) Ink(ctx context.Context, id page.ID) (image.Image, error) {
	return s.read(ctx, id, LayerInk)
}

// Scraps returns the scrap layer of a page.
func (s *DirSource) Scraps(ctx context.Context, id page.ID) (image.Image, error) {
	return s.read(ctx, id, LayerScraps)
}

func (s *DirSource) read(ctx context.Context, id page.ID, layer Layer) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, err := pattern.DecodeFile(s.path(id, layer))
	if err != nil {
		if _, statErr := os.Stat(s.path(id, layer)); errors.Is(statErr, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return img, nil
}

// Write replaces a layer with the image read from r. Any format the
// renderer can decode is accepted; the layer is stored as PNG.
func (s *DirSource) Write(id page.ID, layer Layer, r io.Reader) error {
	img, err := pattern.Decode(r)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.root, string(id))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", page.ErrDiskWrite, err)
	}
	tmp, err := os.CreateTemp(dir, string(layer)+".tmp-")
	if err != nil {
		return fmt.Errorf("%w: %v", page.ErrDiskWrite, err)
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: encode %s: %v", page.ErrDiskWrite, layer, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", page.ErrDiskWrite, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id, layer)); err != nil {
		return fmt.Errorf("%w: %v", page.ErrDiskWrite, err)
	}
	logger.WithPage("ink", string(id)).Debugf("%s layer updated (%s)", layer, img.Bounds().Size())
	return nil
}

// Remove deletes every layer of a page.
func (s *DirSource) Remove(id page.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(s.root, string(id))); err != nil {
		return fmt.Errorf("%w: %v", page.ErrDiskWrite, err)
	}
	return nil
}
