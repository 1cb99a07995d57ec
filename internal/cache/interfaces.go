package cache

import (
	"context"
	"image"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/texture"
)

// SpecSource is the document view the manager needs: the current record,
// and so the current background generation, of a page.
type SpecSource interface {
	Lookup(id page.ID) (page.Record, bool)
}

// TextureStore is the subset of the texture store used for disk hits and
// write-through.
type TextureStore interface {
	LoadFullTexture(id page.ID) (image.Image, texture.Properties, error)
	WriteBackground(id page.ID, set texture.Set) error
	WriteThumbnails(id page.ID, full, scrapped image.Image) error
	ThumbnailSize() page.Size
}

// ScrapSource supplies the scrap layer composited into the scrapped
// thumbnail. A nil image means the page has no scraps.
type ScrapSource interface {
	Scraps(ctx context.Context, id page.ID) (image.Image, error)
}

// Requester is the cache API the export pipeline and controllers use.
type Requester interface {
	Request(key Key) *Future
	Acquire(ctx context.Context, key Key) (*Bitmap, error)
	State(key Key) State
}

// Notifier receives host events that change what is relevant.
type Notifier interface {
	BackgroundChanged(id page.ID)
	ScrapsChanged(id page.ID) error
	VisibilityChanged()
	Forget(id page.ID)
}
