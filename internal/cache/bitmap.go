package cache

import (
	"context"
	"image"
	"sync"
)

// Bitmap is a rendered background shared by every holder of a key.
// The image must not be modified.
type Bitmap struct {
	Key        Key
	Generation uint64
	Image      *image.RGBA

	source Source
	m      *Manager
	refs int // guarded by m.mu
}

// Bytes is the memory accounted for this bitmap.
func (b *Bitmap) Bytes() int64 { return b.Key.Size.Bytes() }

// Release drops a reference taken by Acquire.
func (b *Bitmap) Release() {
	if b == nil || b.m == nil {
		return
	}
	b.m.release(b)
}

// Future is the pending result of a Request.
type Future struct {
	done chan struct{}
	once sync.Once
	bmp  *Bitmap
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolved(b *Bitmap, err error) *Future {
	f := newFuture()
	f.resolve(b, err)
	return f
}

func (f *Future) resolve(b *Bitmap, err error) {
	f.once.Do(func() {
		f.bmp, f.err = b, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks for the result. The bitmap is not referenced; use
// Manager.Acquire to hold one.
func (f *Future) Wait(ctx context.Context) (*Bitmap, error) {
	select {
	case <-f.done:
		return f.bmp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
