// Package cache keeps rendered page backgrounds in memory, keyed by page
// and pixel size.
//
// A key moves through Absent, Pending, Ready, Stale and Evicted. Requests
// for a key that is already rendering join the in-flight render, a bitmap
// whose generation is behind the page's background is never handed out,
// and eviction skips pages the host currently shows.
package cache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
	"github.com/bassista/go_leaf/internal/texture"
	"github.com/bassista/go_leaf/internal/visibility"
	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Options configures a Manager.
type Options struct {
	// MemoryBudget is the byte size of cached bitmaps above which eviction runs.
	MemoryBudget   int64
	RenderWorkers  int
	PageSize       page.Size
	ThumbnailSize  page.Size
	PrefetchRadius int
}

// Source tells where a Ready bitmap came from.
type Source string

const (
	SourceRender Source = "render"
	SourceDisk   Source = "disk"
)

// ReadyEvent is delivered to OnReady listeners after a bitmap is stored.
type ReadyEvent struct {
	Key        Key       `json:"key"`
	Generation uint64    `json:"generation"`
	Source     Source    `json:"source"`
	At         time.Time `json:"at"`
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Entries       map[State]int `json:"entries"`
	UsedBytes     int64         `json:"usedBytes"`
	BudgetBytes   int64         `json:"budgetBytes"`
	Renders       uint64        `json:"renders"`
	DiskLoads     uint64        `json:"diskLoads"`
	Coalesced     uint64        `json:"coalesced"`
	Failures      uint64        `json:"failures"`
	Evictions     uint64        `json:"evictions"`
	WriteFailures uint64        `json:"writeFailures"`
}

type entry struct {
	state  State
	gen    uint64
	bmp    *Bitmap
	access uint64
	// seq identifies the request that made the entry Pending. Only results
	// awaited under the same seq may settle it.
	seq uint64
}

// Manager owns the key-state table. Every transition happens under mu.
type Manager struct {
	ctx      context.Context
	renderer pattern.Renderer
	specs    SpecSource
	oracle   visibility.Oracle
	store    TextureStore
	scraps   ScrapSource
	opts     Options

	flight singleflight.Group
	sem    *semaphore.Weighted

	mu        sync.Mutex
	entries   map[Key]*entry
	failed    map[Key]uint64
	used      int64
	tick      uint64
	seq       uint64
	stats     Stats
	listeners map[int]func(ReadyEvent)
	nextID    int
}

// NewManager wires a manager. store and scraps may be nil.
func NewManager(ctx context.Context, r pattern.Renderer, specs SpecSource, oracle visibility.Oracle, store TextureStore, scraps ScrapSource, opts Options) (*Manager, error) {
	if r == nil || specs == nil || oracle == nil {
		return nil, errors.New("renderer, spec source and oracle are required")
	}
	if opts.MemoryBudget <= 0 {
		return nil, fmt.Errorf("memory budget must be positive, got %d", opts.MemoryBudget)
	}
	if !opts.PageSize.Valid() || !opts.ThumbnailSize.Valid() {
		return nil, fmt.Errorf("invalid cache sizes: page %s, thumbnail %s", opts.PageSize, opts.ThumbnailSize)
	}
	if opts.RenderWorkers <= 0 {
		opts.RenderWorkers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Manager{
		ctx:       ctx,
		renderer:  r,
		specs:     specs,
		oracle:    oracle,
		store:     store,
		scraps:    scraps,
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.RenderWorkers)),
		entries:   map[Key]*entry{},
		failed:    map[Key]uint64{},
		listeners: map[int]func(ReadyEvent){},
	}, nil
}

// Options returns the configuration the manager runs with.
func (m *Manager) Options() Options { return m.opts }

// OnReady registers a listener called after each bitmap is stored. The
// returned function unregisters it.
func (m *Manager) OnReady(fn func(ReadyEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Request asks for the key to become Ready. It is an explicit relevance
// event: a remembered failure for the key is cleared.
func (m *Manager) Request(key Key) *Future {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, key)
	return m.requestLocked(key)
}

// Acquire returns a Ready bitmap for key, rendering it if needed, and
// takes a reference the caller must Release.
func (m *Manager) Acquire(ctx context.Context, key Key) (*Bitmap, error) {
	b, err := m.Request(key).Wait(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	b.refs++
	if e, ok := m.entries[key]; ok && e.bmp == b {
		m.touchLocked(e)
	}
	m.mu.Unlock()
	return b, nil
}

func (m *Manager) release(b *Bitmap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.refs > 0 {
		b.refs--
	}
	if b.refs == 0 && m.used > m.opts.MemoryBudget {
		m.evictLocked()
	}
}

// State reports where key is in its lifecycle. A Ready entry whose
// generation is behind the page reports Stale.
func (m *Manager) State(key Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Absent
	}
	if e.state == Ready {
		if rec, ok := m.specs.Lookup(key.ID); !ok || rec.Generation != e.gen {
			return Stale
		}
	}
	return e.state
}

// Reconcile makes every relevant key Ready and applies the memory budget.
// Keys whose last render failed at the current generation are skipped.
func (m *Manager) Reconcile() int {
	targets := visibility.Relevant(m.oracle, visibility.Sizes{
		Page:           m.opts.PageSize,
		Thumbnail:      m.opts.ThumbnailSize,
		PrefetchRadius: m.opts.PrefetchRadius,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	started := 0
	for _, t := range targets {
		key := Key(t)
		rec, ok := m.specs.Lookup(key.ID)
		if !ok {
			continue
		}
		if gen, failed := m.failed[key]; failed && gen == rec.Generation {
			continue
		}
		if e, ok := m.entries[key]; ok && (e.state == Ready || e.state == Pending) && e.gen == rec.Generation {
			continue
		}
		m.requestLocked(key)
		started++
	}
	if m.used > m.opts.MemoryBudget {
		m.evictLocked()
	}
	if started > 0 {
		logger.WithComponent("cache").Debugf("reconcile started %d of %d relevant keys", started, len(targets))
	}
	return started
}

// BackgroundChanged marks the page's entries whose generation is behind
// the page Stale and re-requests the page's relevant keys.
func (m *Manager) BackgroundChanged(id page.ID) {
	m.mu.Lock()
	rec, known := m.specs.Lookup(id)
	for key, e := range m.entries {
		if key.ID != id {
			continue
		}
		if e.state == Ready && (!known || e.gen != rec.Generation) {
			e.state = Stale
		}
	}
	for key := range m.failed {
		if key.ID == id {
			delete(m.failed, key)
		}
	}
	m.mu.Unlock()

	logger.WithPage("cache", string(id)).Debug("background changed, entries marked stale")
	for _, t := range visibility.Relevant(m.oracle, m.sizes()) {
		if t.ID == id {
			m.Request(Key(t))
		}
	}
}

// VisibilityChanged clears remembered failures and reconciles.
func (m *Manager) VisibilityChanged() {
	m.mu.Lock()
	clear(m.failed)
	m.mu.Unlock()
	m.Reconcile()
}

// Forget drops every entry of a removed page.
func (m *Manager) Forget(id page.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if key.ID != id {
			continue
		}
		if e.bmp != nil {
			m.used -= e.bmp.Bytes()
		}
		delete(m.entries, key)
	}
	for key := range m.failed {
		if key.ID == id {
			delete(m.failed, key)
		}
	}
}

// Stats returns counters and a per-state entry count.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Entries = map[State]int{}
	for key, e := range m.entries {
		st := e.state
		if st == Ready {
			if rec, ok := m.specs.Lookup(key.ID); !ok || rec.Generation != e.gen {
				st = Stale
			}
		}
		s.Entries[st]++
	}
	s.UsedBytes = m.used
	s.BudgetBytes = m.opts.MemoryBudget
	return s
}

func (m *Manager) sizes() visibility.Sizes {
	return visibility.Sizes{Page: m.opts.PageSize, Thumbnail: m.opts.ThumbnailSize, PrefetchRadius: m.opts.PrefetchRadius}
}

func (m *Manager) touchLocked(e *entry) {
	m.tick++
	e.access = m.tick
}

func flightKey(key Key, gen uint64) string {
	return fmt.Sprintf("%s#%d", key, gen)
}

// requestLocked serves a current Ready entry or joins/starts the render
// for the page's current generation.
func (m *Manager) requestLocked(key Key) *Future {
	if !key.Size.Valid() {
		return resolved(nil, fmt.Errorf("%w: invalid size %s", page.ErrInvalidSpec, key.Size))
	}
	rec, ok := m.specs.Lookup(key.ID)
	if !ok {
		return resolved(nil, fmt.Errorf("request %s: %w", key, page.ErrPageNotFound))
	}
	if e, ok := m.entries[key]; ok && e.state == Ready && e.gen == rec.Generation {
		m.touchLocked(e)
		return resolved(e.bmp, nil)
	}
	f := newFuture()
	ch, seq := m.startLocked(key, rec)
	go m.await(f, key, rec.Generation, seq, ch)
	return f
}

// startLocked moves key to Pending at rec's generation and returns a
// channel for the shared render result together with the seq of the
// Pending entry.
func (m *Manager) startLocked(key Key, rec page.Record) (<-chan singleflight.Result, uint64) {
	e, ok := m.entries[key]
	if ok && e.state == Pending && e.gen == rec.Generation {
		m.stats.Coalesced++
	} else {
		if ok && e.bmp != nil {
			m.used -= e.bmp.Bytes()
		}
		m.seq++
		e = &entry{state: Pending, gen: rec.Generation, seq: m.seq}
		m.entries[key] = e
	}
	rec = rec.Clone()
	ch := m.flight.DoChan(flightKey(key, rec.Generation), func() (any, error) {
		return m.produce(key, rec)
	})
	return ch, e.seq
}

// await settles the Pending entry it was started for and resolves f once
// a render result matches the page's current generation, restarting the
// render when the background moved on. Every awaiter settles its own
// entry, so an entry that joined a render just before it finished is
// settled too.
func (m *Manager) await(f *Future, key Key, gen, seq uint64, ch <-chan singleflight.Result) {
	for {
		res := <-ch
		if res.Err != nil {
			m.abandon(key, gen, seq)
			f.resolve(nil, res.Err)
			return
		}
		b := res.Val.(*Bitmap)
		if ev, stored := m.commit(b, seq); stored {
			m.notify(ev)
		}

		m.mu.Lock()
		rec, ok := m.specs.Lookup(key.ID)
		switch {
		case !ok:
			m.mu.Unlock()
			f.resolve(nil, fmt.Errorf("request %s: %w", key, page.ErrPageNotFound))
			return
		case rec.Generation == b.Generation:
			m.mu.Unlock()
			f.resolve(b, nil)
			return
		}
		if e, ok := m.entries[key]; ok && e.state == Ready && e.gen == rec.Generation {
			m.touchLocked(e)
			cur := e.bmp
			m.mu.Unlock()
			f.resolve(cur, nil)
			return
		}
		ch, seq = m.startLocked(key, rec)
		gen = rec.Generation
		m.mu.Unlock()
	}
}

// produce obtains the bitmap for rec at key.Size. The awaiters commit it.
func (m *Manager) produce(key Key, rec page.Record) (*Bitmap, error) {
	log := logger.WithPage("cache", string(key.ID))
	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		return nil, m.fail(err)
	}
	img, src, err := m.obtain(key, rec)
	m.sem.Release(1)
	if err != nil {
		log.Warnf("render %s gen %d failed: %v", key.Size, rec.Generation, err)
		return nil, m.fail(err)
	}

	b := &Bitmap{Key: key, Generation: rec.Generation, Image: img, source: src, m: m}
	log.Debugf("bitmap %s gen %d ready from %s", key.Size, rec.Generation, src)
	return b, nil
}

func (m *Manager) obtain(key Key, rec page.Record) (*image.RGBA, Source, error) {
	if img, ok := m.fromDisk(key, rec); ok {
		return img, SourceDisk, nil
	}
	img, err := m.renderer.Render(m.ctx, rec.Background, key.Size)
	if err != nil {
		return nil, "", err
	}
	if img == nil || img.Bounds().Dx() != key.Size.W || img.Bounds().Dy() != key.Size.H {
		return nil, "", fmt.Errorf("%w: renderer returned wrong bounds for %s", page.ErrRender, key.Size)
	}
	m.mu.Lock()
	m.stats.Renders++
	m.mu.Unlock()
	if key.Size == m.opts.PageSize {
		m.writeThrough(rec, img)
	}
	return img, SourceRender, nil
}

// fromDisk reuses a persisted texture of the same generation, spec and
// pixel size. Any other size is rendered.
func (m *Manager) fromDisk(key Key, rec page.Record) (*image.RGBA, bool) {
	if m.store == nil {
		return nil, false
	}
	full, props, err := m.store.LoadFullTexture(key.ID)
	if err != nil {
		return nil, false
	}
	if props.Generation != rec.Generation || !props.Spec().Equal(rec.Background) {
		return nil, false
	}
	if props.TextureSize == nil || *props.TextureSize != key.Size {
		return nil, false
	}
	b := full.Bounds()
	if b.Dx() != key.Size.W || b.Dy() != key.Size.H {
		return nil, false
	}
	rgba, ok := full.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, key.Size.W, key.Size.H))
		draw.Draw(rgba, rgba.Bounds(), full, b.Min, draw.Src)
	}
	m.mu.Lock()
	m.stats.DiskLoads++
	m.mu.Unlock()
	return rgba, true
}

func (m *Manager) writeThrough(rec page.Record, img *image.RGBA) {
	if m.store == nil {
		return
	}
	log := logger.WithPage("cache", string(rec.ID))
	thumbSize := m.store.ThumbnailSize()
	set := texture.Set{Full: img, Thumb: pattern.Scale(img, thumbSize)}
	if composed, err := m.withScraps(rec.ID, img); err != nil {
		log.Warnf("load scraps for thumbnail: %v", err)
	} else if composed != nil {
		set.Scrapped = pattern.Scale(composed, thumbSize)
	}
	props := texture.NewProperties(rec)
	set.Properties = &props
	if err := m.store.WriteBackground(rec.ID, set); err != nil {
		m.mu.Lock()
		m.stats.WriteFailures++
		m.mu.Unlock()
		log.Errorf("write-through failed: %v", err)
	}
}

// withScraps draws the page's scrap layer over a copy of bg. It returns
// nil when there is no scrap source or the page has no scraps.
func (m *Manager) withScraps(id page.ID, bg image.Image) (*image.RGBA, error) {
	if m.scraps == nil {
		return nil, nil
	}
	scraps, err := m.scraps.Scraps(m.ctx, id)
	if err != nil || scraps == nil {
		return nil, err
	}
	composed := image.NewRGBA(image.Rect(0, 0, bg.Bounds().Dx(), bg.Bounds().Dy()))
	draw.Draw(composed, composed.Bounds(), bg, bg.Bounds().Min, draw.Src)
	draw.ApproxBiLinear.Scale(composed, composed.Bounds(), scraps, scraps.Bounds(), draw.Over, nil)
	return composed, nil
}

// ScrapsChanged rewrites the persisted thumbnails of a page after its scrap
// layer changed. The background itself is untouched, so cached bitmaps
// stay Ready. A page with no persisted texture of its current generation
// has nothing to refresh; its next write-through includes the scraps.
func (m *Manager) ScrapsChanged(id page.ID) error {
	if m.store == nil {
		return nil
	}
	rec, ok := m.specs.Lookup(id)
	if !ok {
		return fmt.Errorf("scraps of %s: %w", id, page.ErrPageNotFound)
	}

	var full image.Image
	m.mu.Lock()
	if e, ok := m.entries[Key{ID: id, Size: m.opts.PageSize}]; ok && e.state == Ready && e.gen == rec.Generation && e.bmp != nil {
		full = e.bmp.Image
	}
	m.mu.Unlock()
	if full == nil {
		img, props, err := m.store.LoadFullTexture(id)
		if err != nil || props.Generation != rec.Generation {
			logger.WithPage("cache", string(id)).Debug("no current texture, scrapped thumbnail follows the next render")
			return nil
		}
		full = img
	}

	composed, err := m.withScraps(id, full)
	if err != nil {
		return err
	}
	var scrapped image.Image
	if composed != nil {
		scrapped = composed
	}
	if err := m.store.WriteThumbnails(id, full, scrapped); err != nil {
		m.mu.Lock()
		m.stats.WriteFailures++
		m.mu.Unlock()
		return err
	}
	return nil
}

// commit stores a finished bitmap in the Pending entry identified by seq.
// It reports false when that entry is gone or already settled.
func (m *Manager) commit(b *Bitmap, seq uint64) (ReadyEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[b.Key]
	if !ok || e.state != Pending || e.gen != b.Generation || e.seq != seq {
		return ReadyEvent{}, false
	}
	e.bmp = b
	e.state = Ready
	if rec, ok := m.specs.Lookup(b.Key.ID); !ok || rec.Generation != b.Generation {
		e.state = Stale
	}
	m.used += b.Bytes()
	m.touchLocked(e)
	if m.used > m.opts.MemoryBudget {
		m.evictLocked()
	}
	if e.state != Ready {
		return ReadyEvent{}, false
	}
	return ReadyEvent{Key: b.Key, Generation: b.Generation, Source: b.source, At: time.Now()}, true
}

// abandon drops the Pending entry identified by seq after its render
// failed, and remembers the failure for that generation.
func (m *Manager) abandon(key Key, gen, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.state == Pending && e.gen == gen && e.seq == seq {
		delete(m.entries, key)
		m.failed[key] = gen
	}
}

// fail counts a failed render and classifies its error.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.stats.Failures++
	m.mu.Unlock()
	if errors.Is(err, page.ErrAssetDecode) || errors.Is(err, page.ErrInvalidSpec) ||
		errors.Is(err, page.ErrRender) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", page.ErrRender, err)
}

func (m *Manager) notify(ev ReadyEvent) {
	m.mu.Lock()
	fns := make([]func(ReadyEvent), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
