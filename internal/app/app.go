package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bassista/go_leaf/internal/cache"
	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/document"
	"github.com/bassista/go_leaf/internal/events"
	"github.com/bassista/go_leaf/internal/export"
	"github.com/bassista/go_leaf/internal/ink"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/bassista/go_leaf/internal/pattern"
	"github.com/bassista/go_leaf/internal/repository"
	"github.com/bassista/go_leaf/internal/scheduler"
	"github.com/bassista/go_leaf/internal/texture"
	"github.com/bassista/go_leaf/internal/visibility"
)

// App is the application container (immutable dependencies + lifecycle context).
// It is not a request context; handlers should still use gin's request context.
type App struct {
	Config   *config.Config
	Repo     repository.Repository
	Document *document.Store
	Textures *texture.Store
	Host     *visibility.HostState
	Cache    *cache.Manager
	Ink      *ink.DirSource
	Export   *export.Pipeline
	Events   *events.Hub
	Sweeper  *scheduler.SweepScheduler
	Janitor  *scheduler.Janitor

	BaseCtx context.Context
	Cancel  context.CancelFunc

	stopped []<-chan struct{}
}

// New loads the document from repo and wires every component around it.
func New(cfg *config.Config, repo repository.Repository) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if repo == nil {
		return nil, errors.New("repo is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Config: cfg, Repo: repo, Events: events.NewHub(), BaseCtx: ctx, Cancel: cancel}
	if err := a.wire(); err != nil {
		cancel()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	doc, err := a.Repo.Load(a.BaseCtx)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	a.Document = document.NewStore(*doc)
	a.Host = visibility.NewHostState(a.Document)

	a.Textures, err = texture.NewStore(texture.Options{
		Root:          cfg.Storage.TextureRoot,
		ThumbnailSize: cfg.Cache.ThumbnailSize(),
		KeepVersions:  cfg.Storage.KeepVersions,
	})
	if err != nil {
		return err
	}
	a.Ink, err = ink.NewDirSource(cfg.Storage.InkDir)
	if err != nil {
		return err
	}

	renderer, err := pattern.NewRendererFromConfig(cfg.Render.Pattern())
	if err != nil {
		return err
	}
	a.Cache, err = cache.NewManager(a.BaseCtx, renderer, a.Document, a.Host, a.Textures, a.Ink, cache.Options{
		MemoryBudget:   cfg.Cache.MemoryBudget(),
		RenderWorkers:  cfg.Cache.RenderWorkers,
		PageSize:       cfg.Cache.PageSize(),
		ThumbnailSize:  cfg.Cache.ThumbnailSize(),
		PrefetchRadius: cfg.Cache.PrefetchRadius,
	})
	if err != nil {
		return err
	}
	a.Cache.OnReady(func(ev cache.ReadyEvent) {
		a.Events.Emit(a.BaseCtx, events.BackgroundReady, ev)
	})

	a.Export, err = export.NewPipeline(a.Cache, a.Document, a.Host, a.Ink, export.Options{
		Dir:             cfg.Export.Dir,
		URLPrefix:       cfg.Export.URLPrefix,
		DefaultRotation: cfg.Export.Rotation(),
		ImageScale:      cfg.Export.ImageScale,
	})
	if err != nil {
		return err
	}

	a.Sweeper = scheduler.NewSweepScheduler(a.Cache, cfg.Cache.SweepInterval)
	a.Janitor, err = scheduler.NewJanitor(a.Export, cfg.Export.JanitorSchedule, cfg.Export.MaxAge)
	if err != nil {
		return err
	}

	a.Document.OnReplace(a.documentReplaced)
	return nil
}

// Shutdown cancels the lifecycle context. Background loops finish their
// final work asynchronously; use Wait to block on them.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()
}

// Wait blocks until every started background loop has stopped, or ctx ends.
func (a *App) Wait(ctx context.Context) error {
	for _, done := range a.stopped {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.Repo.Close()
}

// StartWatchers starts the file watcher, the persistence loop, the cache
// sweeper and the export janitor.
func (a *App) StartWatchers() error {
	if err := a.Repo.StartWatcher(a.BaseCtx, a.Document); err != nil {
		return fmt.Errorf("cannot start document watcher: %w", err)
	}

	a.stopped = append(a.stopped, document.StartPersistence(a.BaseCtx, a.Document, a.Repo, a.Config.Data.PersistInterval))
	a.Sweeper.Start(a.BaseCtx)

	done, err := a.Janitor.Start(a.BaseCtx)
	if err != nil {
		return fmt.Errorf("cannot start export janitor: %w", err)
	}
	a.stopped = append(a.stopped, done)
	return nil
}

// ApplyVisibility records a new host snapshot and makes the newly relevant
// keys render.
func (a *App) ApplyVisibility(u visibility.Update) error {
	if err := a.Host.Apply(u); err != nil {
		return err
	}
	a.Cache.VisibilityChanged()
	return nil
}

// SetBackground changes a page's background; cached bitmaps of the page
// go Stale and visible sizes re-render.
func (a *App) SetBackground(id page.ID, spec page.BackgroundSpec) (page.Record, error) {
	rec, err := a.Document.SetBackground(id, spec)
	if err != nil {
		return page.Record{}, err
	}
	a.Cache.BackgroundChanged(id)
	a.Sweeper.Trigger()
	return rec, nil
}

// AddPage inserts a page and lets the sweeper pick it up if it is relevant.
func (a *App) AddPage(rec page.Record, index int) (page.Record, error) {
	rec, err := a.Document.AddPage(rec, index)
	if err != nil {
		return page.Record{}, err
	}
	a.Sweeper.Trigger()
	return rec, nil
}

// RemovePage deletes a page with its cached bitmaps, textures and ink.
func (a *App) RemovePage(id page.ID) (page.Record, error) {
	rec, err := a.Document.RemovePage(id)
	if err != nil {
		return page.Record{}, err
	}
	a.dropPage(id)
	a.Sweeper.Trigger()
	return rec, nil
}

// Pages lists every page in display order.
func (a *App) Pages() []page.Record { return a.Document.Pages() }

// SetIdealExportRotation records the rotation a page prefers for export.
func (a *App) SetIdealExportRotation(id page.ID, r page.Rotation) (page.Record, error) {
	return a.Document.SetIdealExportRotation(id, r)
}

// ImportAsset copies an image into the page's texture directory and makes
// it the page background.
func (a *App) ImportAsset(id page.ID, source string) (page.Record, error) {
	rec, ok := a.Document.Lookup(id)
	if !ok {
		return page.Record{}, fmt.Errorf("page %s: %w", id, page.ErrPageNotFound)
	}
	path, err := page.LocalPath(source)
	if err != nil {
		return page.Record{}, err
	}
	if _, err := pattern.DecodeFile(path); err != nil {
		return page.Record{}, err
	}
	if _, err := a.Textures.WriteOriginalAsset(id, source); err != nil {
		return page.Record{}, err
	}
	spec := page.BackgroundSpec{Kind: page.KindImage, Asset: source, Params: rec.Background.Params}
	return a.SetBackground(id, spec)
}

// WriteInk stores a page layer. New scraps rewrite the page's scrapped
// thumbnail; the cached backgrounds stay valid.
func (a *App) WriteInk(id page.ID, layer ink.Layer, r io.Reader) error {
	if _, ok := a.Document.Lookup(id); !ok {
		return fmt.Errorf("page %s: %w", id, page.ErrPageNotFound)
	}
	if err := a.Ink.Write(id, layer, r); err != nil {
		return err
	}
	if layer == ink.LayerScraps {
		if err := a.Cache.ScrapsChanged(id); err != nil {
			logger.WithPage("app", string(id)).Warnf("refresh scrapped thumbnail: %v", err)
		}
	}
	return nil
}

// SubmitExport starts an export task bound to the application lifetime and
// announces its end on the event hub.
func (a *App) SubmitExport(job export.Job) (*export.Task, error) {
	t, err := a.Export.Submit(a.BaseCtx, job)
	if err != nil {
		return nil, err
	}
	go func() {
		<-t.Done()
		a.Events.Emit(a.BaseCtx, events.ExportFinished, t.Status())
	}()
	return t, nil
}

func (a *App) documentReplaced(changed, removed []page.ID) {
	for _, id := range changed {
		a.Cache.BackgroundChanged(id)
	}
	for _, id := range removed {
		a.dropPage(id)
	}
	logger.WithComponent("app").Infof("document reloaded: %d pages changed, %d removed", len(changed), len(removed))
	a.Events.Emit(a.BaseCtx, events.DocumentReloaded, map[string][]page.ID{"changed": changed, "removed": removed})
	a.Sweeper.Trigger()
}

func (a *App) dropPage(id page.ID) {
	a.Cache.Forget(id)
	log := logger.WithPage("app", string(id))
	if err := a.Textures.Remove(id); err != nil {
		log.Warnf("remove textures: %v", err)
	}
	if err := a.Ink.Remove(id); err != nil {
		log.Warnf("remove ink: %v", err)
	}
}

// shutdownTimeout bounds how long Wait is given by callers that have no
// deadline of their own.
const shutdownTimeout = 10 * time.Second

// Close cancels and waits with a default deadline.
func (a *App) Close() error {
	a.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Wait(ctx)
}
