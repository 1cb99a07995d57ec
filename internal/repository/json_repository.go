package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

// JSONRepository handles disk persistence and watching of the document file.
type JSONRepository struct {
	path      string
	dir       string
	base      string
	validator *validator.Validate

	mu         sync.Mutex
	ownWriteAt time.Time
}

// reloadDebounce coalesces bursty events (write+chmod/rename) into one reload.
const reloadDebounce = 200 * time.Millisecond

// NewJSONRepository creates a repository for the given JSON file path.
// It returns the repository interface to avoid leaking implementation details.
func NewJSONRepository(path string) (Repository, error) {
	if path == "" {
		return nil, errors.New("data file path is required")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if dir == "" || dir == "." {
		dir = "."
	}

	return &JSONRepository{path: path, dir: dir, base: base, validator: validator.New()}, nil
}

// Load reads the JSON file, parses and validates it.
func (r *JSONRepository) Load(ctx context.Context) (*DataDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked()
}

// loadUnlocked reads the JSON file without acquiring the lock (caller must hold it).
func (r *JSONRepository) loadUnlocked() (*DataDocument, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	var doc DataDocument
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}

	doc.ApplyDefaults()
	if err := validateDocument(r.validator, &doc); err != nil {
		return nil, fmt.Errorf("validate data file: %w", err)
	}
	return &doc, nil
}

func validateDocument(v *validator.Validate, doc *DataDocument) error {
	if v != nil {
		if err := v.Struct(doc); err != nil {
			return err
		}
	}
	return doc.CheckReferences()
}

// Save validates and writes the document atomically to disk.
func (r *JSONRepository) Save(ctx context.Context, doc *DataDocument) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	if err := validateDocument(r.validator, doc); err != nil {
		return fmt.Errorf("validate before save: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveUnlocked(doc)
}

// saveUnlocked writes the document without acquiring the lock (caller must
// hold it). The document goes to a temp file in the same directory, which
// is synced and renamed over the data file; the directory is synced last
// so the rename survives a crash.
func (r *JSONRepository) saveUnlocked(doc *DataDocument) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, r.base+".tmp-")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", page.ErrDiskWrite, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		return fmt.Errorf("%w: write document: %v", page.ErrDiskWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync document: %v", page.ErrDiskWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close document: %v", page.ErrDiskWrite, err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("%w: replace data file: %v", page.ErrDiskWrite, err)
	}
	committed = true
	r.ownWriteAt = time.Now()

	if d, err := os.Open(r.dir); err == nil {
		if err := d.Sync(); err != nil {
			logger.WithComponent("json-repo").Debugf("sync %s: %v", r.dir, err)
		}
		d.Close()
	}
	return nil
}

// recentOwnWrite reports whether the last watcher event is most likely the
// echo of our own save.
func (r *JSONRepository) recentOwnWrite() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.ownWriteAt) < reloadDebounce
}

// StartWatcher listens for changes to the data file and reloads the store
// after a debounce. It watches the parent directory so temp+rename
// replacements are observed. Cancel ctx to stop the watcher.
func (r *JSONRepository) StartWatcher(ctx context.Context, store DocumentStore) error {
	if store == nil {
		return errors.New("document store is required")
	}
	onChange := r.MakeWatcherCallback(store)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir: %w", err)
	}

	log := logger.WithComponent("json-repo")
	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		schedule := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, onChange)
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != r.base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if r.recentOwnWrite() {
					log.Debugf("ignoring %s on %s: own write", event.Op, event.Name)
					continue
				}
				schedule()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("watcher error: %v", err)
			}
		}
	}()

	return nil
}

// MakeWatcherCallback returns the reload callback run by the watcher.
func (r *JSONRepository) MakeWatcherCallback(store DocumentStore) func() {
	return makeReloadCallback("json-repo", r.Load, store)
}

// Close is a no-op; the watcher stops with its context.
func (r *JSONRepository) Close() error { return nil }
