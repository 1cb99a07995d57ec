package document

import (
	"context"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/repository"
)

// PersistableStore is what the persistence loop needs from a store.
type PersistableStore interface {
	IsDirty() bool
	ClearDirty()
	SetLastUpdate(ts int64)
	Snapshot() (repository.DataDocument, error)
}

// StartPersistence runs a goroutine that periodically saves a dirty
// document. On ctx.Done it performs a final flush before returning.
// The returned channel is closed once shutdown has completed.
func StartPersistence(
	ctx context.Context,
	store PersistableStore,
	repo repository.Saver,
	interval time.Duration,
) <-chan struct{} {
	done := make(chan struct{})
	log := logger.WithComponent("persist")
	log.Debugf("starting document persistence with interval: %v", interval)
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug("context cancelled, performing final flush")
				// Final flush uses a fresh context so it can complete.
				Flush(context.Background(), store, repo)
				log.Info("document persistence stopped after final flush")
				return
			case <-ticker.C:
				Flush(ctx, store, repo)
			}
		}
	}()
	return done
}

// Flush saves the document if dirty. It reports whether a save happened.
func Flush(ctx context.Context, store PersistableStore, repo repository.Saver) bool {
	log := logger.WithComponent("persist")
	if !store.IsDirty() {
		log.Trace("document is clean, skipping flush")
		return false
	}
	if err := ctx.Err(); err != nil {
		log.Debugf("flush cancelled: %v", err)
		return false
	}

	snapshot, err := store.Snapshot()
	if err != nil {
		log.Errorf("persist error: failed to get snapshot: %v", err)
		return false
	}
	snapshot.Metadata.LastUpdate = time.Now().UnixMilli()

	if err := repo.Save(ctx, &snapshot); err != nil {
		log.Errorf("persist error: failed to save: %v", err)
		return false
	}

	store.ClearDirty()
	store.SetLastUpdate(snapshot.Metadata.LastUpdate)
	log.Info("document persisted")
	return true
}
