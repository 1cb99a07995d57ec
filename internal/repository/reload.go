package repository

import (
	"context"

	"github.com/bassista/go_leaf/internal/logger"
)

// makeReloadCallback returns a callback that reloads the document store
// from disk when the persisted copy is newer and the store has nothing
// unsaved.
func makeReloadCallback(component string, load func(ctx context.Context) (*DataDocument, error), store DocumentStore) func() {
	log := logger.WithComponent(component)
	return func() {
		diskDoc, loadErr := load(context.Background())
		if loadErr != nil {
			log.Warnf("watch reload failed: %v", loadErr)
			return
		}
		storeLastUpdate := store.GetLastUpdate()
		diskLastUpdate := diskDoc.Metadata.LastUpdate

		if diskLastUpdate < storeLastUpdate {
			log.Debugf("disk version is not newer than memory: disk=%d memory=%d", diskLastUpdate, storeLastUpdate)
			return
		}

		if store.IsDirty() {
			// the in-memory content will be written soon anyway
			log.Warn("disk data is newer but the document is dirty; skipping reload")
			return
		}

		isDiskSameAsMemory := false
		if diskLastUpdate == storeLastUpdate {
			snapshot, err := store.Snapshot()
			if err != nil {
				log.Errorf("reload error: failed to get snapshot: %v", err)
				return
			}
			isDiskSameAsMemory = AreDataDocumentsEqual(&snapshot, diskDoc)
		}
		if !isDiskSameAsMemory {
			if err := store.Replace(*diskDoc); err != nil {
				log.Errorf("reload error: %v", err)
				return
			}
			log.Info("document reloaded from newer disk version")
		}
	}
}
