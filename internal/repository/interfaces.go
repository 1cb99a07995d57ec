package repository

import "context"

// Saver persists a DataDocument.
// Small interface used by background jobs like the persistence scheduler.
type Saver interface {
	Save(ctx context.Context, doc *DataDocument) error
}

// DocumentStore is what a watcher needs from the in-memory document to
// decide whether an external edit should be reloaded.
type DocumentStore interface {
	GetLastUpdate() int64
	IsDirty() bool
	Snapshot() (DataDocument, error)
	Replace(doc DataDocument) error
}

// Repository abstracts persistence and watching of the document.
// JSONRepository and SQLiteRepository implement this interface.
type Repository interface {
	Saver
	Load(ctx context.Context) (*DataDocument, error)
	StartWatcher(ctx context.Context, store DocumentStore) error
	Close() error
}
