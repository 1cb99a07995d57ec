package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/page"
	"github.com/go-playground/validator/v10"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores the document in a SQLite database, one row per
// stack and page.
type SQLiteRepository struct {
	conn         *sql.DB
	validator    *validator.Validate
	pollInterval time.Duration
	mu           sync.Mutex
}

// NewSQLiteRepository opens (or creates) the database at path.
func NewSQLiteRepository(path string) (Repository, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite supports one writer; a single connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	r := &SQLiteRepository{conn: conn, validator: validator.New(), pollInterval: 2 * time.Second}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stacks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			position INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id TEXT PRIMARY KEY,
			stack_id TEXT NOT NULL REFERENCES stacks(id),
			ordinal INTEGER NOT NULL,
			rotation TEXT NOT NULL DEFAULT 'default',
			background TEXT NOT NULL,
			generation INTEGER NOT NULL DEFAULT 1,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_stack ON pages(stack_id, ordinal)`,
	}
	for _, m := range migrations {
		if _, err := r.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every stack and page back into a document.
func (r *SQLiteRepository) Load(ctx context.Context) (*DataDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := DataDocument{}
	lastUpdate, err := r.lastUpdate(ctx)
	if err != nil {
		return nil, err
	}
	doc.Metadata.LastUpdate = lastUpdate

	rows, err := r.conn.QueryContext(ctx, `SELECT id, name FROM stacks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query stacks: %w", err)
	}
	index := map[string]int{}
	for rows.Next() {
		var s page.Stack
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stack: %w", err)
		}
		index[s.ID] = len(doc.Stacks)
		doc.Stacks = append(doc.Stacks, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stacks: %w", err)
	}

	rows, err = r.conn.QueryContext(ctx,
		`SELECT id, stack_id, ordinal, rotation, background, generation, width, height FROM pages ORDER BY stack_id, ordinal`)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p        page.Record
			rotation string
			bg       string
		)
		if err := rows.Scan(&p.ID, &p.StackID, &p.Order, &rotation, &bg, &p.Generation, &p.Size.W, &p.Size.H); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if p.IdealExportRotation, err = page.ParseRotation(rotation); err != nil {
			return nil, fmt.Errorf("page %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(bg), &p.Background); err != nil {
			return nil, fmt.Errorf("page %s background: %w", p.ID, err)
		}
		doc.Pages = append(doc.Pages, p)
		if i, ok := index[p.StackID]; ok {
			doc.Stacks[i].PageIDs = append(doc.Stacks[i].PageIDs, p.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	doc.ApplyDefaults()
	if err := validateDocument(r.validator, &doc); err != nil {
		return nil, fmt.Errorf("validate database: %w", err)
	}
	return &doc, nil
}

func (r *SQLiteRepository) lastUpdate(ctx context.Context) (int64, error) {
	var raw string
	err := r.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'last_update'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last update: %w", err)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Save replaces the stored document in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, doc *DataDocument) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	if err := validateDocument(r.validator, doc); err != nil {
		return fmt.Errorf("validate before save: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM pages`, `DELETE FROM stacks`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	ordinal := map[page.ID]int{}
	for pos, s := range doc.Stacks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stacks (id, name, position) VALUES (?, ?, ?)`, s.ID, s.Name, pos); err != nil {
			return fmt.Errorf("insert stack %s: %w", s.ID, err)
		}
		for i, id := range s.PageIDs {
			ordinal[id] = i
		}
	}
	for _, p := range doc.Pages {
		bg, err := json.Marshal(p.Background)
		if err != nil {
			return fmt.Errorf("marshal background of %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (id, stack_id, ordinal, rotation, background, generation, width, height) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.StackID, ordinal[p.ID], p.IdealExportRotation.String(), string(bg), p.Generation, p.Size.W, p.Size.H); err != nil {
			return fmt.Errorf("insert page %s: %w", p.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('last_update', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(doc.Metadata.LastUpdate, 10)); err != nil {
		return fmt.Errorf("write last update: %w", err)
	}
	return tx.Commit()
}

// StartWatcher polls the stored last-update stamp and reloads the store
// when another process has written a newer document.
func (r *SQLiteRepository) StartWatcher(ctx context.Context, store DocumentStore) error {
	if store == nil {
		return errors.New("document store is required")
	}
	onChange := makeReloadCallback("sqlite-repo", r.Load, store)
	seen, err := r.lastUpdate(ctx)
	if err != nil {
		return err
	}
	log := logger.WithComponent("sqlite-repo")
	ticker := time.NewTicker(r.pollInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := r.lastUpdate(ctx)
				if err != nil {
					log.Warnf("poll last update: %v", err)
					continue
				}
				if cur != seen {
					seen = cur
					onChange()
				}
			}
		}
	}()
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.conn.Close()
}
