package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mindmap/internal/domain"
	"mindmap/internal/ports"

	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// Store implements ports.LocalStore using SQLite
type Store struct {
	db     *sql.DB
	dbPath string
}

// Ensure Store implements LocalStore
var _ ports.LocalStore = (*Store)(nil)

// NewStore creates a new SQLite store
func NewStore() *Store {
	return &Store{}
}

// Open initializes the database at path. An empty path selects the default
// location under the XDG data directory.
func (s *Store) Open(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	// Expand ~ in path
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	s.dbPath = path

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	// Connection pragmas go in the DSN so every pooled connection gets them
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	_, err = db.Exec(`
		PRAGMA cache_size = -64000;
		PRAGMA temp_store = MEMORY;

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT 0,
			last_synced_remote INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS nodes (
			mindmap_id TEXT NOT NULL,
			short_id TEXT NOT NULL,
			id TEXT NOT NULL DEFAULT '',
			parent_short_id TEXT NOT NULL DEFAULT '',
			order_index INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			dirty INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			local_modified_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (mindmap_id, short_id)
		);
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_dirty ON nodes(mindmap_id, dirty);
		CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(mindmap_id, parent_short_id, order_index);
	`)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to setup database: %w", err)
	}

	if err := s.checkSchema(); err != nil {
		db.Close()
		return err
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file in use
func (s *Store) Path() string {
	return s.dbPath
}

// DefaultPath returns the default database location
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "mindmap", "mindmap.db")
}

// checkSchema records the schema version on a fresh database and refuses
// to open one written by a different version
func (s *Store) checkSchema() error {
	var version string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
		if err != nil {
			return fmt.Errorf("failed to update metadata: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("unsupported schema version %s (expected %s)", version, schemaVersion)
	}
	return nil
}

// GetDocument retrieves a document header
func (s *Store) GetDocument(ctx context.Context, mindmapID string) (*domain.Document, error) {
	return getDocument(s.db.QueryRowContext(ctx, documentQuery, mindmapID))
}

// ListDocuments returns every stored document header ordered by title
func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at, last_synced_remote
		FROM documents ORDER BY title, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var updated, synced int64
		if err := rows.Scan(&d.ID, &d.Title, &updated, &synced); err != nil {
			return nil, err
		}
		d.UpdatedAt, d.LastSyncedRemote = fromNanos(updated), fromNanos(synced)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetRecord retrieves a record, tombstones included
func (s *Store) GetRecord(ctx context.Context, mindmapID, shortID string) (*domain.Record, error) {
	return getRecord(s.db.QueryRowContext(ctx, recordQuery, mindmapID, shortID))
}

// ListNodes returns the live records of a mindmap in tree order
func (s *Store) ListNodes(ctx context.Context, mindmapID string) ([]domain.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM nodes
		WHERE mindmap_id = ? AND deleted = 0
		ORDER BY parent_short_id, order_index
	`, mindmapID)
}

// ListDirty returns every record with unsaved changes, oldest change first
func (s *Store) ListDirty(ctx context.Context, mindmapID string) ([]domain.Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+`
		FROM nodes
		WHERE mindmap_id = ? AND dirty = 1
		ORDER BY local_modified_at, short_id
	`, mindmapID)
}

func (s *Store) listRecords(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// BeginTx starts a new transaction
func (s *Store) BeginTx(ctx context.Context) (ports.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &storeTx{tx: tx}, nil
}

const recordColumns = `mindmap_id, short_id, id, parent_short_id, order_index, title, note,
	created_at, updated_at, dirty, deleted, local_modified_at`

const recordQuery = `SELECT ` + recordColumns + ` FROM nodes WHERE mindmap_id = ? AND short_id = ?`

const documentQuery = `SELECT id, title, updated_at, last_synced_remote FROM documents WHERE id = ?`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var created, updated, modified int64
	var dirty, deleted int

	err := row.Scan(
		&rec.MindmapID, &rec.ShortID, &rec.ID, &rec.ParentShortID, &rec.OrderIndex,
		&rec.Title, &rec.Note, &created, &updated, &dirty, &deleted, &modified,
	)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	rec.LocalModifiedAt = fromNanos(modified)
	rec.Dirty = dirty != 0
	rec.Deleted = deleted != 0
	return &rec, nil
}

func getRecord(row *sql.Row) (*domain.Record, error) {
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func getDocument(row *sql.Row) (*domain.Document, error) {
	var d domain.Document
	var updated, synced int64

	err := row.Scan(&d.ID, &d.Title, &updated, &synced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.UpdatedAt = fromNanos(updated)
	d.LastSyncedRemote = fromNanos(synced)
	return &d, nil
}

// Timestamps are stored as Unix nanoseconds; zero stands for the zero time

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
