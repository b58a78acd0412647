// Package indexer maintains a SQLite index of the workspace file tree so
// structure queries never walk the filesystem on the request path. A full
// scan populates the index at startup; an fsnotify watcher keeps it fresh
// with debounced incremental updates.
package indexer

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	_ "modernc.org/sqlite"
)

// Entry kinds stored in the index.
const (
	KindFile = "file"
	KindDir  = "dir"
)

// Entry is one indexed filesystem node. RelPath is slash-separated and
// relative to the workspace root; the root itself is not stored. Size and
// MTime are only meaningful for files.
type Entry struct {
	RelPath string
	Name    string
	Kind    string
	Size    int64
	MTime   float64
	Depth   int
}

// Query selects a subtree from the index. Depth counts levels below Base
// (or below the root when Base is empty).
type Query struct {
	Base          string
	Depth         int
	IncludeHidden bool
	Pattern       string
}

// Store persists tree entries in SQLite. Writes are serialized through a
// single connection; reads share it, which is fine at the index's scale.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore opens (or creates) the index database at dbPath and ensures the
// schema exists. Pass ":memory:" for an ephemeral index.
func NewStore(dbPath string) (*Store, error) {
	pragmas := url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	var dsn string
	if dbPath == ":memory:" {
		dsn = "file::memory:?" + pragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		dsn = dbPath + "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		relpath TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		size INTEGER,
		mtime REAL,
		depth INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_depth ON files(depth);
	CREATE INDEX IF NOT EXISTS idx_files_kind ON files(kind);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceAll atomically swaps the entire index for the given entries.
func (s *Store) ReplaceAll(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO files (relpath, name, kind, size, mtime, depth)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.RelPath, e.Name, e.Kind, sizeArg(e), mtimeArg(e), e.Depth); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.RelPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reindex: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a single entry.
func (s *Store) Upsert(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO files (relpath, name, kind, size, mtime, depth)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RelPath, e.Name, e.Kind, sizeArg(e), mtimeArg(e), e.Depth)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", e.RelPath, err)
	}
	return nil
}

// DeleteSubtree removes an entry and everything indexed beneath it.
func (s *Store) DeleteSubtree(relpath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM files WHERE relpath = ? OR relpath LIKE ?`,
		relpath, relpath+"/%")
	if err != nil {
		return fmt.Errorf("failed to delete subtree %s: %w", relpath, err)
	}
	return nil
}

// Select returns entries under q.Base no deeper than q.Depth levels below
// it, directories before files, each group ordered by path. Hidden entries
// are filtered by basename; Pattern is a glob matched against basenames.
func (s *Store) Select(q Query) ([]Entry, error) {
	base := strings.Trim(q.Base, "/")
	baseDepth := 0
	if base != "" {
		baseDepth = strings.Count(base, "/") + 1
	}
	maxDepth := baseDepth + q.Depth

	var rows *sql.Rows
	var err error
	if base != "" {
		rows, err = s.db.Query(`
			SELECT relpath, name, kind, size, mtime, depth
			FROM files
			WHERE (relpath = ? OR relpath LIKE ?) AND depth <= ?
			ORDER BY kind ASC, relpath ASC`,
			base, base+"/%", maxDepth)
	} else {
		rows, err = s.db.Query(`
			SELECT relpath, name, kind, size, mtime, depth
			FROM files
			WHERE depth <= ?
			ORDER BY kind ASC, relpath ASC`,
			maxDepth)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var size sql.NullInt64
		var mtime sql.NullFloat64
		if err := rows.Scan(&e.RelPath, &e.Name, &e.Kind, &size, &mtime, &e.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		e.Size = size.Int64
		e.MTime = mtime.Float64

		if !q.IncludeHidden && strings.HasPrefix(e.Name, ".") {
			continue
		}
		if q.Pattern != "" && !wildcard.Match(q.Pattern, e.Name) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate index rows: %w", err)
	}
	return entries, nil
}

// Counts reports how many files and directories the whole index holds.
func (s *Store) Counts() (files int, dirs int, err error) {
	row := s.db.QueryRow(`SELECT
		COUNT(CASE WHEN kind = 'file' THEN 1 END),
		COUNT(CASE WHEN kind = 'dir' THEN 1 END)
		FROM files`)
	if err := row.Scan(&files, &dirs); err != nil {
		return 0, 0, fmt.Errorf("failed to count index entries: %w", err)
	}
	return files, dirs, nil
}

func sizeArg(e Entry) interface{} {
	if e.Kind == KindDir {
		return nil
	}
	return e.Size
}

func mtimeArg(e Entry) interface{} {
	if e.Kind == KindDir {
		return nil
	}
	return e.MTime
}
