// Package store provides the SQLite persistence layer for fidelis.
//
// A single database file holds imported clinical notes (with provenance and
// a content hash for exact-duplicate detection) and the quality reports
// produced for them. The scoring core never touches this package; it exists
// for the CLI and MCP surfaces.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.fidelis/fidelis.db"

// Note is a single imported clinical note.
type Note struct {
	ID          int64
	Content     string
	SourceFile  string
	Patient     string
	ContentHash string
	ImportedAt  time.Time
	UpdatedAt   time.Time
}

// Report is one stored quality dimension result for a note.
type Report struct {
	ID             int64
	NoteID         int64
	Dimension      string
	Score          float64
	RawScore       float64
	Weight         float64
	PenaltyApplied bool
	IssuesJSON     string
	CreatedAt      time.Time
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Limit     int
	Offset    int
	Dimension string // report dimension filter
	NoteID    int64  // report note filter, 0 means all
}

// StoreStats holds observability statistics about the store.
type StoreStats struct {
	NoteCount   int64
	ReportCount int64
	DBSizeBytes int64
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the persistence interface.
type Store interface {
	// Notes
	AddNote(ctx context.Context, n *Note) (int64, error)
	GetNote(ctx context.Context, id int64) (*Note, error)
	ListNotes(ctx context.Context, opts ListOpts) ([]*Note, error)
	DeleteNote(ctx context.Context, id int64) error
	FindByHash(ctx context.Context, hash string) (*Note, error)

	// Reports
	AddReport(ctx context.Context, r *Report) (int64, error)
	ListReports(ctx context.Context, opts ListOpts) ([]*Report, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// HashNoteContent computes SHA-256 of source_file + content for exact-dup
// detection on import. Including the source path means identical content
// from two files creates two notes with distinct provenance.
func HashNoteContent(content, sourceFile string) string {
	h := sha256.New()
	h.Write([]byte(sourceFile))
	h.Write([]byte{0}) // separator
	h.Write([]byte(content))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
