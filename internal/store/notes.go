package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddNote inserts a new note. Computes content_hash automatically.
// Returns the new note ID.
func (s *SQLiteStore) AddNote(ctx context.Context, n *Note) (int64, error) {
	if n.Content == "" {
		return 0, fmt.Errorf("note content cannot be empty")
	}

	if n.ContentHash == "" {
		n.ContentHash = HashNoteContent(n.Content, n.SourceFile)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (content, source_file, patient, content_hash, imported_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.Content, n.SourceFile, n.Patient, n.ContentHash, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting note: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	n.ID = id
	n.ImportedAt = now
	n.UpdatedAt = now
	return id, nil
}

// GetNote retrieves a note by ID. Returns nil if not found.
func (s *SQLiteStore) GetNote(ctx context.Context, id int64) (*Note, error) {
	n := &Note{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, source_file, patient, content_hash, imported_at, updated_at
		 FROM notes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Content, &n.SourceFile, &n.Patient, &n.ContentHash, &n.ImportedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting note %d: %w", id, err)
	}

	return n, nil
}

// ListNotes returns notes with pagination, newest first.
func (s *SQLiteStore) ListNotes(ctx context.Context, opts ListOpts) ([]*Note, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source_file, patient, content_hash, imported_at, updated_at
		 FROM notes ORDER BY imported_at DESC, id DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.Content, &n.SourceFile, &n.Patient, &n.ContentHash, &n.ImportedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote removes a note and its reports (cascade).
func (s *SQLiteStore) DeleteNote(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting note %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("note %d not found", id)
	}
	return nil
}

// FindByHash finds a note by its content hash. Returns nil if not found.
func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*Note, error) {
	n := &Note{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, source_file, patient, content_hash, imported_at, updated_at
		 FROM notes WHERE content_hash = ?`, hash,
	).Scan(&n.ID, &n.Content, &n.SourceFile, &n.Patient, &n.ContentHash, &n.ImportedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding note by hash: %w", err)
	}

	return n, nil
}
