package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

// AddReport stores one scored dimension for a note.
func (s *SQLiteStore) AddReport(ctx context.Context, r *Report) (int64, error) {
	if r.NoteID == 0 {
		return 0, fmt.Errorf("report note_id is required")
	}
	if r.Dimension == "" {
		return 0, fmt.Errorf("report dimension is required")
	}

	issues := r.IssuesJSON
	if issues == "" {
		issues = "[]"
	}

	now := time.Now().UTC()
	penalty := 0
	if r.PenaltyApplied {
		penalty = 1
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (note_id, dimension, score, raw_score, weight, penalty, issues, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.NoteID, r.Dimension, r.Score, r.RawScore, r.Weight, penalty, issues, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	r.ID = id
	r.CreatedAt = now
	return id, nil
}

// ListReports returns stored reports, newest first, with optional note and
// dimension filters.
func (s *SQLiteStore) ListReports(ctx context.Context, opts ListOpts) ([]*Report, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT id, note_id, dimension, score, raw_score, weight, penalty, issues, created_at
		 FROM reports WHERE 1=1`
	args := []interface{}{}

	if opts.NoteID != 0 {
		query += " AND note_id = ?"
		args = append(args, opts.NoteID)
	}
	if opts.Dimension != "" {
		query += " AND dimension = ?"
		args = append(args, opts.Dimension)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r := &Report{}
		var penalty int
		if err := rows.Scan(&r.ID, &r.NoteID, &r.Dimension, &r.Score, &r.RawScore, &r.Weight, &penalty, &r.IssuesJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r.PenaltyApplied = penalty != 0
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Stats returns note and report counts plus the db file size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&stats.NoteCount); err != nil {
		return nil, fmt.Errorf("counting notes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&stats.ReportCount); err != nil {
		return nil, fmt.Errorf("counting reports: %w", err)
	}

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = info.Size()
		}
	}

	return stats, nil
}
