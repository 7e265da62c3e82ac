package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: filepath.Join(t.TempDir(), "fidelis.db")})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := &Note{
		Content:    "Admitted 2024-01-10 with subarachnoid hemorrhage.",
		SourceFile: "discharge_summary.txt",
		Patient:    "44821970",
	}
	id, err := s.AddNote(ctx, note)
	if err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero note id")
	}
	if note.ContentHash == "" {
		t.Fatal("expected content hash to be computed")
	}

	got, err := s.GetNote(ctx, id)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected note, got nil")
	}
	if got.Content != note.Content || got.Patient != "44821970" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.ImportedAt.IsZero() {
		t.Error("expected imported_at to be set")
	}
}

func TestAddNoteRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddNote(context.Background(), &Note{}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestFindByHashDetectsExactDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := &Note{Content: "EVD placed.", SourceFile: "op_note.txt"}
	if _, err := s.AddNote(ctx, note); err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}

	hash := HashNoteContent("EVD placed.", "op_note.txt")
	found, err := s.FindByHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindByHash failed: %v", err)
	}
	if found == nil || found.ID != note.ID {
		t.Fatalf("expected note %d, got %+v", note.ID, found)
	}

	// Same content from a different file hashes differently
	other := HashNoteContent("EVD placed.", "progress_note.txt")
	if other == hash {
		t.Fatal("expected provenance to change the hash")
	}
	missing, err := s.FindByHash(ctx, other)
	if err != nil {
		t.Fatalf("FindByHash failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected no note, got %+v", missing)
	}

	// Re-importing the same content from the same file violates the
	// uniqueness constraint
	if _, err := s.AddNote(ctx, &Note{Content: "EVD placed.", SourceFile: "op_note.txt"}); err == nil {
		t.Fatal("expected unique constraint error on duplicate import")
	}
}

func TestListNotesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"note one", "note two", "note three"} {
		if _, err := s.AddNote(ctx, &Note{Content: content}); err != nil {
			t.Fatalf("AddNote failed: %v", err)
		}
	}

	notes, err := s.ListNotes(ctx, ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListNotes failed: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].Content != "note three" {
		t.Errorf("expected newest note first, got %q", notes[0].Content)
	}
}

func TestDeleteNoteCascadesReports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	note := &Note{Content: "to be deleted"}
	id, err := s.AddNote(ctx, note)
	if err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
	if _, err := s.AddReport(ctx, &Report{NoteID: id, Dimension: "accuracy", Score: 0.9, RawScore: 0.95, Weight: 0.25}); err != nil {
		t.Fatalf("AddReport failed: %v", err)
	}

	if err := s.DeleteNote(ctx, id); err != nil {
		t.Fatalf("DeleteNote failed: %v", err)
	}

	reports, err := s.ListReports(ctx, ListOpts{NoteID: id})
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("expected reports to cascade on delete, got %d", len(reports))
	}

	if err := s.DeleteNote(ctx, id); err == nil {
		t.Error("expected error deleting missing note")
	}
}

func TestReportsRoundTripAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	noteID, err := s.AddNote(ctx, &Note{Content: "scored note"})
	if err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}

	reports := []*Report{
		{NoteID: noteID, Dimension: "accuracy", Score: 0.82, RawScore: 0.87, Weight: 0.25, PenaltyApplied: true, IssuesJSON: `[{"type":"DATE_INCONSISTENCY"}]`},
		{NoteID: noteID, Dimension: "specificity", Score: 0.91, RawScore: 0.91, Weight: 0.05},
	}
	for _, r := range reports {
		if _, err := s.AddReport(ctx, r); err != nil {
			t.Fatalf("AddReport failed: %v", err)
		}
	}

	all, err := s.ListReports(ctx, ListOpts{NoteID: noteID})
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(all))
	}

	accuracy, err := s.ListReports(ctx, ListOpts{NoteID: noteID, Dimension: "accuracy"})
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(accuracy) != 1 {
		t.Fatalf("expected 1 accuracy report, got %d", len(accuracy))
	}
	got := accuracy[0]
	if !got.PenaltyApplied {
		t.Error("expected penalty flag to round-trip")
	}
	if got.Score != 0.82 || got.RawScore != 0.87 {
		t.Errorf("score round-trip mismatch: %+v", got)
	}
	if got.IssuesJSON != `[{"type":"DATE_INCONSISTENCY"}]` {
		t.Errorf("issues round-trip mismatch: %q", got.IssuesJSON)
	}
}

func TestAddReportValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddReport(ctx, &Report{Dimension: "accuracy"}); err == nil {
		t.Error("expected error for missing note id")
	}
	if _, err := s.AddReport(ctx, &Report{NoteID: 1}); err == nil {
		t.Error("expected error for missing dimension")
	}
}

func TestStatsAndVacuum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	noteID, err := s.AddNote(ctx, &Note{Content: "stats note"})
	if err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
	if _, err := s.AddReport(ctx, &Report{NoteID: noteID, Dimension: "accuracy", Score: 1, RawScore: 1, Weight: 0.25}); err != nil {
		t.Fatalf("AddReport failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.NoteCount != 1 || stats.ReportCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.DBSizeBytes == 0 {
		t.Error("expected non-zero db size")
	}

	if err := s.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum failed: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fidelis.db")

	s1, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("first NewStore failed: %v", err)
	}
	if _, err := s1.AddNote(context.Background(), &Note{Content: "survives reopen"}); err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
	s1.Close()

	s2, err := NewStore(StoreConfig{DBPath: path})
	if err != nil {
		t.Fatalf("reopen NewStore failed: %v", err)
	}
	defer s2.Close()

	notes, err := s2.ListNotes(context.Background(), ListOpts{})
	if err != nil {
		t.Fatalf("ListNotes failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Content != "survives reopen" {
		t.Errorf("expected data to survive reopen, got %+v", notes)
	}
}
