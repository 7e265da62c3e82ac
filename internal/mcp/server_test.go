package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/caretext/fidelis/internal/dedup"
	"github.com/caretext/fidelis/internal/quality"
	"github.com/caretext/fidelis/internal/store"
)

// helper: create a test store with a couple of notes and reports
func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: filepath.Join(t.TempDir(), "fidelis.db")})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	notes := []*store.Note{
		{Content: "Patient admitted with subarachnoid hemorrhage.", SourceFile: "sah.md", Patient: "doe-jane"},
		{Content: "Patient underwent craniotomy for tumor resection.", SourceFile: "tumor.md", Patient: "roe-richard"},
	}
	for _, n := range notes {
		if _, err := s.AddNote(ctx, n); err != nil {
			t.Fatalf("adding test note: %v", err)
		}
	}

	reports := []*store.Report{
		{NoteID: 1, Dimension: "accuracy", Score: 0.92, RawScore: 0.95, Weight: 0.4},
		{NoteID: 1, Dimension: "specificity", Score: 0.80, RawScore: 0.85, Weight: 0.3},
		{NoteID: 2, Dimension: "accuracy", Score: 0.70, RawScore: 0.75, Weight: 0.4, PenaltyApplied: true},
	}
	for _, r := range reports {
		if _, err := s.AddReport(ctx, r); err != nil {
			t.Fatalf("adding test report: %v", err)
		}
	}

	return s
}

func newTestServer(t *testing.T, s store.Store) *server.MCPServer {
	t.Helper()
	srv, err := NewServer(ServerConfig{Store: s})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return srv
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer without store: %v", err)
	}
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

// callTool is a helper that invokes an MCP tool through the JSON-RPC layer.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}

	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{
		IsError: resp.Result.IsError,
	}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}

	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestSimilarityTool(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_similarity", map[string]interface{}{
		"a": "patient started on nimodipine",
		"b": "patient started on nimodipine",
	})

	var payload struct {
		Combined    float64 `json:"combined"`
		Jaccard     float64 `json:"jaccard"`
		Levenshtein float64 `json:"levenshtein"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing similarity result: %v", err)
	}

	if payload.Combined != 1.0 {
		t.Errorf("combined for identical texts = %v, want 1.0", payload.Combined)
	}
	if payload.Jaccard != 1.0 || payload.Levenshtein != 1.0 {
		t.Errorf("lexical metrics = %v/%v, want 1.0/1.0", payload.Jaccard, payload.Levenshtein)
	}
}

func TestSimilarityToolMissingArgument(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_similarity", map[string]interface{}{
		"a": "only one side",
	})
	if !result.IsError {
		t.Fatal("expected error result for missing b")
	}
}

func TestDedupToolDefaultMode(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_dedup", map[string]interface{}{
		"items": "patient started on nimodipine\npatient started on nimodipine\nEVD placed",
	})

	var payload struct {
		Unique  []string `json:"unique"`
		Removed int      `json:"removed"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing dedup result: %v", err)
	}

	if len(payload.Unique) != 2 {
		t.Errorf("unique = %v, want 2 items", payload.Unique)
	}
	if payload.Removed != 1 {
		t.Errorf("removed = %d, want 1", payload.Removed)
	}
}

func TestDedupToolJSONItems(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_dedup", map[string]interface{}{
		"items": `["aspirin 81 mg daily", "aspirin 81 mg daily", "heparin sq"]`,
		"mode":  "confidence",
	})

	var payload struct {
		Groups []dedup.Group `json:"groups"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing confidence result: %v", err)
	}

	if len(payload.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(payload.Groups))
	}
	for _, g := range payload.Groups {
		if g.Text == "aspirin 81 mg daily" && g.Occurrences != 2 {
			t.Errorf("aspirin occurrences = %d, want 2", g.Occurrences)
		}
	}
}

func TestDedupToolExactMode(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_dedup", map[string]interface{}{
		"items": "EVD placed\nevd  placed\nmannitol given",
		"mode":  "exact",
	})

	var payload dedup.ExactResult
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing exact result: %v", err)
	}

	if len(payload.Unique) != 2 {
		t.Errorf("unique = %v, want 2 items", payload.Unique)
	}
	if len(payload.Duplicates) != 1 || payload.Duplicates[0].Count != 2 {
		t.Errorf("duplicates = %+v, want one entry with count 2", payload.Duplicates)
	}
}

func TestDedupToolMergeMode(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_dedup", map[string]interface{}{
		"items": "headache improved\nheadache improved\nno focal deficits",
		"mode":  "merge",
	})

	var payload struct {
		Segments []dedup.Merged `json:"segments"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing merge result: %v", err)
	}
	if len(payload.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(payload.Segments))
	}
}

func TestDedupToolUnknownMode(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_dedup", map[string]interface{}{
		"items": "a\nb",
		"mode":  "fuzzy",
	})
	if !result.IsError {
		t.Fatal("expected error result for unknown mode")
	}
}

func TestDedupToolEmptyItems(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_dedup", map[string]interface{}{
		"items": "   \n  ",
	})
	if !result.IsError {
		t.Fatal("expected error result for blank items")
	}
}

func TestScoreToolExtractsRecordFromNotes(t *testing.T) {
	srv := newTestServer(t, nil)

	notes := "Patient: Jane Doe\nMRN: 44821970\nNimodipine 60 mg po q4h started.\nGCS: 14 on admission."
	narrative := "Jane Doe was admitted with GCS 14 and started on nimodipine 60 mg."

	result := callTool(t, srv, "fidelis_score", map[string]interface{}{
		"notes":     notes,
		"narrative": narrative,
	})

	var payload struct {
		Accuracy    quality.ScoreResult `json:"accuracy"`
		Specificity quality.ScoreResult `json:"specificity"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing score result: %v", err)
	}

	if payload.Accuracy.Score < 0 || payload.Accuracy.Score > 1 {
		t.Errorf("accuracy score out of range: %v", payload.Accuracy.Score)
	}
	if payload.Specificity.Score < 0 || payload.Specificity.Score > 1 {
		t.Errorf("specificity score out of range: %v", payload.Specificity.Score)
	}
}

func TestScoreToolAcceptsRecordJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	record := `{"demographics": {"name": "Jane Doe", "age": "67", "sex": "female"}}`
	result := callTool(t, srv, "fidelis_score", map[string]interface{}{
		"notes":       "Jane Doe, 67-year-old female.",
		"narrative":   "Jane Doe is a 67-year-old female.",
		"record_json": record,
	})

	text := getTextContent(t, result)
	if !strings.Contains(text, "accuracy") || !strings.Contains(text, "specificity") {
		t.Errorf("score output missing dimensions: %s", text)
	}
}

func TestScoreToolRejectsBadRecordJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	result := callTool(t, srv, "fidelis_score", map[string]interface{}{
		"notes":       "some notes",
		"record_json": "{not json",
	})
	if !result.IsError {
		t.Fatal("expected error result for invalid record_json")
	}
}

func TestReportsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "fidelis_reports", map[string]interface{}{})

	var payload struct {
		Reports []store.Report `json:"reports"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing reports result: %v", err)
	}

	if payload.Count != 3 {
		t.Errorf("count = %d, want 3", payload.Count)
	}
}

func TestReportsToolFilters(t *testing.T) {
	s := setupTestStore(t)
	srv := newTestServer(t, s)

	result := callTool(t, srv, "fidelis_reports", map[string]interface{}{
		"note_id":   float64(1),
		"dimension": "accuracy",
	})

	var payload struct {
		Reports []store.Report `json:"reports"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &payload); err != nil {
		t.Fatalf("parsing reports result: %v", err)
	}

	if payload.Count != 1 {
		t.Fatalf("count = %d, want 1", payload.Count)
	}
	if payload.Reports[0].NoteID != 1 || payload.Reports[0].Dimension != "accuracy" {
		t.Errorf("unexpected report: %+v", payload.Reports[0])
	}
}

func TestParseItems(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"newline separated", "a\nb\n\nc", []string{"a", "b", "c"}},
		{"json array", `["a", "b"]`, []string{"a", "b"}},
		{"json array with blanks", `["a", "  ", "b"]`, []string{"a", "b"}},
		{"blank input", "  \n ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseItems(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("parseItems(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("item %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
