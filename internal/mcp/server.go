// Package mcp provides a Model Context Protocol server for fidelis.
//
// It exposes the scoring and deduplication engines as MCP tools
// (fidelis_score, fidelis_dedup, fidelis_similarity, fidelis_reports) and
// store statistics as a resource, over stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/caretext/fidelis/internal/chart"
	"github.com/caretext/fidelis/internal/dedup"
	"github.com/caretext/fidelis/internal/quality"
	"github.com/caretext/fidelis/internal/registry"
	"github.com/caretext/fidelis/internal/similarity"
	"github.com/caretext/fidelis/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store    store.Store // optional; fidelis_reports and persistence need it
	Engine   *similarity.Engine
	Dedup    *dedup.Service
	Registry *registry.Registry // optional, defaults to the compiled-in rules
	Version  string
}

// dbMu serializes MCP tool calls that touch the database. The mcp-go
// library dispatches handlers concurrently via goroutines, and SQLite
// supports only one writer at a time.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all fidelis tools and
// resources.
func NewServer(cfg ServerConfig) (*server.MCPServer, error) {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Engine == nil {
		engine, err := similarity.NewEngine(similarity.EngineConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Engine = engine
	}
	if cfg.Dedup == nil {
		svc, err := dedup.NewService(cfg.Engine)
		if err != nil {
			return nil, err
		}
		cfg.Dedup = svc
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}

	s := server.NewMCPServer(
		"Fidelis",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerScoreTool(s, cfg)
	registerDedupTool(s, cfg.Dedup)
	registerSimilarityTool(s, cfg.Engine)
	if cfg.Store != nil {
		registerReportsTool(s, cfg.Store)
		registerStatsResource(s, cfg.Store)
	}

	return s, nil
}

// --- Tools ---

func registerScoreTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("fidelis_score",
		mcp.WithDescription("Score a generated clinical narrative against source notes. Returns accuracy and specificity dimension reports with itemized issues. When record_json is omitted, the structured record is extracted from the source notes."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("notes",
			mcp.Required(),
			mcp.Description("Source clinical notes (ground truth text)"),
		),
		mcp.WithString("narrative",
			mcp.Description("Generated narrative to score. Defaults to empty."),
		),
		mcp.WithString("record_json",
			mcp.Description("Extracted record as JSON. When empty, extraction runs over the notes."),
		),
		mcp.WithBoolean("strict",
			mcp.Description("Enable strict accuracy validation (default: true)"),
		),
		mcp.WithBoolean("precise",
			mcp.Description("Require precise values in specificity scoring (default: true)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		notes, err := req.RequireString("notes")
		if err != nil {
			return mcp.NewToolResultError("notes is required"), nil
		}

		narrative := ""
		if n, err := req.RequireString("narrative"); err == nil {
			narrative = n
		}

		var rec *chart.ExtractedRecord
		if raw, err := req.RequireString("record_json"); err == nil && strings.TrimSpace(raw) != "" {
			rec = &chart.ExtractedRecord{}
			if err := json.Unmarshal([]byte(raw), rec); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid record_json: %v", err)), nil
			}
		} else {
			_, rec = cfg.Registry.Extract(notes)
		}

		accOpts := quality.DefaultAccuracyOptions()
		if strict, err := req.RequireBool("strict"); err == nil {
			accOpts.StrictValidation = strict
		}
		specOpts := quality.DefaultSpecificityOptions()
		if precise, err := req.RequireBool("precise"); err == nil {
			specOpts.RequirePreciseValues = precise
		}

		accuracy := quality.NewAccuracyScorer(quality.Vocabulary{}).Score(rec, notes, narrative, accOpts)
		specificity := quality.NewSpecificityScorer(quality.Vocabulary{}).Score(narrative, rec, specOpts)

		payload := map[string]interface{}{
			"accuracy":    accuracy,
			"specificity": specificity,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerDedupTool(s *server.MCPServer, svc *dedup.Service) {
	tool := mcp.NewTool("fidelis_dedup",
		mcp.WithDescription("Deduplicate a list of clinical text items using combined similarity. Modes: dedupe (representatives only), confidence (clusters with confidence), merge (merged segments), exact (normalized exact duplicates)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("items",
			mcp.Required(),
			mcp.Description("Items to deduplicate: a JSON string array, or newline-separated text"),
		),
		mcp.WithString("mode",
			mcp.Description("Deduplication mode (default: dedupe)"),
			mcp.Enum("dedupe", "confidence", "merge", "exact"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Similarity threshold in (0,1] (default: 0.85)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("items")
		if err != nil {
			return mcp.NewToolResultError("items is required"), nil
		}
		items := parseItems(raw)
		if len(items) == 0 {
			return mcp.NewToolResultError("no items to deduplicate"), nil
		}

		threshold := dedup.DefaultThreshold
		if v, err := req.RequireFloat("threshold"); err == nil && v > 0 {
			threshold = v
		}

		mode := "dedupe"
		if m, err := req.RequireString("mode"); err == nil && m != "" {
			mode = m
		}

		var payload interface{}
		switch mode {
		case "dedupe":
			unique := svc.Deduplicate(ctx, items, threshold)
			payload = map[string]interface{}{"unique": unique, "removed": len(items) - len(unique)}
		case "confidence":
			payload = map[string]interface{}{"groups": svc.DeduplicateWithConfidence(ctx, items, threshold)}
		case "exact":
			payload = dedup.FindExactDuplicates(items)
		case "merge":
			payload = map[string]interface{}{"segments": svc.MergeSegments(ctx, items, threshold)}
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q", mode)), nil
		}

		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSimilarityTool(s *server.MCPServer, engine *similarity.Engine) {
	tool := mcp.NewTool("fidelis_similarity",
		mcp.WithDescription("Compute the combined similarity of two text fragments (weighted Jaccard + Levenshtein + optional semantic blend), plus the individual lexical metrics."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("a", mcp.Required(), mcp.Description("First text")),
		mcp.WithString("b", mcp.Required(), mcp.Description("Second text")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := req.RequireString("a")
		if err != nil {
			return mcp.NewToolResultError("a is required"), nil
		}
		b, err := req.RequireString("b")
		if err != nil {
			return mcp.NewToolResultError("b is required"), nil
		}

		combined := engine.Combined(ctx, a, b)
		payload := map[string]interface{}{
			"combined":    combined,
			"jaccard":     similarity.Jaccard(a, b),
			"levenshtein": similarity.LevenshteinSimilarity(a, b),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerReportsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("fidelis_reports",
		mcp.WithDescription("List stored quality reports, newest first, optionally filtered by note id and dimension."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("note_id",
			mcp.Description("Filter reports to one note"),
		),
		mcp.WithString("dimension",
			mcp.Description("Filter by dimension (accuracy, specificity)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of reports (default: 20, max: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		opts := store.ListOpts{Limit: 20}
		if v, err := req.RequireFloat("note_id"); err == nil && v > 0 {
			opts.NoteID = int64(v)
		}
		if d, err := req.RequireString("dimension"); err == nil && d != "" {
			opts.Dimension = d
		}
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			opts.Limit = int(v)
			if opts.Limit > 100 {
				opts.Limit = 100
			}
		}

		reports, err := st.ListReports(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing reports: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]interface{}{
			"reports": reports,
			"count":   len(reports),
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"fidelis://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Note and report counts plus database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading store stats: %w", err)
		}

		payload := map[string]interface{}{
			"note_count":    stats.NoteCount,
			"report_count":  stats.ReportCount,
			"db_size_bytes": stats.DBSizeBytes,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

// parseItems accepts either a JSON string array or newline-separated text.
func parseItems(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var parsed []string
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			var items []string
			for _, item := range parsed {
				if s := strings.TrimSpace(item); s != "" {
					items = append(items, s)
				}
			}
			return items
		}
	}

	var items []string
	for _, line := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			items = append(items, s)
		}
	}
	return items
}
