package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caretext/fidelis/internal/chart"
	"github.com/caretext/fidelis/internal/config"
	"github.com/caretext/fidelis/internal/quality"
	"github.com/caretext/fidelis/internal/store"
)

type scoreOptions struct {
	notesPath     string
	narrativePath string
	recordPath    string
	strict        string
	precise       string
	save          bool
	format        string
}

func runScore(args []string) error {
	f, err := splitFlags(args)
	if err != nil {
		return err
	}

	opts := scoreOptions{format: "markdown"}
	for i := 0; i < len(f.rest); i++ {
		switch {
		case f.rest[i] == "--notes" && i+1 < len(f.rest):
			i++
			opts.notesPath = f.rest[i]
		case f.rest[i] == "--narrative" && i+1 < len(f.rest):
			i++
			opts.narrativePath = f.rest[i]
		case f.rest[i] == "--record" && i+1 < len(f.rest):
			i++
			opts.recordPath = f.rest[i]
		case f.rest[i] == "--strict" && i+1 < len(f.rest):
			i++
			opts.strict = f.rest[i]
		case f.rest[i] == "--precise" && i+1 < len(f.rest):
			i++
			opts.precise = f.rest[i]
		case f.rest[i] == "--save":
			opts.save = true
		case f.rest[i] == "--format" && i+1 < len(f.rest):
			i++
			opts.format = f.rest[i]
		default:
			return fmt.Errorf("unknown argument: %s", f.rest[i])
		}
	}

	if opts.notesPath == "" {
		return fmt.Errorf("usage: fidelis score --notes <file> [--narrative <file>] [--record <file>]")
	}
	if opts.format != "markdown" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (expected markdown or json)", opts.format)
	}

	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}

	notes, err := readInput(opts.notesPath)
	if err != nil {
		return err
	}

	narrative := ""
	if opts.narrativePath != "" {
		narrative, err = readInput(opts.narrativePath)
		if err != nil {
			return err
		}
	}

	var rec *chart.ExtractedRecord
	if opts.recordPath != "" {
		raw, err := readInput(opts.recordPath)
		if err != nil {
			return err
		}
		rec = &chart.ExtractedRecord{}
		if err := json.Unmarshal([]byte(raw), rec); err != nil {
			return fmt.Errorf("parsing record JSON: %w", err)
		}
	} else {
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		_, rec = reg.Extract(notes)
	}

	accOpts := quality.DefaultAccuracyOptions()
	accOpts.StrictValidation, err = boolFlag(opts.strict, cfg.StrictValidation, accOpts.StrictValidation)
	if err != nil {
		return err
	}
	specOpts := quality.DefaultSpecificityOptions()
	specOpts.RequirePreciseValues, err = boolFlag(opts.precise, cfg.PreciseValues, specOpts.RequirePreciseValues)
	if err != nil {
		return err
	}

	accuracy := quality.NewAccuracyScorer(quality.Vocabulary{}).Score(rec, notes, narrative, accOpts)
	specificity := quality.NewSpecificityScorer(quality.Vocabulary{}).Score(narrative, rec, specOpts)

	if opts.save {
		if err := saveReports(cfg, opts.notesPath, notes, accuracy, specificity); err != nil {
			return fmt.Errorf("saving reports: %w", err)
		}
	}

	if opts.format == "json" {
		data, err := json.MarshalIndent(map[string]quality.ScoreResult{
			"accuracy":    accuracy,
			"specificity": specificity,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(formatScoreMarkdown(opts.notesPath, accuracy, specificity))
	return nil
}

// boolFlag resolves a boolean in CLI > config > default order.
func boolFlag(cli string, resolved config.ResolvedValue, fallback bool) (bool, error) {
	v, err := resolved.BoolValue(fallback)
	if err != nil {
		return false, err
	}
	if cli == "" {
		return v, nil
	}
	parsed, err := strconv.ParseBool(cli)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", cli)
	}
	return parsed, nil
}

// saveReports persists the source note (deduplicated by content hash) and one
// report row per dimension.
func saveReports(cfg config.ResolvedConfig, sourceFile, notes string, results ...quality.ScoreResult) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	note, err := persistNote(ctx, st, sourceFile, notes)
	if err != nil {
		return err
	}

	for _, r := range results {
		issues, err := json.Marshal(r.Issues)
		if err != nil {
			return err
		}
		report := &store.Report{
			NoteID:         note.ID,
			Dimension:      r.Dimension,
			Score:          r.Score,
			RawScore:       r.RawScore,
			Weight:         r.Weight,
			PenaltyApplied: r.PenaltyApplied,
			IssuesJSON:     string(issues),
		}
		if _, err := st.AddReport(ctx, report); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Saved %d reports for note %d\n", len(results), note.ID)
	return nil
}

func formatScoreMarkdown(source string, results ...quality.ScoreResult) string {
	var sb strings.Builder

	sb.WriteString("# Quality Report\n")
	sb.WriteString(fmt.Sprintf("*%s*\n\n", source))

	sb.WriteString("| Dimension | Score | Raw | Weight | Weighted | Issues |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	overall := 0.0
	for _, r := range results {
		penalty := ""
		if r.PenaltyApplied {
			penalty = " ⚠"
		}
		sb.WriteString(fmt.Sprintf("| %s | %.2f%s | %.2f | %.2f | %.2f | %d |\n",
			r.Dimension, r.Score, penalty, r.RawScore, r.Weight, r.Weighted, len(r.Issues)))
		overall += r.Weighted
	}
	sb.WriteString(fmt.Sprintf("\n**Weighted total: %.2f**\n", overall))

	for _, r := range results {
		if len(r.Issues) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n## %s issues\n\n", titleCase(r.Dimension)))
		for _, issue := range r.Issues {
			field := ""
			if issue.Field != "" {
				field = fmt.Sprintf(" (%s)", issue.Field)
			}
			sb.WriteString(fmt.Sprintf("- **%s**%s [%s]", issue.Type, field, issue.Severity))
			if issue.Suggestion != "" {
				sb.WriteString(": " + issue.Suggestion)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func persistNote(ctx context.Context, st store.Store, sourceFile, notes string) (*store.Note, error) {
	hash := store.HashNoteContent(notes, sourceFile)
	existing, err := st.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	note := &store.Note{Content: notes, SourceFile: sourceFile}
	if _, err := st.AddNote(ctx, note); err != nil {
		return nil, err
	}
	return note, nil
}
