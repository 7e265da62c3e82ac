package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caretext/fidelis/internal/dedup"
)

func runDedup(args []string) error {
	f, err := splitFlags(args)
	if err != nil {
		return err
	}

	mode := "dedupe"
	asJSON := false
	var paths []string
	for i := 0; i < len(f.rest); i++ {
		switch {
		case f.rest[i] == "--mode" && i+1 < len(f.rest):
			i++
			mode = f.rest[i]
		case strings.HasPrefix(f.rest[i], "--mode="):
			mode = strings.TrimPrefix(f.rest[i], "--mode=")
		case f.rest[i] == "--json":
			asJSON = true
		case strings.HasPrefix(f.rest[i], "-") && f.rest[i] != "-":
			return fmt.Errorf("unknown flag: %s", f.rest[i])
		default:
			paths = append(paths, f.rest[i])
		}
	}

	if len(paths) != 1 {
		return fmt.Errorf("usage: fidelis dedup <file> [--mode dedupe|confidence|merge|exact] (use - for stdin)")
	}

	raw, err := readInput(paths[0])
	if err != nil {
		return err
	}
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			items = append(items, s)
		}
	}
	if len(items) == 0 {
		return fmt.Errorf("no items to deduplicate")
	}

	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	threshold, err := cfg.ThresholdValue(dedup.DefaultThreshold)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	svc, err := dedup.NewService(engine)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch mode {
	case "dedupe":
		unique := svc.Deduplicate(ctx, items, threshold)
		if asJSON {
			return printJSON(map[string]interface{}{"unique": unique, "removed": len(items) - len(unique)})
		}
		for _, u := range unique {
			fmt.Println(u)
		}
		fmt.Printf("\n%d items, %d unique, %d removed\n", len(items), len(unique), len(items)-len(unique))
	case "confidence":
		groups := svc.DeduplicateWithConfidence(ctx, items, threshold)
		if asJSON {
			return printJSON(groups)
		}
		for _, g := range groups {
			fmt.Printf("%.2f ×%d  %s\n", g.Confidence, g.Occurrences, g.Text)
		}
	case "merge":
		merged := svc.MergeSegments(ctx, items, threshold)
		if asJSON {
			return printJSON(merged)
		}
		for _, m := range merged {
			fmt.Printf("%.2f ×%d  %s\n", m.Confidence, m.MergedCount, m.Text)
		}
	case "exact":
		res := dedup.FindExactDuplicates(items)
		if asJSON {
			return printJSON(res)
		}
		for _, u := range res.Unique {
			fmt.Println(u)
		}
		if len(res.Duplicates) > 0 {
			fmt.Println()
			for _, d := range res.Duplicates {
				fmt.Printf("×%d  %s\n", d.Count, d.Text)
			}
		}
	default:
		return fmt.Errorf("unknown mode %q (expected dedupe, confidence, merge, or exact)", mode)
	}
	return nil
}

func runExtract(args []string) error {
	f, err := splitFlags(args)
	if err != nil {
		return err
	}

	matchesOnly := false
	var paths []string
	for i := 0; i < len(f.rest); i++ {
		switch {
		case f.rest[i] == "--matches":
			matchesOnly = true
		case strings.HasPrefix(f.rest[i], "-") && f.rest[i] != "-":
			return fmt.Errorf("unknown flag: %s", f.rest[i])
		default:
			paths = append(paths, f.rest[i])
		}
	}

	if len(paths) != 1 {
		return fmt.Errorf("usage: fidelis extract <file> [--matches] [--rules <path>]")
	}

	source, err := readInput(paths[0])
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	matches, rec := reg.Extract(source)
	if matchesOnly {
		return printJSON(matches)
	}
	return printJSON(rec)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
