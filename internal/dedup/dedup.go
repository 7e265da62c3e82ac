// Package dedup collapses repeated and near-duplicate text fragments across
// long, repetitive clinical documents.
//
// Every similarity-based operation makes a single left-to-right pass: each
// item is normalized and compared against already-accepted representatives in
// insertion order, and merges into the first cluster whose similarity meets
// the threshold (inclusive). The clustering is therefore greedy and
// order-dependent: reordering the input can legally change cluster
// membership. That first-seen-wins behavior is intentional; downstream
// consumers depend on it.
//
// Empty and whitespace-only items are silently skipped by every operation.
// All operations are pure with no shared state; concurrent calls across
// independent documents need no locking.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/caretext/fidelis/internal/chart"
	"github.com/caretext/fidelis/internal/similarity"
)

const (
	// DefaultThreshold merges fragments at or above this combined similarity.
	DefaultThreshold = 0.85

	// structuredFallbackThreshold gates whole-record serialized comparison
	// for records lacking the key field. Uses the plain Levenshtein ratio,
	// not the hybrid blend.
	structuredFallbackThreshold = 0.95
)

// Service runs the deduplication operations on top of a similarity Engine.
type Service struct {
	engine *similarity.Engine
}

// NewService wraps a similarity engine. The engine is required.
func NewService(engine *similarity.Engine) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("similarity engine is required")
	}
	return &Service{engine: engine}, nil
}

// Member is one fragment assigned to a cluster.
type Member struct {
	Text       string  `json:"text"`
	Normalized string  `json:"normalized"`
	Similarity float64 `json:"similarity"`
}

// cluster is the shared accumulation shape for the grouping operations.
type cluster struct {
	representative string
	normalized     string
	members        []Member
}

// Deduplicate returns the first-seen survivor of each near-duplicate cluster,
// preserving input order.
func (s *Service) Deduplicate(ctx context.Context, items []string, threshold float64) []string {
	clusters := s.clusterPass(ctx, items, threshold)
	out := make([]string, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c.representative)
	}
	return out
}

// Group is a near-duplicate cluster with a confidence derived from how often
// its content recurred.
type Group struct {
	Text        string   `json:"text"`
	Confidence  float64  `json:"confidence"`
	Occurrences int      `json:"occurrences"`
	Variants    []string `json:"variants"`
}

// DeduplicateWithConfidence groups all variants under the first-seen
// representative. Confidence grows with repetition: min(0.5 + 0.1·count, 1.0).
func (s *Service) DeduplicateWithConfidence(ctx context.Context, items []string, threshold float64) []Group {
	clusters := s.clusterPass(ctx, items, threshold)
	out := make([]Group, 0, len(clusters))
	for _, c := range clusters {
		variants := make([]string, 0, len(c.members))
		for _, m := range c.members {
			variants = append(variants, m.Text)
		}
		out = append(out, Group{
			Text:        c.representative,
			Confidence:  capConfidence(0.5 + 0.1*float64(len(c.members))),
			Occurrences: len(c.members),
			Variants:    variants,
		})
	}
	return out
}

// Merged is a cluster of note segments collapsed into one representative.
type Merged struct {
	Text        string  `json:"text"`
	MergedCount int     `json:"merged_count"`
	Confidence  float64 `json:"confidence"`
}

// MergeSegments clusters segments like DeduplicateWithConfidence but keeps
// the longest variant as representative, on the theory that the longest
// rendering of a repeated segment carries the most detail.
// Confidence: min(0.6 + 0.1·count, 1.0).
func (s *Service) MergeSegments(ctx context.Context, segments []string, threshold float64) []Merged {
	clusters := s.clusterPass(ctx, segments, threshold)
	out := make([]Merged, 0, len(clusters))
	for _, c := range clusters {
		longest := c.representative
		for _, m := range c.members {
			if len(m.Text) > len(longest) {
				longest = m.Text
			}
		}
		out = append(out, Merged{
			Text:        longest,
			MergedCount: len(c.members),
			Confidence:  capConfidence(0.6 + 0.1*float64(len(c.members))),
		})
	}
	return out
}

// clusterPass is the shared greedy single-pass clustering loop.
func (s *Service) clusterPass(ctx context.Context, items []string, threshold float64) []cluster {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	clusters := make([]cluster, 0)

itemLoop:
	for _, item := range items {
		norm := chart.NormalizeKey(item)
		if norm == "" {
			continue
		}
		for i := range clusters {
			sim := s.engine.Combined(ctx, norm, clusters[i].normalized)
			if sim >= threshold {
				clusters[i].members = append(clusters[i].members, Member{Text: item, Normalized: norm, Similarity: sim})
				continue itemLoop
			}
		}
		clusters = append(clusters, cluster{
			representative: item,
			normalized:     norm,
			members:        []Member{{Text: item, Normalized: norm, Similarity: 1.0}},
		})
	}
	return clusters
}

// DuplicateCount reports one repeated normalized fragment and how many times
// it appeared in total.
type DuplicateCount struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// ExactResult is the output of FindExactDuplicates.
type ExactResult struct {
	Unique     []string         `json:"unique"`
	Duplicates []DuplicateCount `json:"duplicates"`
}

// FindExactDuplicates collapses items by exact normalized equality only.
// No similarity metric is involved; the pass is O(n). Unique keeps the
// first-seen original text; Duplicates lists each normalized form that
// occurred more than once with its total occurrence count.
func FindExactDuplicates(items []string) ExactResult {
	seen := map[string]int{}
	order := []string{}
	res := ExactResult{Unique: []string{}, Duplicates: []DuplicateCount{}}

	for _, item := range items {
		norm := chart.NormalizeKey(item)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; !ok {
			order = append(order, norm)
			res.Unique = append(res.Unique, item)
		}
		seen[norm]++
	}

	for _, norm := range order {
		if seen[norm] > 1 {
			res.Duplicates = append(res.Duplicates, DuplicateCount{Text: norm, Count: seen[norm]})
		}
	}
	return res
}

// ListOptions controls DeduplicateList.
type ListOptions struct {
	CaseSensitive bool // compare raw trimmed strings instead of normalized keys
	Sort          bool // resort output alphabetically; otherwise input order is kept
}

// DeduplicateList removes exact duplicates from a list, case-sensitively or
// not, optionally resorting the survivors alphabetically.
func DeduplicateList(items []string, opts ListOptions) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		key := chart.NormalizeKey(item)
		if opts.CaseSensitive {
			key = trimmed
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	if opts.Sort {
		sort.Strings(out)
	}
	return out
}

// Record is a structured extraction row keyed by arbitrary fields.
type Record = map[string]any

// DeduplicateStructured keeps the first record per distinct value of
// keyField. Records lacking the key fall back to whole-record serialized
// comparison against already-kept records at a fixed 0.95 Levenshtein-ratio
// threshold. The fallback is sensitive to field ordering of the
// serialization; kept for compatibility with the established behavior.
func DeduplicateStructured(records []Record, keyField string) []Record {
	seenKeys := map[string]struct{}{}
	keptSerialized := []string{}
	out := make([]Record, 0, len(records))

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if val, ok := rec[keyField]; ok && val != nil {
			key := serializeValue(val)
			if strings.TrimSpace(key) != "" {
				if _, dup := seenKeys[key]; dup {
					continue
				}
				seenKeys[key] = struct{}{}
				out = append(out, rec)
				keptSerialized = append(keptSerialized, serializeRecord(rec))
				continue
			}
		}

		ser := serializeRecord(rec)
		isDup := false
		for _, kept := range keptSerialized {
			if similarity.FuzzyMatch(ser, kept) >= structuredFallbackThreshold {
				isDup = true
				break
			}
		}
		if isDup {
			continue
		}
		out = append(out, rec)
		keptSerialized = append(keptSerialized, ser)
	}
	return out
}

func serializeValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// serializeRecord renders a record with sorted keys so the fallback
// comparison is stable for a given record shape.
func serializeRecord(rec Record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprint(rec)
	}
	return string(b)
}

func capConfidence(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
