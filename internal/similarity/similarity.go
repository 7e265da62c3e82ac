// Package similarity computes bounded [0,1] similarity between normalized
// text fragments by blending three metrics: token Jaccard overlap, Levenshtein
// edit ratio, and an optional semantic score from an injected provider.
//
// The blend is symmetric and reflexive as long as each sub-metric is, and it
// degrades gracefully: when no semantic provider is configured, or the
// provider fails or times out, the lexical weights are renormalized to sum to
// 1.0 and the comparison proceeds instead of failing.
package similarity

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultProviderTimeout bounds a single semantic provider call.
const DefaultProviderTimeout = 5 * time.Second

// Provider is an external meaning-aware comparison, e.g. embedding cosine.
// Implementations return a score in [0,1] or an error when unavailable.
type Provider interface {
	Compare(ctx context.Context, a, b string) (float64, error)
}

// Weights controls the contribution of each sub-metric. Must sum to 1.0.
type Weights struct {
	Jaccard     float64 `json:"jaccard" yaml:"jaccard"`
	Levenshtein float64 `json:"levenshtein" yaml:"levenshtein"`
	Semantic    float64 `json:"semantic" yaml:"semantic"`
}

// DefaultWeights returns the standard 0.4/0.2/0.4 blend.
func DefaultWeights() Weights {
	return Weights{Jaccard: 0.4, Levenshtein: 0.2, Semantic: 0.4}
}

// Validate checks that the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	if w.Jaccard < 0 || w.Levenshtein < 0 || w.Semantic < 0 {
		return fmt.Errorf("similarity weights must be non-negative, got %+v", w)
	}
	sum := w.Jaccard + w.Levenshtein + w.Semantic
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("similarity weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// EngineConfig configures a similarity Engine.
type EngineConfig struct {
	Weights         Weights       // zero value means DefaultWeights
	Provider        Provider      // optional semantic collaborator
	ProviderTimeout time.Duration // per-call bound on the provider (default 5s)
}

// Engine blends the three sub-metrics with fixed weights. Stateless beyond
// its configuration; safe for concurrent use.
type Engine struct {
	weights  Weights
	provider Provider
	timeout  time.Duration
}

// NewEngine validates the configuration and returns an Engine.
// Invalid weights are a caller configuration error and fail fast here.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	w := cfg.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Engine{weights: w, provider: cfg.Provider, timeout: timeout}, nil
}

// Weights returns the engine's configured blend.
func (e *Engine) Weights() Weights { return e.weights }

// Combined returns the weighted blend of Jaccard, Levenshtein, and semantic
// similarity for two already-normalized strings. Always in [0,1].
func (e *Engine) Combined(ctx context.Context, a, b string) float64 {
	w := e.weights

	semantic := 0.0
	haveSemantic := false
	if e.provider != nil && w.Semantic > 0 {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		score, err := e.provider.Compare(callCtx, a, b)
		cancel()
		if err == nil {
			semantic = clamp01(score)
			haveSemantic = true
		}
	}

	if !haveSemantic {
		// Renormalize the lexical weights so the result stays on a 1.0 scale.
		lexical := w.Jaccard + w.Levenshtein
		if lexical <= 0 {
			d := DefaultWeights()
			lexical = d.Jaccard + d.Levenshtein
			w.Jaccard, w.Levenshtein = d.Jaccard, d.Levenshtein
		}
		w.Jaccard /= lexical
		w.Levenshtein /= lexical
		w.Semantic = 0
	}

	score := w.Jaccard*Jaccard(a, b) + w.Levenshtein*LevenshteinSimilarity(a, b) + w.Semantic*semantic
	return clamp01(score)
}

// Jaccard returns the ratio of shared to total distinct whitespace tokens.
// Two empty token sets are identical (1.0); an empty union with differing
// sets scores 0.0.
func Jaccard(a, b string) float64 {
	aSet := tokenSet(a)
	bSet := tokenSet(b)
	if len(aSet) == 0 && len(bSet) == 0 {
		return 1
	}
	inter := 0
	for t := range aSet {
		if _, ok := bSet[t]; ok {
			inter++
		}
	}
	union := len(aSet) + len(bSet) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// LevenshteinSimilarity returns 1 - editDistance(a,b)/max(len(a), len(b)).
// Identical strings score 1.0; fully disjoint strings score 0.0.
func LevenshteinSimilarity(a, b string) float64 {
	ar := []rune(a)
	br := []rune(b)
	if len(ar) == 0 && len(br) == 0 {
		return 1
	}
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	return 1 - float64(levenshtein(ar, br))/float64(maxLen)
}

// FuzzyMatch is the standalone Levenshtein ratio over raw strings.
func FuzzyMatch(a, b string) float64 {
	return LevenshteinSimilarity(a, b)
}

// levenshtein computes the single-character insert/delete/substitute
// cost-1 edit distance with a two-row rolling buffer.
func levenshtein(ar, br []rune) int {
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}

	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := 0; j <= len(br); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 0
			if ar[i-1] != br[j-1] {
				cost = 1
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(del, minInt(ins, sub))
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}

// Match is one candidate scored against a query.
type Match struct {
	Text  string  `json:"text"`
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// BestMatch returns the single highest-scoring candidate at or above the
// threshold, or false when none qualifies. Candidates are compared in order;
// ties keep the earlier candidate.
func (e *Engine) BestMatch(ctx context.Context, query string, candidates []string, threshold float64) (Match, bool) {
	best := Match{Index: -1}
	for i, c := range candidates {
		score := e.Combined(ctx, query, c)
		if score < threshold {
			continue
		}
		if best.Index == -1 || score > best.Score {
			best = Match{Text: c, Index: i, Score: score}
		}
	}
	return best, best.Index >= 0
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		set[t] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
