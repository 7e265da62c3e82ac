// Package semantic provides the optional meaning-aware similarity
// collaborator consumed by the similarity engine.
//
// Two embedder backends are supported: an OpenAI-compatible HTTP embeddings
// API and a local ONNX MiniLM model. Either is adapted into a bounded-score
// Comparer; when neither is configured the similarity engine runs on its
// lexical metrics alone.
package semantic

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Comparer adapts an Embedder into the similarity.Provider contract:
// a single bounded [0,1] comparison of two strings.
//
// Vectors are cached in memory per normalized input; clinical documents
// repeat the same fragments heavily, so the cache pays for itself within a
// single deduplication pass.
type Comparer struct {
	embedder Embedder

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewComparer wraps an embedder. The embedder is required.
func NewComparer(embedder Embedder) (*Comparer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Comparer{embedder: embedder, cache: make(map[string][]float32)}, nil
}

// Compare embeds both strings and returns their cosine similarity mapped
// onto [0,1]. Errors are returned to the caller, which degrades to lexical
// weights rather than failing the comparison.
func (c *Comparer) Compare(ctx context.Context, a, b string) (float64, error) {
	va, err := c.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := c.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return boundedCosine(va, vb), nil
}

func (c *Comparer) vector(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)

	c.mu.RLock()
	vec, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = vec
	c.mu.Unlock()
	return vec, nil
}

// boundedCosine maps cosine similarity from [-1,1] onto [0,1].
func boundedCosine(a, b []float32) float64 {
	cos := cosine(a, b)
	score := (cos + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
