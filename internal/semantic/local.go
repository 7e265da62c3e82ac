package semantic

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// LocalConfig configures the on-device ONNX embedder.
//
// ModelDir must contain model.onnx and tokenizer.json (the standard export
// layout for sentence-transformer models such as all-MiniLM-L6-v2).
type LocalConfig struct {
	ModelDir    string
	LibraryPath string // onnxruntime shared library; empty uses the system default
	MaxSeqLen   int    // default: 256
}

const defaultMaxSeqLen = 256

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Local implements Embedder with a sentence-transformer ONNX model run
// entirely on-device. Mean pooling over the attention mask followed by L2
// normalization matches the sentence-transformers reference pipeline.
type Local struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizer.Tokenizer
	maxSeqLen int

	mu   sync.Mutex // ORT sessions are not safe for concurrent Run
	dims int
}

// NewLocal loads the tokenizer and ONNX session from cfg.ModelDir.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("model directory is required")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}

	modelPath := filepath.Join(cfg.ModelDir, "model.onnx")
	tokenizerPath := filepath.Join(cfg.ModelDir, "tokenizer.json")
	for _, path := range []string{modelPath, tokenizerPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model file missing: %w", err)
		}
	}

	ortInitOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", ortInitErr)
	}

	tk, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("loading ONNX model: %w", err)
	}

	return &Local{
		session:   session,
		tokenizer: tk,
		maxSeqLen: cfg.MaxSeqLen,
	}, nil
}

// Close releases the ONNX session.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		err := l.session.Destroy()
		l.session = nil
		return err
	}
	return nil
}

// Embed generates a normalized embedding vector for one text.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil, fmt.Errorf("embedder is closed")
	}

	ids, mask, err := l.tokenize(text)
	if err != nil {
		return nil, err
	}
	return l.run(ids, mask)
}

// EmbedBatch embeds texts sequentially. The local model wins on latency per
// call, so there is no wire-batching advantage to chase here.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimensionality, or 0 before the first
// successful call.
func (l *Local) Dimensions() int {
	return l.dims
}

func (l *Local) tokenize(text string) ([]int64, []int64, error) {
	encoding, err := l.tokenizer.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenizing text: %w", err)
	}

	n := len(encoding.Ids)
	if n > l.maxSeqLen {
		n = l.maxSeqLen
	}
	if n == 0 {
		return nil, nil, fmt.Errorf("tokenizer produced no tokens")
	}

	ids := make([]int64, n)
	mask := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(encoding.Ids[i])
		mask[i] = int64(encoding.AttentionMask[i])
	}
	return ids, mask, nil
}

func (l *Local) run(ids, mask []int64) ([]float32, error) {
	seqLen := int64(len(ids))
	shape := ort.NewShape(1, seqLen)

	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attention, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("creating attention tensor: %w", err)
	}
	defer attention.Destroy()

	typeIDs, err := ort.NewTensor(shape, make([]int64, len(ids)))
	if err != nil {
		return nil, fmt.Errorf("creating token type tensor: %w", err)
	}
	defer typeIDs.Destroy()

	outputs := []ort.Value{nil}
	if err := l.session.Run([]ort.Value{inputIDs, attention, typeIDs}, outputs); err != nil {
		return nil, fmt.Errorf("running model: %w", err)
	}

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer hidden.Destroy()

	outShape := hidden.GetShape()
	if len(outShape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}
	hiddenSize := int(outShape[2])

	vec := meanPool(hidden.GetData(), mask, hiddenSize)
	normalize(vec)
	l.dims = len(vec)
	return vec, nil
}

// meanPool averages token states weighted by the attention mask.
func meanPool(data []float32, mask []int64, hiddenSize int) []float32 {
	vec := make([]float32, hiddenSize)
	var count float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		count++
		base := t * hiddenSize
		for j := 0; j < hiddenSize; j++ {
			vec[j] += data[base+j]
		}
	}
	if count > 0 {
		for j := range vec {
			vec[j] /= count
		}
	}
	return vec
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}

// NewProvider builds the similarity collaborator named by cfg: the local
// ONNX embedder for provider "local", otherwise the HTTP client.
func NewProvider(cfg *Config) (*Comparer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var embedder Embedder
	var err error
	if cfg.Provider == "local" {
		embedder, err = NewLocal(LocalConfig{
			ModelDir:    expandHome(cfg.Model),
			LibraryPath: os.Getenv("FIDELIS_ONNX_LIB"),
		})
	} else {
		embedder, err = NewClient(cfg)
	}
	if err != nil {
		return nil, err
	}
	return NewComparer(embedder)
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
