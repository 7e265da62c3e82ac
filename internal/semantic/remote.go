package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds embedding backend configuration.
//
// The Provider field selects the backend:
//   - ollama:     http://localhost:11434/v1/embeddings
//   - openai:     https://api.openai.com/v1/embeddings
//   - openrouter: https://openrouter.ai/api/v1/embeddings
//   - custom:     endpoint from FIDELIS_EMBED_ENDPOINT
//   - local:      ONNX model directory, no network
//
// Remote providers all speak the OpenAI-compatible /v1/embeddings format.
type Config struct {
	Provider    string
	Model       string // model name, or model directory for the local provider
	Endpoint    string
	APIKey      string
	MaxRetries  int // default: 3
	TimeoutSecs int // per-request timeout (default: 60)

	dimensions int // auto-detected on first call
}

// Request is an OpenAI-compatible embeddings request.
type Request struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// Response is an OpenAI-compatible embeddings response.
type Response struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// HTTPError carries the status and Retry-After hint of a failed API call.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ParseFlag parses "provider/model" notation, e.g.
// "ollama/nomic-embed-text" or "local/~/.fidelis/models/minilm".
// Model names may themselves contain slashes.
func ParseFlag(flag string) (*Config, error) {
	if flag == "" {
		return nil, fmt.Errorf("empty embedding flag")
	}

	slashIdx := strings.Index(flag, "/")
	if slashIdx == -1 {
		return nil, fmt.Errorf("invalid embedding format: expected 'provider/model', got %q", flag)
	}

	provider := flag[:slashIdx]
	model := flag[slashIdx+1:]

	if provider == "" {
		return nil, fmt.Errorf("empty provider in embedding flag: %q", flag)
	}
	if model == "" {
		return nil, fmt.Errorf("empty model in embedding flag: %q", flag)
	}

	config := &Config{
		Provider:    provider,
		Model:       model,
		MaxRetries:  3,
		TimeoutSecs: 60,
	}

	switch provider {
	case "ollama":
		config.Endpoint = "http://localhost:11434/v1/embeddings"
		// Ollama needs no API key
	case "openai":
		config.Endpoint = "https://api.openai.com/v1/embeddings"
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		config.Endpoint = "https://openrouter.ai/api/v1/embeddings"
		config.APIKey = os.Getenv("OPENROUTER_API_KEY")
	case "custom":
		config.Endpoint = os.Getenv("FIDELIS_EMBED_ENDPOINT")
		config.APIKey = os.Getenv("FIDELIS_EMBED_API_KEY")
	case "local":
		// Model path only; no endpoint or key.
	default:
		return nil, fmt.Errorf("unknown provider %q. Supported: ollama, openai, openrouter, custom, local", provider)
	}

	if endpoint := os.Getenv("FIDELIS_EMBED_ENDPOINT"); endpoint != "" && provider != "local" {
		config.Endpoint = endpoint
	}
	if apiKey := os.Getenv("FIDELIS_EMBED_API_KEY"); apiKey != "" {
		config.APIKey = apiKey
	}

	return config, nil
}

// ResolveConfig resolves the embedding backend from CLI flag, then the
// FIDELIS_EMBED environment variable. Returns (nil, nil) when neither is
// set: similarity then runs on lexical metrics only.
func ResolveConfig(cliFlag string) (*Config, error) {
	if cliFlag != "" {
		return ParseFlag(cliFlag)
	}

	if envEmbed := os.Getenv("FIDELIS_EMBED"); envEmbed != "" {
		config, err := ParseFlag(envEmbed)
		if err != nil {
			return nil, fmt.Errorf("parsing FIDELIS_EMBED env var: %w", err)
		}
		return config, nil
	}

	return nil, nil
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Provider == "local" {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	// Ollama and test doubles don't need a key
	if c.Provider != "ollama" && c.Provider != "test" && c.APIKey == "" {
		return fmt.Errorf("API key is required for provider %q (set via environment variable)", c.Provider)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

// Client implements Embedder against an OpenAI-compatible embeddings API.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates an embedding client with the given configuration.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		config: *config,
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecs) * time.Second,
		},
	}, nil
}

// Embed generates an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(embeddings))
	}

	return embeddings[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts in one API
// call. Empty texts get nil vectors without being sent over the wire.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	nonEmpty := make([]string, 0, len(texts))
	indexMap := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			nonEmpty = append(nonEmpty, text)
			indexMap = append(indexMap, i)
		}
	}

	if len(nonEmpty) == 0 {
		return make([][]float32, len(texts)), nil
	}

	// Retry with exponential backoff: 1s, 2s, 4s.
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		embeddings, err := c.attemptBatch(ctx, nonEmpty)
		if err == nil {
			result := make([][]float32, len(texts))
			for i, embedding := range embeddings {
				if i < len(indexMap) {
					result[indexMap[i]] = embedding
				}
			}

			for _, emb := range embeddings {
				if len(emb) > 0 {
					c.config.dimensions = len(emb)
					break
				}
			}

			return result, nil
		}

		lastErr = err

		if attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second

		// Rate-limited responses may carry a Retry-After hint
		if httpErr, ok := err.(*HTTPError); ok && httpErr.StatusCode == 429 {
			if httpErr.RetryAfter > 0 {
				backoff = httpErr.RetryAfter
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// Dimensions returns the embedding dimensionality, or 0 before the first
// successful call.
func (c *Client) Dimensions() int {
	return c.config.dimensions
}

func (c *Client) attemptBatch(ctx context.Context, texts []string) ([][]float32, error) {
	requestBody, err := json.Marshal(Request{
		Model: c.config.Model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != 200 {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}

		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			RetryAfter: retryAfter,
		}
	}

	var embedResp Response
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}

	if len(embedResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedResp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embedResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid embedding index: %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	return embeddings, nil
}
