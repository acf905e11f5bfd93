package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	// DefaultModel is the default embedding model to use.
	DefaultModel = "all-minilm"
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultDimensions is the output dimension of all-minilm.
	DefaultDimensions = 384
)

// OllamaEmbedder implements Embedder using the Ollama API.
type OllamaEmbedder struct {
	client  *http.Client
	baseURL string
	model   string
	dims    int
	mu      sync.Mutex
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an OllamaEmbedder, honoring OLLAMA_HOST and
// CK_EMBEDDING_MODEL when set.
func NewOllamaEmbedder() *OllamaEmbedder {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	model := os.Getenv("CK_EMBEDDING_MODEL")
	if model == "" {
		model = DefaultModel
	}
	return NewOllamaEmbedderWithConfig(baseURL, model, DefaultDimensions)
}

// NewOllamaEmbedderWithConfig creates an OllamaEmbedder with custom settings.
func NewOllamaEmbedderWithConfig(baseURL, model string, dims int) *OllamaEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &OllamaEmbedder{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: baseURL,
		model:   model,
		dims:    dims,
	}
}

// Embed generates an embedding vector for the given text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.doEmbed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.doEmbed(ctx, texts)
}

// doEmbed calls the Ollama API with either a single string or slice of strings.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, input any) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Transport failure means no backend is reachable.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.Embeddings, nil
}

// ModelVersion returns the model identifier.
func (e *OllamaEmbedder) ModelVersion() string {
	return e.model
}

// Dimensions returns the embedding vector dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// IsAvailable checks if the backend is running and can embed.
func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	_, err := e.Embed(ctx, "test")
	return err == nil
}

// Close is a no-op for the HTTP-based embedder.
func (e *OllamaEmbedder) Close() error {
	return nil
}
