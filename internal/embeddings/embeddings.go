// Package embeddings provides vector embedding generation for semantic
// search over learnings and documentation.
package embeddings

import (
	"context"
	"errors"
)

// ErrUnavailable indicates no embedding backend is reachable. Callers fall
// back to structured retrieval only.
var ErrUnavailable = errors.New("embedder unavailable")

// Embedder generates vector embeddings from text. Implementations must be
// deterministic for a given model version so identical content yields
// identical vectors across runs.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion returns the model identifier recorded alongside vectors.
	ModelVersion() string

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// Close releases resources held by the embedder.
	Close() error
}
