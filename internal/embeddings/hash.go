package embeddings

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"unicode"
)

// ContentHash returns a 16-character hex hash of text, used to detect when
// content needs re-embedding.
func ContentHash(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// HashEmbedder is a deterministic, dependency-free embedder that hashes
// tokens into a fixed-dimension bag-of-words vector. It is a fallback for
// offline use and the embedder used in tests; similar texts get similar
// vectors only to the extent they share tokens.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder with the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &HashEmbedder{dims: dims}
}

// Embed hashes each token of text into a bucket and L2-normalizes the result.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(e.dims)]++
	}
	return Normalize(v), nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelVersion identifies the hashing scheme.
func (e *HashEmbedder) ModelVersion() string {
	return "hash-v1"
}

// Dimensions returns the embedding vector dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

// tokenize lowercases text and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
