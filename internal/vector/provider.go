// Package vector is the asynchronous semantic side of the memory system:
// it batches record text, calls an embedding provider under a rate limit
// and retry policy, and maintains a vector collection keyed by record id.
// It is eventually consistent with the keyword store: a record is
// keyword-searchable the moment it is persisted, and semantically
// searchable once indexing catches up. That lag is an observable
// property, not an error state.
package vector

import (
	"context"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// maxInputTokens caps text sent to the provider. OCR dumps can be
// arbitrarily long; everything past the cap contributes little to the
// embedding and risks provider-side rejection.
const maxInputTokens = 8000

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// TruncateTokens trims text to at most maxInputTokens tokens using the
// cl100k_base encoding. Falls back to a byte cap if the tokenizer cannot
// be initialized (offline BPE data missing).
func TruncateTokens(text string) string {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		const byteCap = 4 * maxInputTokens
		if len(text) > byteCap {
			return text[:byteCap]
		}
		return text
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxInputTokens {
		return text
	}
	return enc.Decode(tokens[:maxInputTokens])
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 for mismatched or zero-magnitude inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
