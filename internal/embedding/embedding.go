// Package embedding provides the similarity-score collaborator for semantic search.
//
// The ledger never computes embeddings itself. It asks a Scorer for a
// similarity in [-1,1] and applies the caller's threshold to the result.
package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/textutil"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
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

// HashEmbedder is a deterministic bag-of-keywords embedder using feature
// hashing. It is the placeholder until a real model is wired in.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hashed embedder with the given dimensionality (default 256).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	v := make(Vector, e.dims)
	for _, w := range textutil.Keywords(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[int(sum>>1)%e.dims] += sign
	}
	return v, nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

// Scorer adapts an Embedder into the store's similarity collaborator.
type Scorer struct {
	embedder Embedder
}

// NewScorer wraps an embedder.
func NewScorer(e Embedder) *Scorer {
	return &Scorer{embedder: e}
}

// Similarity scores an entry's content against query text.
func (s *Scorer) Similarity(ctx context.Context, query string, e *model.Entry) (float64, error) {
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return 0, err
	}
	ev, err := s.embedder.Embed(ctx, e.Content)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(qv, ev), nil
}
