package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
)

// HashEmbedder is a deterministic offline provider using token feature
// hashing. It carries no semantic model, but identical texts always map
// to identical unit vectors and shared tokens raise cosine similarity,
// which is enough for offline use and for tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a feature-hashing embedder of the given
// dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dim: dimension}
}

// Dimension returns the vector dimension.
func (e *HashEmbedder) Dimension() int { return e.dim }

// Embed hashes each whitespace token into a bucket and normalizes the
// result to unit length.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embedding: empty text")
	}
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum % uint32(e.dim))
		// Half the tokens subtract, to spread vectors over the sphere.
		if sum&(1<<31) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	l2normalize(vec)
	return vec, nil
}
