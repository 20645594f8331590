// Package embedding turns text into fixed-dimension unit vectors.
package embedding

import "context"

// Embedder converts text into an L2-normalized vector. Implementations
// must be deterministic per input for the lifetime of a process.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
