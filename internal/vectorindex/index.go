// Package vectorindex provides an append-only flat store of unit vectors
// with brute-force inner-product search. Rows are assigned monotonically
// from zero and never reused; logical deletion is the document store's
// concern.
package vectorindex

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Hit is one search result: the row of a stored vector and its
// inner-product score against the query.
type Hit struct {
	Row   int
	Score float32
}

// Index is a flat in-memory vector index persisted as a single file.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: invalid dimension %d", dimension)
	}
	return &Index{dimension: dimension}, nil
}

// Add appends a vector and returns its row.
func (ix *Index) Add(vec []float32) (int, error) {
	if len(vec) != ix.dimension {
		return 0, fmt.Errorf("vectorindex: vector dimension %d, want %d", len(vec), ix.dimension)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	ix.vectors = append(ix.vectors, cp)
	return len(ix.vectors) - 1, nil
}

// Search returns up to k rows in descending score order. Under unit-norm
// inputs the score is the cosine similarity. Ties break toward the lower
// row.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("vectorindex: query dimension %d, want %d", len(query), ix.dimension)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if k <= 0 || len(ix.vectors) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{Row: i, Score: dot(query, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Row < hits[b].Row
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Size returns the number of stored vectors.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Dimension returns the vector dimension the index was created with.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Reset discards all stored vectors.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.vectors = nil
}

type indexFile struct {
	Dimension int
	Vectors   [][]float32
}

// Save writes the index to path atomically (temp file plus rename).
func (ix *Index) Save(path string) error {
	ix.mu.RLock()
	snapshot := indexFile{Dimension: ix.dimension, Vectors: ix.vectors}
	ix.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vectorindex: create %s: %w", tmp, err)
	}
	if err := gob.NewEncoder(f).Encode(snapshot); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vectorindex: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vectorindex: rename: %w", err)
	}
	return nil
}

// Load restores an index from path. A missing file yields an empty
// index of the requested dimension.
func Load(path string, dimension int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(dimension)
		}
		return nil, fmt.Errorf("vectorindex: open %s: %w", path, err)
	}
	defer f.Close()

	var data indexFile
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("vectorindex: decode %s: %w", path, err)
	}
	if data.Dimension != dimension {
		return nil, fmt.Errorf("vectorindex: file dimension %d, want %d", data.Dimension, dimension)
	}
	return &Index{dimension: data.Dimension, vectors: data.Vectors}, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
