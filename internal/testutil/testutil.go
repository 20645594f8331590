// Package testutil provides shared fixtures for store and engine tests.
package testutil

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hibikido/hibikido/internal/embedding"
	"github.com/hibikido/hibikido/internal/engine"
	"github.com/hibikido/hibikido/internal/metrics"
	"github.com/hibikido/hibikido/internal/store"
	"github.com/hibikido/hibikido/internal/textproc"
	"github.com/hibikido/hibikido/internal/vectorindex"
)

// Dimension is the vector dimension used across tests.
const Dimension = 384

// OpenTestStore creates an in-memory document store with the schema
// applied, closed when the test ends.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestEngine builds an engine on an in-memory store, a fresh vector
// index, and the deterministic hash embedder. The index file lives in
// the test's temp dir.
func NewTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	st := OpenTestStore(t)
	ix, err := vectorindex.New(Dimension)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	indexPath := filepath.Join(t.TempDir(), "test.index")
	eng := engine.New(st, ix, embedding.NewHashEmbedder(Dimension),
		textproc.New(), indexPath, metrics.New(), slog.Default())
	if err := eng.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	return eng
}
