package embedding

import (
	"context"
	"math"
	"testing"
)

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "ocean waves crashing")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "ocean waves crashing")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 384 || len(b) != 384 {
		t.Fatalf("dimensions %d, %d, want 384", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %g vs %g", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	e := NewHashEmbedder(64)
	vec, err := e.Embed(context.Background(), "soft rain on a tin roof")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if norm := dotProduct(vec, vec); math.Abs(norm-1) > 1e-5 {
		t.Fatalf("squared norm = %g, want 1", norm)
	}
}

func TestHashEmbedderCaseInsensitive(t *testing.T) {
	e := NewHashEmbedder(128)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "Thunder ROLLING")
	b, _ := e.Embed(ctx, "thunder rolling")
	if math.Abs(dotProduct(a, b)-1) > 1e-5 {
		t.Fatalf("case variants not identical, similarity %g", dotProduct(a, b))
	}
}

func TestHashEmbedderDistinguishesTexts(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "metallic clang workshop")
	b, _ := e.Embed(ctx, "distant foghorn harbor")
	if sim := dotProduct(a, b); sim > 0.9 {
		t.Fatalf("unrelated texts too similar: %g", sim)
	}
}

func TestHashEmbedderRejectsEmptyText(t *testing.T) {
	e := NewHashEmbedder(384)
	if _, err := e.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestHashEmbedderDimension(t *testing.T) {
	if d := NewHashEmbedder(256).Dimension(); d != 256 {
		t.Fatalf("dimension = %d, want 256", d)
	}
}
