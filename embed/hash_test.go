package embed

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedDimension(t *testing.T) {
	p := NewHashProvider()
	if p.Dimension() != 100 {
		t.Fatalf("Dimension() = %d, want 100", p.Dimension())
	}

	vec, err := p.Embed(context.Background(), "the tenant pays rent")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 100 {
		t.Errorf("len(vec) = %d, want 100", len(vec))
	}
}

func TestHashEmbedDeterministic(t *testing.T) {
	p := NewHashProvider()
	ctx := context.Background()

	a, _ := p.Embed(ctx, "Acme Corp shall pay Beta LLC")
	b, _ := p.Embed(ctx, "Acme Corp shall pay Beta LLC")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Embed not pure: vectors differ at %d", i)
		}
	}
}

func TestHashEmbedNormalised(t *testing.T) {
	p := NewHashProvider()
	vec, _ := p.Embed(context.Background(), "several different words in here")

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("|vec|^2 = %f, want 1", norm)
	}
}

func TestSimilaritySelfIsOne(t *testing.T) {
	p := NewHashProvider()
	ctx := context.Background()

	for _, text := range []string{
		"the landlord collects monthly rent",
		"يلتزم المستأجر بدفع الإيجار",
		"mixed نص with English",
	} {
		vec, _ := p.Embed(ctx, text)
		if sim := Similarity(vec, vec); math.Abs(sim-1) > 1e-5 {
			t.Errorf("Similarity(t, t) = %f for %q, want 1", sim, text)
		}
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	p := NewHashProvider()
	ctx := context.Background()

	a, _ := p.Embed(ctx, "contract payment obligations")
	b, _ := p.Embed(ctx, "the obligations under this contract")

	ab := Similarity(a, b)
	ba := Similarity(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("Similarity not symmetric: %f vs %f", ab, ba)
	}
	if ab <= 0 {
		t.Errorf("related texts should have positive similarity, got %f", ab)
	}
}

func TestHashEmbedArabicTokens(t *testing.T) {
	p := NewHashProvider()
	vec, _ := p.Embed(context.Background(), "يلتزم المستأجر بدفع الإيجار")

	var nonZero int
	for _, v := range vec {
		if v != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Fatal("Arabic text produced a zero vector; tokeniser drops Arabic letters")
	}
}

func TestSimilarityEdgeCases(t *testing.T) {
	if got := Similarity(nil, nil); got != 0 {
		t.Errorf("Similarity(nil, nil) = %f, want 0", got)
	}
	if got := Similarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dims = %f, want 0", got)
	}
	if got := Similarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector = %f, want 0", got)
	}
}

func TestEmbedBatchOrder(t *testing.T) {
	p := NewHashProvider()
	texts := []string{"first text", "second text", "third text"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		single, _ := p.Embed(context.Background(), text)
		if Similarity(single, vecs[i]) < 1-1e-6 {
			t.Errorf("batch vector %d does not match single embedding", i)
		}
	}
}
