// Package embed maps text to fixed-dimension vectors. At start-up a
// prioritised list of remote embedding models is tried; if none respond, a
// deterministic local hash embedder is installed instead. Whichever branch
// wins, the vector dimension is fixed for the process lifetime.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mizanai/mizan/llm"
)

// Provider maps strings to fixed-dimension vectors.
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the fixed vector dimension d.
	Dimension() int

	// Name identifies the active model ("local-hash" for the fallback).
	Name() string
}

// remoteProvider embeds via an OpenAI-compatible endpoint with a fixed model.
type remoteProvider struct {
	client llm.Provider
	model  string
	dim    int
}

// NewProvider tries each model in priority order against the configured
// endpoint, probing the vector dimension with a short test call. The first
// model that answers wins; if none do, the local hash fallback is installed.
func NewProvider(ctx context.Context, client llm.Provider, priority []string) Provider {
	for _, model := range priority {
		vecs, err := client.Embed(ctx, model, []string{"probe"})
		if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
			slog.Warn("embed: model unavailable, trying next", "model", model, "error", err)
			continue
		}
		slog.Info("embed: model initialised", "model", model, "dimension", len(vecs[0]))
		return &remoteProvider{client: client, model: model, dim: len(vecs[0])}
	}

	slog.Warn("embed: no remote model available, installing local hash fallback",
		"dimension", hashDimension)
	return NewHashProvider()
}

func (p *remoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *remoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.client.Embed(ctx, p.model, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts with %s: %w", len(texts), p.model, err)
	}
	for i, v := range vecs {
		if len(v) != p.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), p.dim)
		}
	}
	return vecs, nil
}

func (p *remoteProvider) Dimension() int { return p.dim }
func (p *remoteProvider) Name() string   { return p.model }

// Similarity is the cosine similarity of two vectors. Mismatched lengths or
// zero vectors yield 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
