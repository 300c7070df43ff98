package embed

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// hashDimension is the fixed vector dimension of the local fallback.
const hashDimension = 100

// nonWord splits on anything outside letters, digits, and underscore.
// Unicode classes keep Arabic tokens intact.
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// hashProvider is the deterministic local fallback: a hashed bag-of-words
// vector, L2-normalised. It needs no network and no model files.
type hashProvider struct{}

// NewHashProvider returns the local hash embedder.
func NewHashProvider() Provider {
	return &hashProvider{}
}

func (p *hashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return hashVector(text), nil
}

func (p *hashProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = hashVector(t)
	}
	return vecs, nil
}

func (p *hashProvider) Dimension() int { return hashDimension }
func (p *hashProvider) Name() string   { return "local-hash" }

// hashVector lowercases the text, splits on non-word characters, hashes
// each token into a fixed-dimension bag-of-words vector, and L2-normalises.
func hashVector(text string) []float32 {
	vec := make([]float32, hashDimension)

	for _, tok := range nonWord.Split(strings.ToLower(text), -1) {
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%hashDimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
