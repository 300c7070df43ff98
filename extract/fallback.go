package extract

import (
	"strings"
	"unicode"
)

// fallbackConfidence marks results produced without the model.
const fallbackConfidence = 0.2

// Fallback is the deterministic extraction path used when the model's
// output does not conform to the schema. Consecutive capitalised tokens
// become candidate entities; no relationships are produced.
func Fallback(chunkText string) *Result {
	res := &Result{
		Entities:   []Entity{},
		Facts:      []Fact{},
		Concepts:   []Concept{},
		Cases:      []Case{},
		Relations:  []Relation{},
		Confidence: fallbackConfidence,
	}

	seen := make(map[string]bool)
	var span []string

	flush := func() {
		if len(span) == 0 {
			return
		}
		name := strings.Join(span, " ")
		span = span[:0]
		// Single-character spans are too noisy to keep.
		if len(name) < 2 {
			return
		}
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		res.Entities = append(res.Entities, Entity{
			Name:       name,
			EntityType: "OTHER",
		})
	}

	for _, tok := range strings.Fields(chunkText) {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) {
			span = append(span, word)
		} else {
			flush()
		}
		// Trailing punctuation ends the span even after a capitalised word.
		if strings.IndexAny(string(tok[len(tok)-1]), ".,;:!?") >= 0 {
			flush()
		}
	}
	flush()

	return res
}
