// Package extract defines the structured output of extract-mode model
// calls: typed entities, facts, legal concepts, case references, and
// relationships derived from a document chunk. Model output is validated
// against this schema before anything reaches the graph; nonconforming
// output triggers the deterministic fallback extractor.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entity is an extracted named thing.
type Entity struct {
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description,omitempty"`
}

// Fact is a standalone assertion extracted from a chunk.
type Fact struct {
	Content    string  `json:"content"`
	FactType   string  `json:"fact_type"`
	Confidence float64 `json:"confidence"`
}

// Concept is a legal term with its definition.
type Concept struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Category   string `json:"category"`
}

// Case is a case reference.
type Case struct {
	CaseNumber   string `json:"case_number"`
	CaseName     string `json:"case_name"`
	Court        string `json:"court,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Relation is a typed directed edge between two extracted nodes.
type Relation struct {
	SrcName  string `json:"src_name"`
	DstName  string `json:"dst_name"`
	Type     string `json:"type"`
	SrcLabel string `json:"src_label"`
	DstLabel string `json:"dst_label"`
}

// Result is the full extraction output for one chunk. Confidence is 1 for
// model-produced results and 0.2 for the fallback extractor.
type Result struct {
	Entities   []Entity   `json:"entities"`
	Facts      []Fact     `json:"facts"`
	Concepts   []Concept  `json:"concepts"`
	Cases      []Case     `json:"cases"`
	Relations  []Relation `json:"relations"`
	Confidence float64    `json:"-"`
}

// relationTypes are the edge types the graph accepts.
var relationTypes = map[string]bool{
	"ABOUT":      true,
	"CONTAINS":   true,
	"MENTIONS":   true,
	"RELATED_TO": true,
	"APPLIES_TO": true,
	"INVOLVES":   true,
}

// nodeLabels are the labels a relation endpoint may carry.
var nodeLabels = map[string]bool{
	"Entity":       true,
	"Fact":         true,
	"LegalConcept": true,
	"Case":         true,
	"Document":     true,
}

// Parse decodes and validates a model response. Any structural mismatch —
// not a JSON object, missing required fields, out-of-range confidence,
// unknown relation type or endpoint label — returns an error so the caller
// can fall back.
func Parse(raw string) (*Result, error) {
	raw = stripCodeFence(raw)

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var res Result
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("decoding extraction output: %w", err)
	}

	for i, e := range res.Entities {
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.EntityType) == "" {
			return nil, fmt.Errorf("entity %d: name and entity_type are required", i)
		}
	}
	for i, f := range res.Facts {
		if strings.TrimSpace(f.Content) == "" || strings.TrimSpace(f.FactType) == "" {
			return nil, fmt.Errorf("fact %d: content and fact_type are required", i)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return nil, fmt.Errorf("fact %d: confidence %f outside [0,1]", i, f.Confidence)
		}
	}
	for i, c := range res.Concepts {
		if strings.TrimSpace(c.Term) == "" || strings.TrimSpace(c.Definition) == "" ||
			strings.TrimSpace(c.Category) == "" {
			return nil, fmt.Errorf("concept %d: term, definition, and category are required", i)
		}
	}
	for i, c := range res.Cases {
		if strings.TrimSpace(c.CaseNumber) == "" || strings.TrimSpace(c.CaseName) == "" {
			return nil, fmt.Errorf("case %d: case_number and case_name are required", i)
		}
	}
	for i := range res.Relations {
		r := &res.Relations[i]
		r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
		if strings.TrimSpace(r.SrcName) == "" || strings.TrimSpace(r.DstName) == "" {
			return nil, fmt.Errorf("relation %d: src_name and dst_name are required", i)
		}
		if !relationTypes[r.Type] {
			return nil, fmt.Errorf("relation %d: unknown type %q", i, r.Type)
		}
		if !nodeLabels[r.SrcLabel] || !nodeLabels[r.DstLabel] {
			return nil, fmt.Errorf("relation %d: unknown endpoint label %q/%q",
				i, r.SrcLabel, r.DstLabel)
		}
	}

	res.Confidence = 1
	return &res, nil
}

// stripCodeFence removes a surrounding markdown code fence, which chat
// models add around JSON despite instructions not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
