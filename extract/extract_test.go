package extract

import (
	"strings"
	"testing"

	"github.com/mizanai/mizan/langtag"
)

func TestParseValid(t *testing.T) {
	raw := `{
		"entities": [{"name": "Acme Corp", "entity_type": "ORGANIZATION", "description": "payer"}],
		"facts": [{"content": "Acme Corp pays Beta LLC 1,000 USD", "fact_type": "payment", "confidence": 0.9}],
		"concepts": [{"term": "consideration", "definition": "something of value exchanged", "category": "contract law"}],
		"cases": [{"case_number": "123/2024", "case_name": "Acme v Beta", "court": "Dubai Courts"}],
		"relations": [{"src_name": "Acme Corp pays Beta LLC 1,000 USD", "dst_name": "Acme Corp", "type": "ABOUT", "src_label": "Fact", "dst_label": "Entity"}]
	}`

	res, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name != "Acme Corp" {
		t.Errorf("entities = %+v", res.Entities)
	}
	if len(res.Facts) != 1 || res.Facts[0].Confidence != 0.9 {
		t.Errorf("facts = %+v", res.Facts)
	}
	if len(res.Relations) != 1 || res.Relations[0].Type != "ABOUT" {
		t.Errorf("relations = %+v", res.Relations)
	}
	if res.Confidence != 1 {
		t.Errorf("Confidence = %f, want 1", res.Confidence)
	}
}

func TestParseCodeFenced(t *testing.T) {
	raw := "```json\n{\"entities\": [], \"facts\": [], \"concepts\": [], \"cases\": [], \"relations\": []}\n```"
	if _, err := Parse(raw); err != nil {
		t.Fatalf("Parse(fenced): %v", err)
	}
}

func TestParseNormalisesRelationType(t *testing.T) {
	raw := `{"entities": [], "facts": [], "concepts": [], "cases": [],
		"relations": [{"src_name": "a", "dst_name": "b", "type": "related_to", "src_label": "Entity", "dst_label": "Entity"}]}`
	res, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Relations[0].Type != "RELATED_TO" {
		t.Errorf("Type = %q, want RELATED_TO", res.Relations[0].Type)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json"},
		{"json array", `[1, 2, 3]`},
		{"entity missing type", `{"entities": [{"name": "x"}], "facts": [], "concepts": [], "cases": [], "relations": []}`},
		{"confidence above one", `{"entities": [], "facts": [{"content": "c", "fact_type": "t", "confidence": 1.5}], "concepts": [], "cases": [], "relations": []}`},
		{"unknown relation type", `{"entities": [], "facts": [], "concepts": [], "cases": [],
			"relations": [{"src_name": "a", "dst_name": "b", "type": "KNOWS", "src_label": "Entity", "dst_label": "Entity"}]}`},
		{"unknown endpoint label", `{"entities": [], "facts": [], "concepts": [], "cases": [],
			"relations": [{"src_name": "a", "dst_name": "b", "type": "ABOUT", "src_label": "Widget", "dst_label": "Entity"}]}`},
		{"case missing number", `{"entities": [], "facts": [], "concepts": [], "cases": [{"case_name": "x"}], "relations": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); err == nil {
				t.Errorf("Parse accepted %s", tt.name)
			}
		})
	}
}

func TestFallbackCapitalisedSpans(t *testing.T) {
	res := Fallback("Acme Corp shall pay Beta LLC 1,000 USD on the agreed date.")

	names := make(map[string]bool)
	for _, e := range res.Entities {
		names[e.Name] = true
		if e.EntityType == "" {
			t.Errorf("entity %q has empty type", e.Name)
		}
	}
	if !names["Acme Corp"] {
		t.Errorf("missing span %q in %v", "Acme Corp", names)
	}
	if !names["Beta LLC"] {
		t.Errorf("missing span %q in %v", "Beta LLC", names)
	}
	if len(res.Relations) != 0 {
		t.Errorf("fallback produced %d relations, want 0", len(res.Relations))
	}
	if res.Confidence != 0.2 {
		t.Errorf("Confidence = %f, want 0.2", res.Confidence)
	}
}

func TestFallbackPunctuationBreaksSpans(t *testing.T) {
	res := Fallback("Payment is due. Acme Corp. Beta LLC follows later.")
	for _, e := range res.Entities {
		if strings.Contains(e.Name, "Corp Beta") {
			t.Errorf("span crossed sentence boundary: %q", e.Name)
		}
	}
}

func TestFallbackEmptyInput(t *testing.T) {
	res := Fallback("")
	if len(res.Entities) != 0 {
		t.Errorf("got %d entities from empty input", len(res.Entities))
	}
}

func TestBuildPromptLanguageCoupling(t *testing.T) {
	en := BuildPrompt(langtag.English, "some text")
	ar := BuildPrompt(langtag.Arabic, "نص")
	mixed := BuildPrompt(langtag.Mixed, "text نص")

	if strings.Contains(en, "ARABIC LEGAL TERMINOLOGY") {
		t.Error("English prompt carries Arabic guidance")
	}
	if !strings.Contains(ar, "ARABIC LEGAL TERMINOLOGY") {
		t.Error("Arabic prompt is missing Arabic guidance")
	}
	if !strings.Contains(mixed, "ARABIC LEGAL TERMINOLOGY") {
		t.Error("mixed prompt is missing Arabic guidance")
	}
	if !strings.Contains(ar, "نص") {
		t.Error("prompt does not contain the chunk text")
	}
}
