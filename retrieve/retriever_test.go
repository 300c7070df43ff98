package retrieve

import (
	"context"
	"testing"

	"github.com/mizanai/mizan/embed"
	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/langtag"
)

func seedChunk(t *testing.T, g *graphstore.Memory, sessionID, content string, lang langtag.Language) graphstore.Chunk {
	t.Helper()
	vec, _ := embed.NewHashProvider().Embed(context.Background(), content)
	c, err := g.UpsertChunk(context.Background(), graphstore.Chunk{
		SessionID:  sessionID,
		SourceFile: "doc.pdf",
		Page:       1,
		Content:    content,
		Language:   lang,
		Embedding:  vec,
	})
	if err != nil {
		t.Fatalf("seeding chunk: %v", err)
	}
	return c
}

func TestRetrieveSessionClosure(t *testing.T) {
	g := graphstore.NewMemory()
	ctx := context.Background()
	r := NewRetriever(g, embed.NewHashProvider())

	g.Upsert(ctx, graphstore.LabelEntity, "s1", "acme corp", langtag.English,
		map[string]interface{}{"name": "Acme Corp", "entity_type": "ORGANIZATION"})
	g.Upsert(ctx, graphstore.LabelEntity, "s2", "gamma inc", langtag.English,
		map[string]interface{}{"name": "Gamma Inc", "entity_type": "ORGANIZATION"})
	seedChunk(t, g, "s2", "Gamma Inc owns the warehouse", langtag.English)

	// Query s1 for an entity that exists only in s2.
	res, err := r.Retrieve(ctx, "s1", "what about Gamma Inc?", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("cross-session entity leaked: %+v", res.Entities)
	}
	if len(res.Chunks) != 0 {
		t.Errorf("cross-session chunk leaked: %+v", res.Chunks)
	}
	for _, e := range res.Entities {
		if e.SessionID != "s1" {
			t.Errorf("entity from session %s", e.SessionID)
		}
	}
}

func TestRetrieveGraphAndSemantic(t *testing.T) {
	g := graphstore.NewMemory()
	ctx := context.Background()
	r := NewRetriever(g, embed.NewHashProvider())

	g.Upsert(ctx, graphstore.LabelEntity, "s1", "acme corp", langtag.English,
		map[string]interface{}{"name": "Acme Corp", "entity_type": "ORGANIZATION"})
	seedChunk(t, g, "s1", "Acme Corp shall pay Beta LLC monthly rent", langtag.English)
	seedChunk(t, g, "s1", "completely unrelated text about gardening and flowers", langtag.English)

	res, err := r.Retrieve(ctx, "s1", "Acme Corp monthly rent payment", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(res.Entities))
	}
	if res.QueryLanguage != langtag.English {
		t.Errorf("QueryLanguage = %q", res.QueryLanguage)
	}
	if len(res.Chunks) == 0 {
		t.Fatal("semantic pass found no chunks")
	}
	for _, c := range res.Chunks {
		if c.Score < specificThreshold && len(res.Chunks) > 1 {
			t.Errorf("chunk below threshold included: %f", c.Score)
		}
	}
	if len(res.SearchTerms) == 0 {
		t.Error("SearchTerms not reported")
	}
}

func TestRetrieveGeneralContentReturnsAllChunks(t *testing.T) {
	g := graphstore.NewMemory()
	ctx := context.Background()
	r := NewRetriever(g, embed.NewHashProvider())

	contents := []string{
		"بند الإيجار الشهري في العقد",
		"the first clause about payments",
		"unrelated decorative appendix text",
	}
	for _, c := range contents {
		seedChunk(t, g, "s1", c, langtag.Detect(c))
	}

	res, err := r.Retrieve(ctx, "s1", "ماذا يوجد فالملف", Options{Limit: 2})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != len(contents) {
		t.Errorf("general-content query returned %d chunks, want all %d",
			len(res.Chunks), len(contents))
	}
	if res.QueryLanguage != langtag.Arabic {
		t.Errorf("QueryLanguage = %q, want ar", res.QueryLanguage)
	}
}

func TestRetrieveExpansionOneHop(t *testing.T) {
	g := graphstore.NewMemory()
	ctx := context.Background()
	r := NewRetriever(g, embed.NewHashProvider())

	acme, _, _ := g.Upsert(ctx, graphstore.LabelEntity, "s1", "acme corp", langtag.English,
		map[string]interface{}{"name": "Acme Corp", "entity_type": "ORGANIZATION"})
	beta, _, _ := g.Upsert(ctx, graphstore.LabelEntity, "s1", "beta llc", langtag.English,
		map[string]interface{}{"name": "Beta LLC", "entity_type": "ORGANIZATION"})
	far, _, _ := g.Upsert(ctx, graphstore.LabelEntity, "s1", "far node", langtag.English,
		map[string]interface{}{"name": "Far Node"})
	g.Relate(ctx, "RELATED_TO", "s1", acme.ID, beta.ID, langtag.English)
	g.Relate(ctx, "RELATED_TO", "s1", beta.ID, far.ID, langtag.English)

	res, err := r.Retrieve(ctx, "s1", "tell me about Acme", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].ID != acme.ID {
		t.Fatalf("entities = %+v, want just Acme", res.Entities)
	}
	if len(res.Expanded) != 1 || res.Expanded[0].ID != beta.ID {
		t.Errorf("expansion should reach Beta only (one hop), got %+v", res.Expanded)
	}
	if len(res.Relationships) != 1 || res.Relationships[0].Type != "RELATED_TO" {
		t.Errorf("relationships = %+v", res.Relationships)
	}
}

func TestRetrieveDeterministicOrdering(t *testing.T) {
	g := graphstore.NewMemory()
	ctx := context.Background()
	r := NewRetriever(g, embed.NewHashProvider())

	seedChunk(t, g, "s1", "rent payment clause one", langtag.English)
	seedChunk(t, g, "s1", "rent payment clause two", langtag.English)
	g.Upsert(ctx, graphstore.LabelEntity, "s1", "rent", langtag.English,
		map[string]interface{}{"name": "rent"})

	first, err := r.Retrieve(ctx, "s1", "rent payment", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(ctx, "s1", "rent payment", Options{})
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		if len(again.Chunks) != len(first.Chunks) {
			t.Fatal("chunk count varies between runs")
		}
		for j := range again.Chunks {
			if again.Chunks[j].ID != first.Chunks[j].ID {
				t.Fatalf("chunk order differs at %d on run %d", j, i)
			}
		}
	}
}

func TestRetrieveLanguageFilter(t *testing.T) {
	g := graphstore.NewMemory()
	ctx := context.Background()
	r := NewRetriever(g, embed.NewHashProvider())

	g.Upsert(ctx, graphstore.LabelEntity, "s1", "lease-en", langtag.English,
		map[string]interface{}{"name": "lease agreement"})
	g.Upsert(ctx, graphstore.LabelEntity, "s1", "lease-ar", langtag.Arabic,
		map[string]interface{}{"name": "عقد lease"})

	res, err := r.Retrieve(ctx, "s1", "lease", Options{LanguageFilter: langtag.Arabic})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Language != langtag.Arabic {
		t.Errorf("language filter failed: %+v", res.Entities)
	}
}
