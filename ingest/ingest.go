// Package ingest orchestrates the document pipeline: PDF to page texts to
// language-tagged chunks, extract-mode model calls per chunk, and graph
// writes under the session-scoping invariants. Chunk processing within one
// ingest is strictly sequential; the extract rate limit is shared across
// all sessions in the process.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mizanai/mizan/chunker"
	"github.com/mizanai/mizan/embed"
	"github.com/mizanai/mizan/extract"
	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/langtag"
	"github.com/mizanai/mizan/llm"
	"github.com/mizanai/mizan/parser"
)

var (
	// ErrNotPDF is returned when the uploaded bytes are not a PDF.
	ErrNotPDF = errors.New("ingest: file is not a PDF")

	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("ingest: file exceeds size limit")

	// ErrNoChunks is returned when an ingest fails before the first chunk
	// was successfully persisted.
	ErrNoChunks = errors.New("ingest: no chunks could be ingested")
)

// Result reports what one ingest produced. Partial ingests report partial
// counts; they are never rolled back.
type Result struct {
	BatchID              string         `json:"batch_id"`
	ChunksCreated        int            `json:"chunks_created"`
	NodesCreated         int            `json:"nodes_created"`
	RelationshipsCreated int            `json:"relationships_created"`
	LanguageDistribution map[string]int `json:"language_distribution"`
}

// Config bounds a single ingest.
type Config struct {
	MaxUploadBytes int64
	ModelName      string // extract-mode model
}

// Ingestor drives the pipeline. One Ingestor is shared by all sessions;
// the limiter serialises extract calls process-wide.
type Ingestor struct {
	graph    graphstore.Store
	embedder embed.Provider
	model    llm.Provider
	limiter  *llm.IntervalLimiter
	parse    parser.Parser
	chunk    *chunker.Chunker
	cfg      Config
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithParser overrides the document parser.
func WithParser(p parser.Parser) Option {
	return func(ing *Ingestor) { ing.parse = p }
}

// WithChunker overrides the chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(ing *Ingestor) { ing.chunk = c }
}

// New wires an Ingestor from its collaborators.
func New(graph graphstore.Store, embedder embed.Provider, model llm.Provider, limiter *llm.IntervalLimiter, cfg Config, opts ...Option) *Ingestor {
	ing := &Ingestor{
		graph:    graph,
		embedder: embedder,
		model:    model,
		limiter:  limiter,
		parse:    &parser.PDFParser{},
		chunk:    chunker.New(chunker.Config{}),
		cfg:      cfg,
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// Ingest runs the full pipeline for one uploaded file. The returned Result
// is non-nil whenever at least one chunk was persisted, even on error.
func (ing *Ingestor) Ingest(ctx context.Context, sessionID, fileName string, data []byte) (*Result, error) {
	if sessionID == "" {
		return nil, graphstore.ErrMissingSession
	}
	if !parser.IsPDF(data) {
		return nil, ErrNotPDF
	}
	if ing.cfg.MaxUploadBytes > 0 && int64(len(data)) > ing.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	start := time.Now()
	batchID := uuid.NewString()

	pages, err := ing.parse.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: extracting pages: %v", ErrNoChunks, err)
	}

	chunks := ing.chunk.Split(fileName, pages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document has no text", ErrNoChunks)
	}

	res := &Result{
		BatchID:              batchID,
		LanguageDistribution: make(map[string]int),
	}

	// One Document node per upload, related to everything extracted below.
	docLang := langtag.Detect(pages[0].Text)
	docNode, created, err := ing.graph.Upsert(ctx, graphstore.LabelDocument, sessionID,
		graphstore.NormaliseKey(fileName), docLang, map[string]interface{}{
			"title":         fileName,
			"document_type": "pdf",
			"file_size":     len(data),
			"upload_date":   time.Now().UTC().Format(time.RFC3339),
		})
	if err != nil {
		return nil, fmt.Errorf("%w: writing document node: %v", ErrNoChunks, err)
	}
	if created {
		res.NodesCreated++
	}

	slog.Info("ingest: starting",
		"session_id", sessionID, "batch_id", batchID,
		"file", fileName, "pages", len(pages), "chunks", len(chunks))

	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			// Already-persisted chunks are retained; report what we have.
			return ing.finish(res, sessionID, batchID, start, err)
		}

		language := langtag.Detect(ch.Content)

		extraction := ing.extractChunk(ctx, sessionID, batchID, i, ch.Content, language)
		if err := ctx.Err(); err != nil {
			return ing.finish(res, sessionID, batchID, start, err)
		}

		// The embedding is computed and stored even when extraction fell
		// back or failed, so retrieval can still reach the chunk's text.
		vec, err := ing.embedder.Embed(ctx, ch.Content)
		if err != nil {
			if ctx.Err() != nil {
				return ing.finish(res, sessionID, batchID, start, ctx.Err())
			}
			slog.Warn("ingest: embedding failed, dropping chunk",
				"session_id", sessionID, "batch_id", batchID, "chunk", i, "error", err)
			continue
		}

		_, err = ing.graph.UpsertChunk(ctx, graphstore.Chunk{
			SessionID:  sessionID,
			SourceFile: ch.SourceFile,
			Page:       ch.Page,
			Offset:     ch.Offset,
			Content:    ch.Content,
			Language:   language,
			Embedding:  vec,
		})
		if err != nil {
			slog.Warn("ingest: persisting chunk failed",
				"session_id", sessionID, "batch_id", batchID, "chunk", i, "error", err)
			continue
		}
		res.ChunksCreated++
		res.LanguageDistribution[string(language)]++

		if extraction != nil {
			ing.writeExtraction(ctx, sessionID, batchID, docNode.ID, language, extraction, res)
		}
	}

	if res.ChunksCreated == 0 {
		return nil, fmt.Errorf("%w: all %d chunks failed", ErrNoChunks, len(chunks))
	}
	return ing.finish(res, sessionID, batchID, start, nil)
}

func (ing *Ingestor) finish(res *Result, sessionID, batchID string, start time.Time, err error) (*Result, error) {
	slog.Info("ingest: finished",
		"session_id", sessionID, "batch_id", batchID,
		"chunks", res.ChunksCreated, "nodes", res.NodesCreated,
		"relationships", res.RelationshipsCreated,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"cancelled", err != nil)
	return res, err
}

// extractChunk runs one extract-mode model call under the shared rate
// limit, validating the response against the schema. Malformed output runs
// the fallback extractor; a chunk that fails even that is skipped.
func (ing *Ingestor) extractChunk(ctx context.Context, sessionID, batchID string, idx int, content string, language langtag.Language) *extract.Result {
	if err := ing.limiter.Wait(ctx); err != nil {
		return nil
	}

	resp, err := ing.model.Chat(ctx, llm.ChatRequest{
		Model: ing.cfg.ModelName,
		Messages: []llm.Message{
			{Role: "user", Content: extract.BuildPrompt(language, content)},
		},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("ingest: extract call failed, using fallback extractor",
			"session_id", sessionID, "batch_id", batchID, "chunk", idx, "error", err)
		return extract.Fallback(content)
	}

	result, err := extract.Parse(resp.Content)
	if err != nil {
		slog.Warn("ingest: extract output malformed, using fallback extractor",
			"session_id", sessionID, "batch_id", batchID, "chunk", idx, "error", err)
		return extract.Fallback(content)
	}
	return result
}

// writeExtraction upserts the extracted nodes and edges. Nodes inherit the
// chunk's language; merges of differing languages become mixed inside the
// graph store. Write failures are logged and skipped: partial extraction
// results are kept.
func (ing *Ingestor) writeExtraction(ctx context.Context, sessionID, batchID, docID string, language langtag.Language, ex *extract.Result, res *Result) {
	// label|normalised-name -> node id, for resolving relation endpoints.
	byName := make(map[string]string)

	upsert := func(label, name string, attrs map[string]interface{}) (string, bool) {
		key := graphstore.NormaliseKey(name)
		if key == "" {
			return "", false
		}
		node, created, err := ing.graph.Upsert(ctx, label, sessionID, key, language, attrs)
		if err != nil {
			slog.Warn("ingest: node upsert failed",
				"session_id", sessionID, "batch_id", batchID, "label", label, "error", err)
			return "", false
		}
		if created {
			res.NodesCreated++
		}
		byName[label+"|"+key] = node.ID
		return node.ID, true
	}

	relate := func(relType, fromID, toID string) {
		if fromID == "" || toID == "" || fromID == toID {
			return
		}
		created, err := ing.graph.Relate(ctx, relType, sessionID, fromID, toID, language)
		if err != nil {
			slog.Warn("ingest: relate failed",
				"session_id", sessionID, "batch_id", batchID, "type", relType, "error", err)
			return
		}
		if created {
			res.RelationshipsCreated++
		}
	}

	for _, e := range ex.Entities {
		id, ok := upsert(graphstore.LabelEntity, e.Name, map[string]interface{}{
			"name":        e.Name,
			"entity_type": e.EntityType,
			"description": e.Description,
			"confidence":  ex.Confidence,
		})
		if ok {
			relate("MENTIONS", docID, id)
		}
	}

	for _, f := range ex.Facts {
		id, ok := upsert(graphstore.LabelFact, f.Content, map[string]interface{}{
			"content":    f.Content,
			"fact_type":  f.FactType,
			"confidence": f.Confidence,
		})
		if ok {
			relate("CONTAINS", docID, id)
		}
	}

	for _, c := range ex.Concepts {
		upsert(graphstore.LabelLegalConcept, c.Term, map[string]interface{}{
			"term":       c.Term,
			"definition": c.Definition,
			"category":   c.Category,
		})
	}

	for _, c := range ex.Cases {
		upsert(graphstore.LabelCase, c.CaseNumber, map[string]interface{}{
			"case_number":  c.CaseNumber,
			"case_name":    c.CaseName,
			"court":        c.Court,
			"jurisdiction": c.Jurisdiction,
			"status":       c.Status,
		})
	}

	for _, r := range ex.Relations {
		srcID := byName[r.SrcLabel+"|"+graphstore.NormaliseKey(r.SrcName)]
		dstID := byName[r.DstLabel+"|"+graphstore.NormaliseKey(r.DstName)]
		if r.SrcLabel == graphstore.LabelDocument {
			srcID = docID
		}
		if r.DstLabel == graphstore.LabelDocument {
			dstID = docID
		}
		if srcID == "" || dstID == "" {
			// Endpoint was not extracted in this chunk; nothing to attach.
			continue
		}
		relate(r.Type, srcID, dstID)
	}
}
