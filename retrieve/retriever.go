// Package retrieve answers queries over a session's knowledge: a semantic
// pass over chunk embeddings and a graph pass over extracted nodes run in
// parallel, a one-hop expansion enriches the graph hits, and the answerer
// streams a grounded response built from the assembled context pack.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mizanai/mizan/embed"
	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/langtag"
)

// Similarity thresholds for the semantic pass.
const (
	generalThreshold  = 0.2
	specificThreshold = 0.5
)

// DefaultLimit bounds each retrieval pass when the caller does not.
const DefaultLimit = 10

// Options tune a single retrieval.
type Options struct {
	Limit          int
	LanguageFilter langtag.Language
}

// RetrievedChunk is a chunk with its query similarity.
type RetrievedChunk struct {
	graphstore.Chunk
	Score float64 `json:"score"`
}

// Result is the assembled retrieval output: graph hits, their one-hop
// neighbourhood, semantically similar chunks, and the terms used, for
// transparency.
type Result struct {
	Entities      []graphstore.ScoredNode `json:"entities"`
	Relationships []graphstore.Edge       `json:"relationships"`
	Chunks        []RetrievedChunk        `json:"chunks"`
	Expanded      []graphstore.Node       `json:"expanded"`
	SearchTerms   []string                `json:"search_terms"`
	QueryLanguage langtag.Language        `json:"query_language"`
}

// Retriever fans out the semantic and graph passes for a session.
type Retriever struct {
	graph    graphstore.Store
	embedder embed.Provider
}

// NewRetriever wires a Retriever from its collaborators.
func NewRetriever(graph graphstore.Store, embedder embed.Provider) *Retriever {
	return &Retriever{graph: graph, embedder: embedder}
}

// Retrieve runs both passes in parallel, joins, then expands the graph
// hits one hop. All results are scoped to the session.
func (r *Retriever) Retrieve(ctx context.Context, sessionID, query string, opts Options) (*Result, error) {
	if sessionID == "" {
		return nil, graphstore.ErrMissingSession
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	res := &Result{
		QueryLanguage: langtag.Detect(query),
		SearchTerms:   MeaningfulTerms(query),
	}
	general := IsGeneralContentQuery(query)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		chunks, err := r.semanticPass(gctx, sessionID, query, general, limit)
		if err != nil {
			return fmt.Errorf("semantic pass: %w", err)
		}
		res.Chunks = chunks
		return nil
	})

	g.Go(func() error {
		hits, err := r.graph.SearchNodes(gctx, sessionID, res.SearchTerms, opts.LanguageFilter, limit)
		if err != nil {
			return fmt.Errorf("graph pass: %w", err)
		}
		res.Entities = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Expansion pass: one-hop neighbours of the graph hits, cycle-safe by
	// construction (depth 1), still bounded by limit.
	if len(res.Entities) > 0 {
		ids := make([]string, len(res.Entities))
		for i, e := range res.Entities {
			ids[i] = e.ID
		}
		expanded, edges, err := r.graph.Neighbors(ctx, sessionID, ids, limit)
		if err != nil {
			return nil, fmt.Errorf("expansion pass: %w", err)
		}
		res.Expanded = expanded
		res.Relationships = edges
	}

	slog.Debug("retrieve: assembled context",
		"session_id", sessionID,
		"query_language", res.QueryLanguage,
		"terms", len(res.SearchTerms),
		"entities", len(res.Entities),
		"chunks", len(res.Chunks),
		"expanded", len(res.Expanded),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// semanticPass scores every chunk of the session against the query
// embedding. General-content queries return all chunks so the prompt can
// cover the whole document; specific queries cut at the similarity
// threshold and the limit. Ordering is similarity descending, tie-broken
// by id for determinism.
func (r *Retriever) semanticPass(ctx context.Context, sessionID, query string, general bool, limit int) ([]RetrievedChunk, error) {
	chunks, err := r.graph.SessionChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, RetrievedChunk{
			Chunk: c,
			Score: embed.Similarity(queryVec, c.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if general {
		// Full document coverage: every chunk, best-first.
		return scored, nil
	}

	var out []RetrievedChunk
	for _, c := range scored {
		if c.Score < specificThreshold {
			break
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	// A specific query that matches nothing above the cut still gets the
	// single best chunk when one scores above the general threshold, so
	// weakly-phrased questions are not answered from thin air.
	if len(out) == 0 && scored[0].Score >= generalThreshold {
		out = append(out, scored[0])
	}
	return out, nil
}
