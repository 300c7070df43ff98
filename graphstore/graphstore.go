// Package graphstore is the capability contract over the labelled
// property-graph backend: nodes, typed directed relationships, and indices
// by session and language. Every node and edge carries a session_id; the
// adapters refuse writes without one, and every query is bounded to a
// single session so cross-session data can never surface.
package graphstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/mizanai/mizan/langtag"
)

// Node labels present in the graph.
const (
	LabelEntity       = "Entity"
	LabelFact         = "Fact"
	LabelLegalConcept = "LegalConcept"
	LabelCase         = "Case"
	LabelDocument     = "Document"
	LabelChunk        = "DocumentChunk"
)

// ErrMissingSession is returned by state-mutating calls without a session.
var ErrMissingSession = errors.New("graphstore: session_id is required")

// Node is a labelled property-graph node.
type Node struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label"`
	SessionID string                 `json:"session_id"`
	Key       string                 `json:"key"`
	Language  langtag.Language       `json:"language"`
	Attrs     map[string]interface{} `json:"attrs"`
	CreatedAt time.Time              `json:"created_at"`
}

// Edge is a typed directed relationship. Language is authoritative on the
// edge and mirrors the source side at creation time.
type Edge struct {
	Type      string           `json:"type"`
	FromID    string           `json:"from_id"`
	ToID      string           `json:"to_id"`
	SessionID string           `json:"session_id"`
	Language  langtag.Language `json:"language"`
}

// Chunk is a DocumentChunk node with its embedding.
type Chunk struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	SourceFile string           `json:"source_file"`
	Page       int              `json:"page"`
	Offset     int              `json:"offset"`
	Content    string           `json:"content"`
	Language   langtag.Language `json:"language"`
	Embedding  []float32        `json:"-"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ScoredNode is a search hit with its match score (lower is better:
// content match 1, name 2, description 3, other 4).
type ScoredNode struct {
	Node
	Score int `json:"score"`
}

// Store is the graph backend contract. All operations are scoped to one
// session; queries never return data from another session.
type Store interface {
	// EnsureIndices idempotently creates the session, language, entity-type,
	// and chunk-text indices.
	EnsureIndices(ctx context.Context) error

	// Upsert writes a node, merging with an existing node of the same
	// (label, session, key). Returns the stored node and whether it was
	// newly created. Language merge follows chunk inheritance: differing
	// languages become mixed.
	Upsert(ctx context.Context, label, sessionID, key string, language langtag.Language, attrs map[string]interface{}) (Node, bool, error)

	// Relate writes a typed directed edge, idempotent per (type, from, to).
	// Returns whether the edge was newly created.
	Relate(ctx context.Context, relType, sessionID, fromID, toID string, language langtag.Language) (bool, error)

	// UpsertChunk persists a DocumentChunk node with its embedding.
	UpsertChunk(ctx context.Context, chunk Chunk) (Chunk, error)

	// SessionChunks returns every chunk of the session with embeddings,
	// ordered by creation then id.
	SessionChunks(ctx context.Context, sessionID string) ([]Chunk, error)

	// SearchNodes scores non-chunk nodes of the session against the given
	// terms: content-field match 1, name 2, description 3, other 4;
	// ordered by score ascending, created_at descending, id ascending.
	// An empty language applies no language filter.
	SearchNodes(ctx context.Context, sessionID string, terms []string, language langtag.Language, limit int) ([]ScoredNode, error)

	// Neighbors fetches the one-hop neighbourhood of the given node ids
	// within the session, with the connecting edges.
	Neighbors(ctx context.Context, sessionID string, ids []string, limit int) ([]Node, []Edge, error)

	// HasData reports whether the session has any chunks or entities.
	HasData(ctx context.Context, sessionID string) (bool, error)

	// DeleteWhere removes every node and edge of the session as one
	// logical operation.
	DeleteWhere(ctx context.Context, sessionID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// NormaliseKey computes the upsert identity of a natural key: NFKC
// normalisation, case folding, and whitespace collapse. A fresh Caser per
// call: cases.Caser is stateful and not safe for concurrent use.
func NormaliseKey(name string) string {
	s := norm.NFKC.String(name)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
