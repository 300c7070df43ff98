package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mizanai/mizan/langtag"
)

// Postgres is the property-graph adapter backed by PostgreSQL with the
// pgvector extension. Nodes and edges live in two tables; chunk embeddings
// sit on the chunk nodes. All queries are parameterised — user text is
// never interpolated into SQL.
type Postgres struct {
	db *sql.DB
}

// Config carries the graph backend connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

// Open connects to the graph backend and verifies reachability.
func Open(ctx context.Context, cfg Config) (*Postgres, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening graph backend: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging graph backend: %w", err)
	}
	return &Postgres{db: db}, nil
}

// buildDSN merges the credentials into the URI.
func buildDSN(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URI)
	if err != nil {
		return "", fmt.Errorf("parsing graph URI: %w", err)
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	return u.String(), nil
}

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS graph_nodes (
    id UUID PRIMARY KEY,
    label TEXT NOT NULL,
    session_id TEXT NOT NULL,
    node_key TEXT NOT NULL,
    language TEXT NOT NULL,
    attrs JSONB NOT NULL DEFAULT '{}',
    embedding vector,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (label, session_id, node_key)
);

CREATE TABLE IF NOT EXISTS graph_edges (
    id UUID PRIMARY KEY,
    edge_type TEXT NOT NULL,
    from_id UUID NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
    to_id UUID NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
    session_id TEXT NOT NULL,
    language TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (edge_type, from_id, to_id)
);
`

// indexSQL creates the session, language, entity-type, and chunk full-text
// indices. Every statement is idempotent.
var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_nodes_session ON graph_nodes (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_session_label ON graph_nodes (session_id, label)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_language ON graph_nodes (language)`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_entity_type ON graph_nodes ((attrs->>'entity_type')) WHERE label = 'Entity'`,
	`CREATE INDEX IF NOT EXISTS idx_nodes_chunk_text ON graph_nodes USING gin (to_tsvector('simple', coalesce(attrs->>'content', ''))) WHERE label = 'DocumentChunk'`,
	`CREATE INDEX IF NOT EXISTS idx_edges_session ON graph_edges (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_session_type ON graph_edges (session_id, edge_type)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_language ON graph_edges (language)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_from ON graph_edges (from_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_to ON graph_edges (to_id)`,
}

// EnsureIndices creates the schema and all indices. Safe to call at every
// start.
func (s *Postgres) EnsureIndices(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating graph schema: %w", err)
	}
	for _, stmt := range indexSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating graph index: %w", err)
		}
	}
	return nil
}

// Upsert writes a node keyed by (label, session, key). On conflict the
// attrs are merged and differing languages collapse to mixed.
func (s *Postgres) Upsert(ctx context.Context, label, sessionID, key string, language langtag.Language, attrs map[string]interface{}) (Node, bool, error) {
	if sessionID == "" {
		return Node{}, false, ErrMissingSession
	}

	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return Node{}, false, fmt.Errorf("encoding node attrs: %w", err)
	}

	var n Node
	var created bool
	var rawAttrs []byte
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO graph_nodes (id, label, session_id, node_key, language, attrs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (label, session_id, node_key) DO UPDATE SET
		    attrs = graph_nodes.attrs || EXCLUDED.attrs,
		    language = CASE
		        WHEN graph_nodes.language = EXCLUDED.language THEN graph_nodes.language
		        ELSE 'mixed'
		    END
		RETURNING id, label, session_id, node_key, language, attrs, created_at, (xmax = 0)`,
		uuid.NewString(), label, sessionID, key, string(language), attrsJSON,
	).Scan(&n.ID, &n.Label, &n.SessionID, &n.Key, &n.Language, &rawAttrs, &n.CreatedAt, &created)
	if err != nil {
		return Node{}, false, fmt.Errorf("upserting %s node: %w", label, err)
	}

	if err := json.Unmarshal(rawAttrs, &n.Attrs); err != nil {
		return Node{}, false, fmt.Errorf("decoding node attrs: %w", err)
	}
	return n, created, nil
}

// Relate writes an edge, idempotent per (type, from, to).
func (s *Postgres) Relate(ctx context.Context, relType, sessionID, fromID, toID string, language langtag.Language) (bool, error) {
	if sessionID == "" {
		return false, ErrMissingSession
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (id, edge_type, from_id, to_id, session_id, language)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM graph_nodes WHERE id = $3 AND session_id = $5)
		  AND EXISTS (SELECT 1 FROM graph_nodes WHERE id = $4 AND session_id = $5)
		ON CONFLICT (edge_type, from_id, to_id) DO NOTHING`,
		uuid.NewString(), relType, fromID, toID, sessionID, string(language))
	if err != nil {
		return false, fmt.Errorf("relating nodes: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// UpsertChunk persists a DocumentChunk node with its embedding. Chunks are
// keyed by their id so re-ingest of the same upload cannot rewrite a prior
// chunk's content.
func (s *Postgres) UpsertChunk(ctx context.Context, chunk Chunk) (Chunk, error) {
	if chunk.SessionID == "" {
		return Chunk{}, ErrMissingSession
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}

	attrs, err := json.Marshal(map[string]interface{}{
		"content":     chunk.Content,
		"source_file": chunk.SourceFile,
		"page":        chunk.Page,
		"offset":      chunk.Offset,
	})
	if err != nil {
		return Chunk{}, fmt.Errorf("encoding chunk attrs: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO graph_nodes (id, label, session_id, node_key, language, attrs, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (label, session_id, node_key) DO UPDATE SET
		    embedding = EXCLUDED.embedding
		RETURNING id, created_at`,
		chunk.ID, LabelChunk, chunk.SessionID, chunk.ID, string(chunk.Language),
		attrs, pgvector.NewVector(chunk.Embedding),
	).Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return Chunk{}, fmt.Errorf("upserting chunk: %w", err)
	}
	return chunk, nil
}

// SessionChunks returns all chunks of the session with embeddings.
func (s *Postgres) SessionChunks(ctx context.Context, sessionID string) ([]Chunk, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, language,
		       attrs->>'content',
		       attrs->>'source_file',
		       coalesce((attrs->>'page')::int, 0),
		       coalesce((attrs->>'offset')::int, 0),
		       embedding, created_at
		FROM graph_nodes
		WHERE session_id = $1 AND label = $2
		ORDER BY created_at ASC, id ASC`,
		sessionID, LabelChunk)
	if err != nil {
		return nil, fmt.Errorf("loading session chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var vec pgvector.Vector
		var lang string
		if err := rows.Scan(&c.ID, &c.SessionID, &lang, &c.Content, &c.SourceFile,
			&c.Page, &c.Offset, &vec, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Language = langtag.Language(lang)
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchNodes scores non-chunk nodes against the search terms. Terms are
// passed as parameters; lower score is better.
func (s *Postgres) SearchNodes(ctx context.Context, sessionID string, terms []string, language langtag.Language, limit int) ([]ScoredNode, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + t + "%"
	}

	var langFilter interface{}
	if language != "" {
		langFilter = string(language)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, session_id, node_key, language, attrs, created_at,
		       CASE
		           WHEN attrs->>'content' ILIKE ANY($2) THEN 1
		           WHEN coalesce(attrs->>'name', attrs->>'term', attrs->>'case_number') ILIKE ANY($2) THEN 2
		           WHEN coalesce(attrs->>'description', attrs->>'definition') ILIKE ANY($2) THEN 3
		           ELSE 4
		       END AS score
		FROM graph_nodes
		WHERE session_id = $1
		  AND label <> $3
		  AND attrs::text ILIKE ANY($2)
		  AND ($4::text IS NULL OR language = $4)
		ORDER BY score ASC, created_at DESC, id ASC
		LIMIT $5`,
		sessionID, pq.Array(patterns), LabelChunk, langFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("searching nodes: %w", err)
	}
	defer rows.Close()

	var out []ScoredNode
	for rows.Next() {
		n, score, err := scanScoredNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredNode{Node: n, Score: score})
	}
	return out, rows.Err()
}

func scanScoredNode(rows *sql.Rows) (Node, int, error) {
	var n Node
	var lang string
	var rawAttrs []byte
	var score int
	if err := rows.Scan(&n.ID, &n.Label, &n.SessionID, &n.Key, &lang,
		&rawAttrs, &n.CreatedAt, &score); err != nil {
		return Node{}, 0, fmt.Errorf("scanning node: %w", err)
	}
	n.Language = langtag.Language(lang)
	if err := json.Unmarshal(rawAttrs, &n.Attrs); err != nil {
		return Node{}, 0, fmt.Errorf("decoding node attrs: %w", err)
	}
	return n, score, nil
}

// Neighbors fetches one-hop neighbours of the given ids, scope-closed to
// the session, with the connecting edges.
func (s *Postgres) Neighbors(ctx context.Context, sessionID string, ids []string, limit int) ([]Node, []Edge, error) {
	if sessionID == "" {
		return nil, nil, ErrMissingSession
	}
	if len(ids) == 0 || limit <= 0 {
		return nil, nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (n.id)
		       n.id, n.label, n.session_id, n.node_key, n.language, n.attrs, n.created_at,
		       e.edge_type, e.from_id, e.to_id, e.language
		FROM graph_edges e
		JOIN graph_nodes n ON n.id = CASE
		        WHEN e.from_id = ANY($2::uuid[]) THEN e.to_id
		        ELSE e.from_id
		    END
		WHERE e.session_id = $1
		  AND n.session_id = $1
		  AND (e.from_id = ANY($2::uuid[]) OR e.to_id = ANY($2::uuid[]))
		ORDER BY n.id, n.created_at DESC
		LIMIT $3`,
		sessionID, pq.Array(ids), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching neighbours: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	var edges []Edge
	for rows.Next() {
		var n Node
		var e Edge
		var nodeLang, edgeLang string
		var rawAttrs []byte
		if err := rows.Scan(&n.ID, &n.Label, &n.SessionID, &n.Key, &nodeLang,
			&rawAttrs, &n.CreatedAt,
			&e.Type, &e.FromID, &e.ToID, &edgeLang); err != nil {
			return nil, nil, fmt.Errorf("scanning neighbour: %w", err)
		}
		n.Language = langtag.Language(nodeLang)
		if err := json.Unmarshal(rawAttrs, &n.Attrs); err != nil {
			return nil, nil, fmt.Errorf("decoding neighbour attrs: %w", err)
		}
		e.SessionID = sessionID
		e.Language = langtag.Language(edgeLang)
		nodes = append(nodes, n)
		edges = append(edges, e)
	}
	return nodes, edges, rows.Err()
}

// HasData reports whether the session has any chunks or entities.
func (s *Postgres) HasData(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrMissingSession
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM graph_nodes
		    WHERE session_id = $1 AND label IN ($2, $3)
		)`, sessionID, LabelChunk, LabelEntity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking session data: %w", err)
	}
	return exists, nil
}

// DeleteWhere removes every node and edge of the session in one
// transaction so no orphan is observable afterwards.
func (s *Postgres) DeleteWhere(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSession
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM graph_edges WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("deleting session edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM graph_nodes WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("deleting session nodes: %w", err)
	}
	return tx.Commit()
}

// Ping verifies backend reachability.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}
