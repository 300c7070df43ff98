package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mizanai/mizan/langtag"
)

// Memory is an in-process Store used by tests and local development. It
// mirrors the Postgres adapter's semantics: upsert identity, language
// merge, session scoping, and deterministic ordering.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Node  // id -> node
	byKey map[string]string // label|session|key -> id
	edges map[string]*Edge  // type|from|to -> edge
	vecs  map[string][]float32
	seq   int64
}

// NewMemory returns an empty in-memory graph store.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]*Node),
		byKey: make(map[string]string),
		edges: make(map[string]*Edge),
		vecs:  make(map[string][]float32),
	}
}

func nodeKey(label, sessionID, key string) string {
	return label + "|" + sessionID + "|" + key
}

func edgeKey(relType, fromID, toID string) string {
	return relType + "|" + fromID + "|" + toID
}

// tick produces strictly increasing timestamps so created_at ordering is
// deterministic even within one wall-clock tick.
func (m *Memory) tick() time.Time {
	m.seq++
	return time.Unix(0, m.seq)
}

func (m *Memory) EnsureIndices(ctx context.Context) error { return nil }

func (m *Memory) Upsert(ctx context.Context, label, sessionID, key string, language langtag.Language, attrs map[string]interface{}) (Node, bool, error) {
	if sessionID == "" {
		return Node{}, false, ErrMissingSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[nodeKey(label, sessionID, key)]; ok {
		n := m.nodes[id]
		for k, v := range attrs {
			n.Attrs[k] = v
		}
		n.Language = langtag.Merge(n.Language, language)
		return cloneNode(n), false, nil
	}

	n := &Node{
		ID:        uuid.NewString(),
		Label:     label,
		SessionID: sessionID,
		Key:       key,
		Language:  language,
		Attrs:     make(map[string]interface{}, len(attrs)),
		CreatedAt: m.tick(),
	}
	for k, v := range attrs {
		n.Attrs[k] = v
	}
	m.nodes[n.ID] = n
	m.byKey[nodeKey(label, sessionID, key)] = n.ID
	return cloneNode(n), true, nil
}

func (m *Memory) Relate(ctx context.Context, relType, sessionID, fromID, toID string, language langtag.Language) (bool, error) {
	if sessionID == "" {
		return false, ErrMissingSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from, okFrom := m.nodes[fromID]
	to, okTo := m.nodes[toID]
	if !okFrom || !okTo || from.SessionID != sessionID || to.SessionID != sessionID {
		return false, nil
	}

	k := edgeKey(relType, fromID, toID)
	if _, ok := m.edges[k]; ok {
		return false, nil
	}
	m.edges[k] = &Edge{
		Type:      relType,
		FromID:    fromID,
		ToID:      toID,
		SessionID: sessionID,
		Language:  language,
	}
	return true, nil
}

func (m *Memory) UpsertChunk(ctx context.Context, chunk Chunk) (Chunk, error) {
	if chunk.SessionID == "" {
		return Chunk{}, ErrMissingSession
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[nodeKey(LabelChunk, chunk.SessionID, chunk.ID)]; ok {
		m.vecs[id] = append([]float32(nil), chunk.Embedding...)
		chunk.CreatedAt = m.nodes[id].CreatedAt
		return chunk, nil
	}

	n := &Node{
		ID:        chunk.ID,
		Label:     LabelChunk,
		SessionID: chunk.SessionID,
		Key:       chunk.ID,
		Language:  chunk.Language,
		Attrs: map[string]interface{}{
			"content":     chunk.Content,
			"source_file": chunk.SourceFile,
			"page":        chunk.Page,
			"offset":      chunk.Offset,
		},
		CreatedAt: m.tick(),
	}
	m.nodes[n.ID] = n
	m.byKey[nodeKey(LabelChunk, chunk.SessionID, chunk.ID)] = n.ID
	m.vecs[n.ID] = append([]float32(nil), chunk.Embedding...)
	chunk.CreatedAt = n.CreatedAt
	return chunk, nil
}

func (m *Memory) SessionChunks(ctx context.Context, sessionID string) ([]Chunk, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks []Chunk
	for _, n := range m.nodes {
		if n.Label != LabelChunk || n.SessionID != sessionID {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:         n.ID,
			SessionID:  n.SessionID,
			SourceFile: attrString(n.Attrs, "source_file"),
			Page:       attrInt(n.Attrs, "page"),
			Offset:     attrInt(n.Attrs, "offset"),
			Content:    attrString(n.Attrs, "content"),
			Language:   n.Language,
			Embedding:  append([]float32(nil), m.vecs[n.ID]...),
			CreatedAt:  n.CreatedAt,
		})
	}
	sort.Slice(chunks, func(i, j int) bool {
		if !chunks[i].CreatedAt.Equal(chunks[j].CreatedAt) {
			return chunks[i].CreatedAt.Before(chunks[j].CreatedAt)
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks, nil
}

func (m *Memory) SearchNodes(ctx context.Context, sessionID string, terms []string, language langtag.Language, limit int) ([]ScoredNode, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ScoredNode
	for _, n := range m.nodes {
		if n.SessionID != sessionID || n.Label == LabelChunk {
			continue
		}
		if language != "" && n.Language != language {
			continue
		}
		score := matchScore(n, terms)
		if score == 0 {
			continue
		}
		out = append(out, ScoredNode{Node: cloneNode(n), Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// matchScore mirrors the SQL scoring: content 1, name 2, description 3,
// other 4; 0 means no match at all.
func matchScore(n *Node, terms []string) int {
	contains := func(field string) bool {
		if field == "" {
			return false
		}
		low := strings.ToLower(field)
		for _, t := range terms {
			if strings.Contains(low, strings.ToLower(t)) {
				return true
			}
		}
		return false
	}

	if contains(attrString(n.Attrs, "content")) {
		return 1
	}
	if contains(attrString(n.Attrs, "name")) ||
		contains(attrString(n.Attrs, "term")) ||
		contains(attrString(n.Attrs, "case_number")) {
		return 2
	}
	if contains(attrString(n.Attrs, "description")) ||
		contains(attrString(n.Attrs, "definition")) {
		return 3
	}
	for _, v := range n.Attrs {
		if s, ok := v.(string); ok && contains(s) {
			return 4
		}
	}
	return 0
}

func (m *Memory) Neighbors(ctx context.Context, sessionID string, ids []string, limit int) ([]Node, []Edge, error) {
	if sessionID == "" {
		return nil, nil, ErrMissingSession
	}
	if len(ids) == 0 || limit <= 0 {
		return nil, nil, nil
	}

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var nodes []Node
	var edges []Edge
	var keys []string
	for k := range m.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		e := m.edges[k]
		if e.SessionID != sessionID {
			continue
		}
		var otherID string
		switch {
		case idSet[e.FromID]:
			otherID = e.ToID
		case idSet[e.ToID]:
			otherID = e.FromID
		default:
			continue
		}
		other, ok := m.nodes[otherID]
		if !ok || other.SessionID != sessionID || seen[otherID] {
			continue
		}
		seen[otherID] = true
		nodes = append(nodes, cloneNode(other))
		edges = append(edges, *e)
		if len(nodes) >= limit {
			break
		}
	}
	return nodes, edges, nil
}

func (m *Memory) HasData(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrMissingSession
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range m.nodes {
		if n.SessionID == sessionID && (n.Label == LabelChunk || n.Label == LabelEntity) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) DeleteWhere(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.edges {
		if e.SessionID == sessionID {
			delete(m.edges, k)
		}
	}
	for id, n := range m.nodes {
		if n.SessionID != sessionID {
			continue
		}
		delete(m.byKey, nodeKey(n.Label, n.SessionID, n.Key))
		delete(m.nodes, id)
		delete(m.vecs, id)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

func cloneNode(n *Node) Node {
	out := *n
	out.Attrs = make(map[string]interface{}, len(n.Attrs))
	for k, v := range n.Attrs {
		out.Attrs[k] = v
	}
	return out
}

func attrString(attrs map[string]interface{}, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func attrInt(attrs map[string]interface{}, key string) int {
	switch v := attrs[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
