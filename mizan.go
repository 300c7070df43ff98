// Package mizan is a session-isolated, multilingual legal-document
// question-answering service. Users create conversations, upload PDFs into
// them, and ask questions; the service extracts a knowledge graph per
// document, indexes chunk embeddings, and streams grounded, cited answers
// from that session's knowledge only.
package mizan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mizanai/mizan/embed"
	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/ingest"
	"github.com/mizanai/mizan/llm"
	"github.com/mizanai/mizan/parser"
	"github.com/mizanai/mizan/retrieve"
	"github.com/mizanai/mizan/store"
)

// Service owns the process singletons — one generative model client, one
// rate limiter, one embedding provider, one graph pool — and enforces the
// session-level concurrency contract: answers serialise per session,
// ingests run in parallel, and delete is a barrier.
type Service struct {
	cfg       Config
	store     *store.Store
	graph     graphstore.Store
	model     llm.Provider
	embedder  embed.Provider
	limiter   *llm.IntervalLimiter
	ingestor  *ingest.Ingestor
	retriever *retrieve.Retriever
	answerer  *retrieve.Answerer

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState tracks per-session serialisation and in-flight work.
type sessionState struct {
	answerMu sync.Mutex // one answer at a time per session

	mu       sync.Mutex
	gone     bool
	inflight map[int]context.CancelFunc
	nextID   int
}

// Open dials the real backends and assembles the service.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening relational store: %w", err)
	}

	graph, err := graphstore.Open(ctx, graphstore.Config{
		URI:      cfg.GraphURI,
		User:     cfg.GraphUser,
		Password: cfg.GraphPassword,
		Database: cfg.GraphDatabase,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%w: graph backend: %v", ErrUpstreamUnavailable, err)
	}
	if err := graph.EnsureIndices(ctx); err != nil {
		graph.Close()
		st.Close()
		return nil, fmt.Errorf("ensuring graph indices: %w", err)
	}

	model, err := llm.NewProvider(llm.Config(cfg.GenModel))
	if err != nil {
		graph.Close()
		st.Close()
		return nil, fmt.Errorf("creating model provider: %w", err)
	}

	embedClient, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		graph.Close()
		st.Close()
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder := embed.NewProvider(ctx, embedClient, cfg.EmbedModelPriority)
	slog.Info("embedding provider ready", "model", embedder.Name(), "dimension", embedder.Dimension())

	return New(cfg, st, graph, model, embedder), nil
}

// Option configures the Service at construction time.
type Option func(*serviceOptions)

type serviceOptions struct {
	ingestOpts []ingest.Option
}

// WithDocumentParser swaps the PDF parser, e.g. for synthetic documents in
// tests.
func WithDocumentParser(p parser.Parser) Option {
	return func(o *serviceOptions) {
		o.ingestOpts = append(o.ingestOpts, ingest.WithParser(p))
	}
}

// New assembles a Service from already-constructed collaborators. Used by
// Open and by tests that substitute in-memory backends.
func New(cfg Config, st *store.Store, graph graphstore.Store, model llm.Provider, embedder embed.Provider, opts ...Option) *Service {
	var so serviceOptions
	for _, o := range opts {
		o(&so)
	}

	limiter := llm.NewIntervalLimiter(cfg.ExtractMinInterval)
	retriever := retrieve.NewRetriever(graph, embedder)

	return &Service{
		cfg:       cfg,
		store:     st,
		graph:     graph,
		model:     model,
		embedder:  embedder,
		limiter:   limiter,
		ingestor: ingest.New(graph, embedder, model, limiter, ingest.Config{
			MaxUploadBytes: cfg.MaxUploadBytes,
			ModelName:      cfg.GenModel.Model,
		}, so.ingestOpts...),
		retriever: retriever,
		answerer: retrieve.NewAnswerer(st, graph, retriever, model, retrieve.AnswerConfig{
			ModelName:          cfg.GenModel.Model,
			HistoryTokenBudget: cfg.HistoryTokenBudget,
			MaxMessageChars:    cfg.MaxMessageChars,
		}),
		sessions: make(map[string]*sessionState),
	}
}

// Close releases all backends.
func (s *Service) Close() error {
	err := s.graph.Close()
	if serr := s.store.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Health verifies the graph backend is reachable.
func (s *Service) Health(ctx context.Context) error {
	if err := s.graph.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession creates a conversation scope.
func (s *Service) CreateSession(ctx context.Context, name string) (store.Session, error) {
	return s.store.CreateSession(ctx, name)
}

// ListSessions returns all sessions.
func (s *Service) ListSessions(ctx context.Context) ([]store.Session, error) {
	return s.store.ListSessions(ctx)
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id string) (store.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, ErrSessionGone
	}
	return sess, err
}

// RenameSession updates a session's display name.
func (s *Service) RenameSession(ctx context.Context, id, name string) (store.Session, error) {
	sess, err := s.store.RenameSession(ctx, id, name)
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, ErrSessionGone
	}
	return sess, err
}

// DeleteSession is a barrier: in-flight ingests and answers for the
// session are cancelled, then every graph and relational record is
// removed. After it returns, no operation can observe the session.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}

	st := s.state(id)
	st.mu.Lock()
	st.gone = true
	for _, cancel := range st.inflight {
		cancel()
	}
	st.mu.Unlock()

	if err := s.graph.DeleteWhere(ctx, id); err != nil {
		return fmt.Errorf("%w: deleting graph records: %v", ErrUpstreamUnavailable, err)
	}
	if err := s.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting session records: %w", err)
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	slog.Info("session deleted", "session_id", id)
	return nil
}

// state returns the tracking state for a session, creating it on demand.
func (s *Service) state(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		st = &sessionState{inflight: make(map[int]context.CancelFunc)}
		s.sessions[id] = st
	}
	return st
}

// track derives a cancellable context registered with the session, so a
// concurrent delete can abort the operation. The returned release must be
// called when the operation finishes. A session already marked gone
// returns ErrSessionGone.
func (st *sessionState) track(ctx context.Context) (context.Context, func(), error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return nil, nil, ErrSessionGone
	}
	ctx, cancel := context.WithCancel(ctx)
	id := st.nextID
	st.nextID++
	st.inflight[id] = cancel

	release := func() {
		st.mu.Lock()
		delete(st.inflight, id)
		st.mu.Unlock()
		cancel()
	}
	return ctx, release, nil
}

// isGone reports whether the session was deleted while an operation ran.
func (st *sessionState) isGone() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gone
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

// Ingest validates and ingests one uploaded PDF into the session. Ingests
// for the same session may run in parallel; upsert idempotency makes them
// converge. Partial ingests report partial counts and are never rolled
// back.
func (s *Service) Ingest(ctx context.Context, sessionID, fileName string, data []byte) (*ingest.Result, error) {
	if fileName == "" || len(data) == 0 {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	if _, err := s.store.RecordUpload(ctx, sessionID, fileName, int64(len(data))); err != nil {
		if errors.Is(err, store.ErrDuplicateUpload) {
			return nil, fmt.Errorf("%w: %s (%d bytes)", ErrConflict, fileName, len(data))
		}
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	st := s.state(sessionID)
	ctx, release, err := st.track(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.ingestor.Ingest(ctx, sessionID, fileName, data)
	switch {
	case err == nil:
		return res, nil
	case st.isGone():
		return res, ErrSessionGone
	case errors.Is(err, ingest.ErrNotPDF), errors.Is(err, ingest.ErrTooLarge):
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, ingest.ErrNoChunks):
		return nil, fmt.Errorf("%w: %v", ErrIngestFailed, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return res, err
	default:
		return res, fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

// ---------------------------------------------------------------------------
// Answer
// ---------------------------------------------------------------------------

// Answer streams a grounded response for the query. Two concurrent calls
// on the same session serialise: each produces a user and an assistant
// append, and history order is the serialisation order.
func (s *Service) Answer(ctx context.Context, sessionID, query string) (<-chan retrieve.Fragment, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	st := s.state(sessionID)
	st.answerMu.Lock()

	ctx, release, err := st.track(ctx)
	if err != nil {
		st.answerMu.Unlock()
		return nil, err
	}

	frags, err := s.answerer.Answer(ctx, sessionID, query)
	if err != nil {
		release()
		st.answerMu.Unlock()
		if errors.Is(err, retrieve.ErrMessageTooLong) || errors.Is(err, retrieve.ErrEmptyMessage) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	// Relay the stream; the session's answer slot frees when it ends.
	out := make(chan retrieve.Fragment, 8)
	go func() {
		defer func() {
			close(out)
			release()
			st.answerMu.Unlock()
		}()
		for f := range frags {
			if f.Err != nil && st.isGone() {
				f.Err = ErrSessionGone
			}
			out <- f
		}
	}()
	return out, nil
}

// AnswerSync drains the stream and returns the full response with its
// sources.
func (s *Service) AnswerSync(ctx context.Context, sessionID, query string) (string, []retrieve.Source, error) {
	frags, err := s.Answer(ctx, sessionID, query)
	if err != nil {
		return "", nil, err
	}

	var text string
	var sources []retrieve.Source
	for f := range frags {
		if f.Err != nil {
			return text, sources, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, f.Err)
		}
		if f.Done {
			sources = f.Sources
			continue
		}
		text += f.Text
	}
	return text, sources, nil
}

// History returns up to limit messages of the session, oldest-first, with
// the total count.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]store.Message, int, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, 0, err
	}
	return s.store.History(ctx, sessionID, limit)
}
