package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/langtag"
	"github.com/mizanai/mizan/llm"
	"github.com/mizanai/mizan/store"
)

var (
	// ErrMessageTooLong is returned when the user message exceeds the limit.
	ErrMessageTooLong = errors.New("retrieve: message too long")

	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("retrieve: empty message")
)

// answerTemperature keeps answer-mode sampling low so responses stay
// grounded in the provided context.
const answerTemperature = 0.2

// truncationMarker is appended to an assistant message persisted after a
// cancelled stream.
const truncationMarker = " [truncated]"

// upstreamErrorSentence replaces backend failures in the stream; raw
// errors never reach the caller.
const upstreamErrorSentence = "The assistant is temporarily unavailable. Please try again in a moment."

// uploadInstruction is emitted when a session has no indexed documents.
const (
	uploadInstructionEN = "I don't have any documents for this conversation yet. Please upload a PDF and ask again."
	uploadInstructionAR = "لا توجد مستندات في هذه المحادثة بعد. الرجاء رفع ملف PDF ثم إعادة السؤال."
)

// Source identifies one element of the context pack behind an answer.
type Source struct {
	Type             string `json:"type"`
	Name             string `json:"name,omitempty"`
	EntityType       string `json:"entity_type,omitempty"`
	RelationshipType string `json:"relationship_type,omitempty"`
	Language         string `json:"language,omitempty"`
	SourceFile       string `json:"source_file,omitempty"`
	Page             int    `json:"page,omitempty"`
}

// Fragment is one element of the answer stream. Text fragments arrive in
// order; the terminal fragment has Done set (with the sources) or Err set.
type Fragment struct {
	Text    string   `json:"text,omitempty"`
	Done    bool     `json:"done,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Err     error    `json:"-"`
}

// AnswerConfig bounds the answerer.
type AnswerConfig struct {
	ModelName          string
	HistoryTokenBudget int
	MaxMessageChars    int
	RetrievalLimit     int
}

// Answerer drives answer-mode streaming over the retriever's context pack.
type Answerer struct {
	store     *store.Store
	graph     graphstore.Store
	retriever *Retriever
	model     llm.Provider
	cfg       AnswerConfig
}

// NewAnswerer wires an Answerer from its collaborators.
func NewAnswerer(st *store.Store, graph graphstore.Store, retriever *Retriever, model llm.Provider, cfg AnswerConfig) *Answerer {
	return &Answerer{
		store:     st,
		graph:     graph,
		retriever: retriever,
		model:     model,
		cfg:       cfg,
	}
}

// Answer appends the user message, retrieves the session's knowledge, and
// streams a grounded response. The returned channel delivers ordered text
// fragments followed by one terminal fragment; it is closed afterwards.
// Callers serialise Answer per session — each call appends a user and an
// assistant message.
func (a *Answerer) Answer(ctx context.Context, sessionID, query string) (<-chan Fragment, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	if a.cfg.MaxMessageChars > 0 && len([]rune(query)) > a.cfg.MaxMessageChars {
		return nil, ErrMessageTooLong
	}

	if _, err := a.store.AppendMessage(ctx, sessionID, "user", query, store.EstimateTokens(query)); err != nil {
		return nil, fmt.Errorf("appending user message: %w", err)
	}

	out := make(chan Fragment, 8)
	go a.run(ctx, sessionID, query, out)
	return out, nil
}

func (a *Answerer) run(ctx context.Context, sessionID, query string, out chan<- Fragment) {
	defer close(out)

	// Recent history, oldest-first, clipped by token budget. The user
	// message just appended is dropped from the block: it appears in the
	// prompt as the question itself.
	history, err := a.store.RecentMessages(ctx, sessionID, a.cfg.HistoryTokenBudget)
	if err != nil {
		slog.Error("answer: loading history failed", "session_id", sessionID, "error", err)
		out <- Fragment{Text: upstreamErrorSentence, Err: err}
		return
	}
	if n := len(history); n > 0 && history[n-1].Role == "user" && history[n-1].Content == query {
		history = history[:n-1]
	}

	pack, err := a.retriever.Retrieve(ctx, sessionID, query, Options{Limit: a.cfg.RetrievalLimit})
	if err != nil {
		slog.Error("answer: retrieval failed", "session_id", sessionID, "error", err)
		out <- Fragment{Text: upstreamErrorSentence, Err: err}
		return
	}

	// Nothing indexed for this session: instruct instead of answering.
	if len(pack.Chunks) == 0 && len(pack.Entities) == 0 {
		hasData, err := a.graph.HasData(ctx, sessionID)
		if err != nil {
			slog.Error("answer: data check failed", "session_id", sessionID, "error", err)
			out <- Fragment{Text: upstreamErrorSentence, Err: err}
			return
		}
		if !hasData {
			instruction := uploadInstructionEN
			if pack.QueryLanguage == langtag.Arabic {
				instruction = uploadInstructionAR
			}
			a.persistAssistant(ctx, sessionID, instruction)
			out <- Fragment{Text: instruction}
			out <- Fragment{Done: true, Sources: []Source{}}
			return
		}
	}

	prompt := BuildAnswerPrompt(pack.QueryLanguage, pack, history, query)
	deltas, err := a.model.ChatStream(ctx, llm.ChatRequest{
		Model: a.cfg.ModelName,
		Messages: []llm.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: answerTemperature,
	})
	if err != nil {
		slog.Error("answer: model unavailable", "session_id", sessionID, "error", err)
		out <- Fragment{Text: upstreamErrorSentence, Err: err}
		return
	}

	var buf strings.Builder
	fragments := 0
	sawDone := false
	for d := range deltas {
		if d.Err != nil {
			// Prior fragments already delivered remain; persist what was
			// streamed so the history matches what the caller saw.
			slog.Warn("answer: stream aborted",
				"session_id", sessionID, "fragments", fragments, "error", d.Err)
			if fragments > 0 {
				a.persistAssistant(ctx, sessionID, buf.String()+truncationMarker)
			}
			out <- Fragment{Text: upstreamErrorSentence, Err: d.Err}
			return
		}
		if d.Done {
			sawDone = true
			break
		}
		buf.WriteString(d.Content)
		fragments++
		out <- Fragment{Text: d.Content}
	}

	// The stream can end without a terminal delta when the client went
	// away; a cancelled context means truncation, not completion.
	if !sawDone && ctx.Err() != nil {
		if fragments > 0 {
			a.persistAssistant(ctx, sessionID, buf.String()+truncationMarker)
		}
		out <- Fragment{Text: upstreamErrorSentence, Err: ctx.Err()}
		return
	}

	if fragments == 0 {
		out <- Fragment{Text: upstreamErrorSentence, Err: fmt.Errorf("model produced no output")}
		return
	}

	a.persistAssistant(ctx, sessionID, buf.String())
	out <- Fragment{Done: true, Sources: packSources(pack)}
}

// persistAssistant appends the assistant message even when the request
// context was cancelled mid-stream.
func (a *Answerer) persistAssistant(ctx context.Context, sessionID, content string) {
	if _, err := a.store.AppendMessage(context.WithoutCancel(ctx), sessionID, "assistant",
		content, store.EstimateTokens(content)); err != nil {
		slog.Error("answer: persisting assistant message failed",
			"session_id", sessionID, "error", err)
	}
}

// packSources derives the trailing sources record from the context pack.
func packSources(pack *Result) []Source {
	sources := []Source{}

	for _, e := range pack.Entities {
		s := Source{
			Type:     strings.ToLower(e.Label),
			Name:     nodeName(e.Node),
			Language: string(e.Language),
		}
		if v, ok := e.Attrs["entity_type"].(string); ok {
			s.EntityType = v
		}
		sources = append(sources, s)
	}
	for _, rel := range pack.Relationships {
		sources = append(sources, Source{
			Type:             "relationship",
			RelationshipType: rel.Type,
			Language:         string(rel.Language),
		})
	}
	for _, n := range pack.Expanded {
		s := Source{
			Type:     strings.ToLower(n.Label),
			Name:     nodeName(n),
			Language: string(n.Language),
		}
		if v, ok := n.Attrs["entity_type"].(string); ok {
			s.EntityType = v
		}
		sources = append(sources, s)
	}
	for _, c := range pack.Chunks {
		sources = append(sources, Source{
			Type:       "chunk",
			SourceFile: c.SourceFile,
			Page:       c.Page,
			Language:   string(c.Language),
		})
	}
	return sources
}
