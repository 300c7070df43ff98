package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mizanai/mizan"
	"github.com/mizanai/mizan/embed"
	"github.com/mizanai/mizan/graphstore"
	"github.com/mizanai/mizan/llm"
	"github.com/mizanai/mizan/parser"
	"github.com/mizanai/mizan/store"
)

// fakeModel streams a fixed answer and returns fixed extraction JSON.
type fakeModel struct{}

const fakeExtraction = `{
	"entities": [{"name": "Acme Corp", "entity_type": "ORGANIZATION", "description": "payer"}],
	"facts": [], "concepts": [], "cases": [], "relations": []
}`

func (fakeModel) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: fakeExtraction}, nil
}

func (fakeModel) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	out := make(chan llm.StreamDelta, 3)
	out <- llm.StreamDelta{Content: "Acme Corp "}
	out <- llm.StreamDelta{Content: "is the payer."}
	out <- llm.StreamDelta{Done: true}
	close(out)
	return out, nil
}

func (fakeModel) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("not used")
}

// pdfParserStub lets tests ingest plain text as a one-page document.
type pdfParserStub struct{}

func (pdfParserStub) Parse(_ context.Context, data []byte) ([]parser.Page, error) {
	text := strings.TrimPrefix(string(data), "%PDF-stub\n")
	return []parser.Page{{Number: 1, Text: text}}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := mizan.DefaultConfig()
	cfg.ExtractMinInterval = 0

	st, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := mizan.New(cfg, st, graphstore.NewMemory(), fakeModel{}, embed.NewHashProvider(),
		mizan.WithDocumentParser(pdfParserStub{}))

	h := newHandler(svc)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions", h.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("PUT /sessions/{id}", h.handleRenameSession)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleDeleteSession)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /chat", h.handleChat)
	mux.HandleFunc("POST /chat/non-streaming", h.handleChatSync)
	mux.HandleFunc("GET /chat/history/{id}", h.handleHistory)
	mux.HandleFunc("GET /health", h.handleHealth)

	srv := httptest.NewServer(recoveryMiddleware(logMiddleware(mux)))
	t.Cleanup(srv.Close)
	return srv
}

func createSession(t *testing.T, srv *httptest.Server, name string) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/sessions", "application/json",
		strings.NewReader(fmt.Sprintf(`{"name": %q}`, name)))
	if err != nil {
		t.Fatalf("POST /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /sessions status = %d", resp.StatusCode)
	}
	var sess struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	return sess.ID
}

func uploadPDF(t *testing.T, srv *httptest.Server, sessionID, fileName, text string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("session_id", sessionID)
	fw, _ := mw.CreateFormFile("file", fileName)
	fw.Write([]byte("%PDF-stub\n" + text))
	mw.Close()

	resp, err := http.Post(srv.URL+"/ingest", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /ingest: %v", err)
	}
	return resp
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "contract work")

	resp, err := http.Get(srv.URL + "/sessions/" + id)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET session status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/sessions/"+id,
		strings.NewReader(`{"name": "renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT session: %v", err)
	}
	var sess struct {
		Name string `json:"name"`
	}
	json.NewDecoder(resp.Body).Decode(&sess)
	resp.Body.Close()
	if sess.Name != "renamed" {
		t.Errorf("renamed name = %q", sess.Name)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/sessions/" + id)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET deleted session status = %d, want 404", resp.StatusCode)
	}
}

func TestIngestEndpoint(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "docs")

	resp := uploadPDF(t, srv, id, "contract.pdf", "Acme Corp shall pay Beta LLC 1,000 USD.")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}

	var out struct {
		Status       string `json:"status"`
		SessionID    string `json:"session_id"`
		FileName     string `json:"file_name"`
		Chunks       int    `json:"chunks"`
		NodesCreated int    `json:"nodes_created"`
		BatchID      string `json:"batch_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding ingest response: %v", err)
	}
	if out.Chunks == 0 || out.NodesCreated == 0 || out.BatchID == "" {
		t.Errorf("ingest response = %+v", out)
	}
	if out.FileName != "contract.pdf" || out.SessionID != id {
		t.Errorf("ingest echo = %+v", out)
	}
}

func TestIngestDuplicateReturns409(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "docs")

	resp := uploadPDF(t, srv, id, "contract.pdf", "Acme Corp pays Beta LLC.")
	resp.Body.Close()
	resp = uploadPDF(t, srv, id, "contract.pdf", "Acme Corp pays Beta LLC.")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate upload status = %d, want 409", resp.StatusCode)
	}
}

func TestIngestMissingSessionReturns404(t *testing.T) {
	srv := newTestServer(t)
	resp := uploadPDF(t, srv, "ghost", "contract.pdf", "text")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestChatSSE(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "chat")
	uploadPDF(t, srv, id, "contract.pdf", "Acme Corp shall pay Beta LLC.").Body.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json",
		strings.NewReader(fmt.Sprintf(`{"session_id": %q, "message": "what does Acme Corp pay?"}`, id)))
	if err != nil {
		t.Fatalf("POST /chat: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	events := parseSSE(t, buf.String())

	if len(events) < 2 {
		t.Fatalf("got %d events, want fragments plus done", len(events))
	}

	var chunks int
	last := events[len(events)-1]
	for _, ev := range events[:len(events)-1] {
		if _, ok := ev["chunk"]; ok {
			chunks++
		}
	}
	if chunks < 1 {
		t.Error("no chunk events before the terminal event")
	}
	if done, _ := last["done"].(bool); !done {
		t.Errorf("terminal event = %v, want done:true", last)
	}
	if _, ok := last["sources"]; !ok {
		t.Error("terminal event missing sources")
	}
}

func TestChatNonStreaming(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "chat")
	uploadPDF(t, srv, id, "contract.pdf", "Acme Corp shall pay Beta LLC.").Body.Close()

	resp, err := http.Post(srv.URL+"/chat/non-streaming", "application/json",
		strings.NewReader(fmt.Sprintf(`{"session_id": %q, "message": "what does Acme Corp pay?"}`, id)))
	if err != nil {
		t.Fatalf("POST /chat/non-streaming: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Response string                   `json:"response"`
		Sources  []map[string]interface{} `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.Contains(out.Response, "Acme Corp") {
		t.Errorf("response = %q", out.Response)
	}
	if len(out.Sources) == 0 {
		t.Error("no sources in non-streaming response")
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", resp.StatusCode)
	}

	resp, _ = http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"session_id": ""}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing fields status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv, "chat")
	uploadPDF(t, srv, id, "contract.pdf", "Acme Corp shall pay Beta LLC.").Body.Close()

	resp, _ := http.Post(srv.URL+"/chat/non-streaming", "application/json",
		strings.NewReader(fmt.Sprintf(`{"session_id": %q, "message": "what does Acme Corp pay?"}`, id)))
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/chat/history/" + id + "?limit=10")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		SessionID  string          `json:"session_id"`
		Messages   []store.Message `json:"messages"`
		TotalCount int             `json:"total_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if out.TotalCount != 2 || len(out.Messages) != 2 {
		t.Errorf("history = %+v", out)
	}
	if out.Messages[0].Role != "user" || out.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", out.Messages[0].Role, out.Messages[1].Role)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

// parseSSE splits a raw SSE body into decoded data payloads.
func parseSSE(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var events []map[string]interface{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("invalid SSE payload %q: %v", payload, err)
		}
		events = append(events, ev)
	}
	return events
}
