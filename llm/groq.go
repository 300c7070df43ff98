package llm

import "context"

// groqProvider implements Provider for the Groq API (OpenAI-compatible,
// served from /openai/v1).
type groqProvider struct {
	base openAICompatClient
}

// NewGroq creates a provider for Groq.
func NewGroq(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com"
	}
	base := newOpenAICompatClient(cfg)
	base.pathPrefix = "/openai/v1"
	return &groqProvider{base: base}
}

func (p *groqProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *groqProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	return p.base.chatStream(ctx, req)
}

func (p *groqProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, model, texts)
}
