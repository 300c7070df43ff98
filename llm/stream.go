package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// streamChunk is one SSE event of a streamed chat completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chatStream issues a streaming chat completion and forwards content deltas
// on the returned channel. The request is not retried: by the time an error
// surfaces, deltas may already have been delivered.
func (c *openAICompatClient) chatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	data, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + c.pathPrefix + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	// The shared client has a request timeout sized for buffered calls;
	// streams are bounded by ctx instead.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stream request to %s failed: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("LLM API error %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamDelta, 1)

	// terminal delivers the final delta, waiting for the consumer; it gives
	// up only once ctx is cancelled and the consumer has stopped reading.
	terminal := func(d StreamDelta) {
		select {
		case out <- d:
			return
		default:
		}
		select {
		case out <- d:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				terminal(StreamDelta{Done: true})
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- StreamDelta{Content: choice.Delta.Content}:
					case <-ctx.Done():
						terminal(StreamDelta{Err: ctx.Err()})
						return
					}
				}
				if choice.FinishReason != "" {
					terminal(StreamDelta{Done: true})
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				terminal(StreamDelta{Err: ctx.Err()})
				return
			}
			terminal(StreamDelta{Err: fmt.Errorf("reading stream: %w", err)})
			return
		}
		// Stream ended without an explicit terminator.
		terminal(StreamDelta{Done: true})
	}()

	return out, nil
}
