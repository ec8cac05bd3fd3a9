// Package modelclient implements turn.ModelStream against an external
// model-inference HTTP server. Model loading and inference are explicitly
// out of the core's scope, so this is a thin streaming-completions client,
// not an inference engine: it posts a prompt and reads back newline-
// delimited "data: {...}" chunks, the server-sent-events framing common to
// OpenAI-compatible and llama.cpp-server completion endpoints.
package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kandev/agentrt/internal/common/logger"
	"github.com/kandev/agentrt/internal/turn"
	"go.uber.org/zap"
)

// Config points the client at the model server.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client is turn.ModelStream's production implementation.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

// New constructs a Client from cfg.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.WithFields(zap.String("component", "model-client")),
	}
}

type completionRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// completionChunk is the subset of an OpenAI/llama.cpp-server streaming
// completion chunk this runtime needs: the generated delta and, on the
// final chunk, a non-empty finish reason.
type completionChunk struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements turn.ModelStream. The returned channel is closed when
// the response stream ends, ctx is cancelled, or an unrecoverable read
// error occurs; a read error while streaming the response body is reported
// as a Chunk carrying FinishReason "error" rather than a returned error,
// since the controller has already started consuming the channel.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (<-chan turn.Chunk, error) {
	body, err := json.Marshal(completionRequest{Prompt: prompt, MaxTokens: maxTokens, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("model server returned status %d", resp.StatusCode)
	}

	out := make(chan turn.Chunk, 16)
	go c.streamResponse(resp.Body, out)
	return out, nil
}

func (c *Client) streamResponse(body io.ReadCloser, out chan<- turn.Chunk) {
	defer body.Close()
	defer close(out)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.log.Warn("discarding malformed completion chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		out <- turn.Chunk{
			Text:         chunk.Choices[0].Text,
			TokenCount:   approxTokenCount(chunk.Choices[0].Text),
			FinishReason: chunk.Choices[0].FinishReason,
		}
	}

	if err := scanner.Err(); err != nil {
		c.log.Error("model stream read failed", zap.Error(err))
		out <- turn.Chunk{FinishReason: "error"}
	}
}

// approxTokenCount estimates a chunk's token count when the server doesn't
// report per-chunk usage, at roughly four characters per token.
func approxTokenCount(text string) int {
	if text == "" {
		return 0
	}
	if n := len(text) / 4; n > 0 {
		return n
	}
	return 1
}
