// Package llm wraps an OpenAI-compatible chat completions backend with
// tiered model selection and streamed or buffered output.
package llm

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

	"github.com/IsaacLehman/youtube-ai-chat/chat"
)

const (
	defaultBaseURL    = "https://api.openai.com"
	defaultLightModel = "gpt-4o-mini"
	defaultHeavyModel = "gpt-4o"
	defaultMaxRetries = 2
)

// Tier is a model capability/cost class.
type Tier string

const (
	TierLight Tier = "light"
	TierHeavy Tier = "heavy"
)

// Client calls the chat completions API.
type Client struct {
	apiKey      string
	baseURL     string
	lightModel  string
	heavyModel  string
	temperature float64
	maxRetries  int
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithModels sets the model names used for the light and heavy tiers.
func WithModels(light, heavy string) Option {
	return func(c *Client) {
		if light != "" {
			c.lightModel = light
		}
		if heavy != "" {
			c.heavyModel = heavy
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient creates a new gateway client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		lightModel:  defaultLightModel,
		heavyModel:  defaultHeavyModel,
		temperature: 0.9,
		maxRetries:  defaultMaxRetries,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name for a tier.
func (c *Client) Model(tier Tier) string {
	if tier == TierHeavy {
		return c.heavyModel
	}
	return c.lightModel
}

// Wire types for the chat completions API.

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate produces a completion for the given history on the given tier.
// Messages are stripped to role and content before sending; any attached
// context metadata must already be folded into content by the caller.
//
// With a nil sink the full response is buffered. With a non-nil sink the
// response is streamed: fragments are passed to the sink in arrival order
// and also accumulated into the returned text. Backend failures propagate;
// transient server errors are retried up to the configured limit, but never
// after the first streamed fragment has been emitted.
func (c *Client) Generate(ctx context.Context, msgs []chat.Message, tier Tier, sink func(fragment string)) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.Model(tier),
		Messages:    stripMessages(msgs),
		Temperature: c.temperature,
		Stream:      sink != nil,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		text, retryable, err := c.complete(ctx, body, sink)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// complete performs one request attempt. The second return value reports
// whether the failure is safe to retry.
func (c *Client) complete(ctx context.Context, body []byte, sink func(string)) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode >= 500, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if sink == nil {
		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return "", false, fmt.Errorf("decode response: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return "", false, fmt.Errorf("no choices in response")
		}
		return chatResp.Choices[0].Message.Content, false, nil
	}

	text, emitted, err := readStream(resp.Body, sink)
	if err != nil {
		// A stream that broke after emitting fragments cannot be retried
		// without duplicating output.
		return "", !emitted, fmt.Errorf("read stream: %w", err)
	}
	return text, false, nil
}

// readStream consumes server-sent events until the [DONE] sentinel, passing
// each fragment to the sink as it arrives.
func readStream(body io.Reader, sink func(string)) (string, bool, error) {
	var sb strings.Builder
	emitted := false

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return sb.String(), emitted, nil
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return sb.String(), emitted, fmt.Errorf("parse chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if fragment := chunk.Choices[0].Delta.Content; fragment != "" {
			sb.WriteString(fragment)
			sink(fragment)
			emitted = true
		}
	}
	if err := scanner.Err(); err != nil {
		return sb.String(), emitted, err
	}
	// Stream ended without the sentinel; treat what arrived as complete.
	return sb.String(), emitted, nil
}

func stripMessages(msgs []chat.Message) []wireMessage {
	wire := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	return wire
}
