// Package llm provides the default LLM client: a thin adapter over any
// OpenAI-compatible chat completions endpoint. The runtime core depends only
// on types.LLMClient; this package is one interchangeable implementation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/types"
)

// ClientConfig configures the chat client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64

	// MaxRetries bounds the retry loop for rate limits and transient
	// transport failures.
	MaxRetries int

	// MinRequestGap spaces consecutive requests to stay polite under
	// provider rate limits.
	MinRequestGap time.Duration
}

// DefaultClientConfig returns defaults for the OpenAI endpoint.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:        apiKey,
		BaseURL:       "https://api.openai.com/v1",
		Model:         "gpt-4o",
		Timeout:       2 * time.Minute,
		MaxTokens:     4096,
		Temperature:   0.1,
		MaxRetries:    3,
		MinRequestGap: 100 * time.Millisecond,
	}
}

// Client implements types.LLMClient over HTTP.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a client, filling zero config fields from defaults.
func NewClient(cfg ClientConfig) *Client {
	defaults := DefaultClientConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRequestGap <= 0 {
		cfg.MinRequestGap = defaults.MinRequestGap
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetModel implements types.ModelController.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Model = model
}

// GetModel implements types.ModelController.
func (c *Client) GetModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Model
}

// pace enforces the minimum gap between requests.
func (c *Client) pace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < c.cfg.MinRequestGap {
		time.Sleep(c.cfg.MinRequestGap - elapsed)
	}
	c.lastRequest = time.Now()
}

// Chat sends the conversation and returns one complete turn.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (*types.Completion, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	reqBody := chatRequest{
		Model:       c.GetModel(),
		Messages:    toWireMessages(messages),
		Tools:       toWireTools(tools),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s.
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		c.pace()

		body, status, err := c.post(ctx, "/chat/completions", reqBody, "")
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("API request failed with status %d: %s", status, strings.TrimSpace(string(body)))
		}

		var resp chatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("API error: %s", resp.Error.Message)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no completion returned")
		}

		completion := fromWireMessage(resp.Choices[0], resp.Usage)
		logging.LLM("Chat completed in %v (tools=%d, text_len=%d)",
			time.Since(start), len(completion.ToolCalls), len(completion.Text))
		return completion, nil
	}

	logging.LLMError("Chat: max retries exceeded after %v: %v", time.Since(start), lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post sends one JSON request and reads the full body. accept overrides the
// Accept header for streaming requests; the caller owns status handling.
func (c *Client) post(ctx context.Context, path string, reqBody chatRequest, accept string) ([]byte, int, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
