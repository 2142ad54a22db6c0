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

	"ratchet/internal/logging"
	"ratchet/internal/types"
)

// ChatStream sends the conversation and streams the turn back as SSE deltas.
// Both channels close when the turn ends; at most one error is delivered.
func (c *Client) ChatStream(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (<-chan types.StreamChunk, <-chan error) {
	chunks := make(chan types.StreamChunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if c.cfg.APIKey == "" {
			errs <- fmt.Errorf("API key not configured")
			return
		}
		c.pace()

		reqBody := chatRequest{
			Model:         c.GetModel(),
			Messages:      toWireMessages(messages),
			Tools:         toWireTools(tools),
			MaxTokens:     c.cfg.MaxTokens,
			Temperature:   c.cfg.Temperature,
			Stream:        true,
			StreamOptions: &streamOptions{IncludeUsage: true},
		}
		data, err := json.Marshal(reqBody)
		if err != nil {
			errs <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			errs <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- fmt.Errorf("stream request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			return
		}

		if err := c.scanSSE(ctx, resp.Body, chunks); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

// scanSSE reads the event stream line by line, translating each data payload
// into StreamChunks until the [DONE] sentinel or EOF.
func (c *Client) scanSSE(ctx context.Context, body io.Reader, chunks chan<- types.StreamChunk) error {
	scanner := bufio.NewScanner(body)
	// Tool-call argument deltas can push single events well past the default
	// token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var event chatResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			logging.LLMError("Skipping malformed stream event: %v", err)
			continue
		}
		if event.Error != nil {
			return fmt.Errorf("API error: %s", event.Error.Message)
		}

		for _, chunk := range deltaChunks(event) {
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

// deltaChunks flattens one SSE event into zero or more StreamChunks. An event
// with several tool-call fragments yields one chunk per fragment so consumers
// see a single fragment at a time.
func deltaChunks(event chatResponse) []types.StreamChunk {
	var out []types.StreamChunk
	for _, choice := range event.Choices {
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				out = append(out, types.StreamChunk{ContentDelta: choice.Delta.Content})
			}
			for i, wc := range choice.Delta.ToolCalls {
				index := i
				if wc.Index != nil {
					index = *wc.Index
				}
				out = append(out, types.StreamChunk{
					ToolCall: &types.ToolCallFragment{
						Index:     index,
						ID:        wc.ID,
						Name:      wc.Function.Name,
						ArgsDelta: wc.Function.Arguments,
					},
				})
			}
		}
		if choice.FinishReason != "" {
			out = append(out, types.StreamChunk{FinishReason: choice.FinishReason})
		}
	}
	// Usage arrives on a trailing event with an empty choices array.
	if event.Usage != nil {
		out = append(out, types.StreamChunk{Usage: &types.UsageMetadata{
			InputTokens:  event.Usage.PromptTokens,
			OutputTokens: event.Usage.CompletionTokens,
			TotalTokens:  event.Usage.TotalTokens,
		}})
	}
	return out
}
