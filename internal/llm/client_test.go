package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratchet/internal/types"
)

func testClient(url string) *Client {
	return NewClient(ClientConfig{
		APIKey:        "test-key",
		BaseURL:       url,
		Model:         "test-model",
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MinRequestGap: time.Millisecond,
	})
}

func TestChat_ParsesTextAndToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Tools, 1)
		assert.False(t, req.Stream)

		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "working on it",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "create_task", "arguments": "{\"description\":\"fix parser\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	}))
	defer server.Close()

	c := testClient(server.URL)
	completion, err := c.Chat(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "go"}},
		[]types.ToolDefinition{{Name: "create_task"}})
	require.NoError(t, err)

	assert.Equal(t, "working on it", completion.Text)
	assert.Equal(t, "tool_calls", completion.FinishReason)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "create_task", completion.ToolCalls[0].Name)
	assert.Equal(t, "fix parser", completion.ToolCalls[0].Input["description"])
	assert.Equal(t, 19, completion.Usage.TotalTokens)
}

func TestChat_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	c := testClient(server.URL)
	completion, err := c.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChat_NoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request"}}`)
	}))
	defer server.Close()

	c := testClient(server.URL)
	_, err := c.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "client errors must not be retried")
}

func TestChat_APIErrorInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	}))
	defer server.Close()

	c := testClient(server.URL)
	_, err := c.Chat(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestChat_MissingAPIKey(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://unused"})
	_, err := c.Chat(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestModelController(t *testing.T) {
	c := testClient("http://unused")
	assert.Equal(t, "test-model", c.GetModel())
	c.SetModel("bigger-model")
	assert.Equal(t, "bigger-model", c.GetModel())
}

// sseBody joins events into the wire framing the scanner expects.
func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: ")
		b.WriteString(e)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestChatStream_AssemblesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"verify_task","arguments":"{\"id\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"t1\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
		))
	}))
	defer server.Close()

	c := testClient(server.URL)
	chunks, errs := c.ChatStream(context.Background(),
		[]types.Message{{Role: types.RoleUser, Content: "hi"}},
		[]types.ToolDefinition{{Name: "verify_task"}})

	var content, args strings.Builder
	var finish string
	var usage *types.UsageMetadata
	fragments := 0
	for chunk := range chunks {
		content.WriteString(chunk.ContentDelta)
		if chunk.ToolCall != nil {
			fragments++
			assert.Equal(t, 0, chunk.ToolCall.Index)
			args.WriteString(chunk.ToolCall.ArgsDelta)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	require.NoError(t, <-errs)

	assert.Equal(t, "Hello", content.String())
	assert.Equal(t, 2, fragments)
	assert.JSONEq(t, `{"id":"t1"}`, args.String())
	assert.Equal(t, "tool_calls", finish)
	require.NotNil(t, usage)
	assert.Equal(t, 8, usage.TotalTokens)
}

func TestChatStream_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "upstream down")
	}))
	defer server.Close()

	c := testClient(server.URL)
	chunks, errs := c.ChatStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)

	for range chunks {
	}
	err := <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestChatStream_SkipsMalformedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json\n\n")
		fmt.Fprint(w, "data: "+`{"choices":[{"delta":{"content":"fine"}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	c := testClient(server.URL)
	chunks, errs := c.ChatStream(context.Background(), []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)

	var content strings.Builder
	for chunk := range chunks {
		content.WriteString(chunk.ContentDelta)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "fine", content.String())
}
