package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchToolDef() ToolDefinition {
	return ToolDefinition{
		Name:        "web_search",
		Description: "Search the web",
		Parameters: ParameterSchema{
			Type: "object",
			Properties: map[string]ParameterProperty{
				"query": {Type: "string", Description: "search query"},
			},
			Required: []string{"query"},
		},
	}
}

func TestOpenAIAdapter_Generate_PlainReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Tools)

		fmt.Fprint(w, `{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "hi!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 3, "total_tokens": 23}
		}`)
	}))
	defer srv.Close()

	adapter, err := NewOpenAIAdapter(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	result, err := adapter.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hi!", result.Reply)
	assert.Empty(t, result.ToolCalls)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 23, result.Usage.TotalTokens)
}

func TestOpenAIAdapter_Generate_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "function", req.Tools[0].Type)
		assert.Equal(t, "web_search", req.Tools[0].Function.Name)

		fmt.Fprint(w, `{
			"model": "gpt-4o-mini",
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "web_search", "arguments": "{\"query\":\"current weather\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60}
		}`)
	}))
	defer srv.Close()

	adapter, err := NewOpenAIAdapter(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	result, err := adapter.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "weather?"}},
		Tools:    []ToolDefinition{searchToolDef()},
	})
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "web_search", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"current weather"}`, string(result.ToolCalls[0].Arguments))
}

func TestOpenAIAdapter_Generate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model": "gpt-4o-mini", "choices": []}`)
	}))
	defer srv.Close()

	adapter, err := NewOpenAIAdapter(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIAdapter_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	adapter, err := NewOpenAIAdapter(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	ch, err := adapter.GenerateStream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var sawDone bool
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Delta
		if chunk.Done {
			sawDone = true
		}
	}

	assert.Equal(t, "Hello", text)
	assert.True(t, sawDone)
}
