package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

func sseServer(t *testing.T, status int, chunks []string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, seen))
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunk(delta string, finish string) string {
	f := "null"
	if finish != "" {
		f = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`, delta, f)
}

func drain(t *testing.T, s model.ModelStream) []model.Chunk {
	t.Helper()
	var out []model.Chunk
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, c)
	}
}

func TestStreamText(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, http.StatusOK, []string{
		chunk(`{"role":"assistant","content":"Hel"}`, ""),
		chunk(`{"content":"lo"}`, ""),
		chunk(`{}`, "stop"),
	}, &body)

	p := New(Config{APIKey: "test", BaseURL: srv.URL + "/"})
	s, err := p.Stream(t.Context(), model.Request{
		Model:        UpstreamModel,
		Instructions: "be brief",
		Messages:     []model.Message{{Role: domain.RoleUser, Content: []model.Content{{Type: domain.ContentTypeText, Text: "hi"}}}},
		Temperature:  0.5,
		MaxTokens:    500,
	})
	require.NoError(t, err)
	defer s.Close()

	chunks := drain(t, s)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Text)
	assert.Equal(t, "lo", chunks[1].Text)
	assert.Equal(t, model.ChunkFinish, chunks[2].Type)
	assert.Equal(t, domain.FinishStop, chunks[2].FinishReason)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 500, body["max_tokens"])
	assert.Equal(t, true, body["stream"])
	msgs := body["messages"].([]any)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestStreamToolCallDeltas(t *testing.T) {
	srv := sseServer(t, http.StatusOK, []string{
		chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"weatherTool","arguments":""}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]}`, ""),
		chunk(`{}`, "tool_calls"),
	}, nil)

	p := New(Config{APIKey: "test", BaseURL: srv.URL + "/"})
	s, err := p.Stream(t.Context(), model.Request{Model: UpstreamModel})
	require.NoError(t, err)
	defer s.Close()

	chunks := drain(t, s)
	require.Len(t, chunks, 5)
	assert.Equal(t, model.ChunkToolCallStart, chunks[0].Type)
	assert.Equal(t, "call_1", chunks[0].ToolCallID)
	assert.Equal(t, model.ChunkToolCallDelta, chunks[1].Type)
	assert.Equal(t, `{"city":`, chunks[1].ArgsDelta)
	assert.Equal(t, model.ChunkToolCall, chunks[3].Type)
	assert.Equal(t, map[string]any{"city": "Paris"}, chunks[3].ToolCall.Input)
	assert.Equal(t, domain.FinishToolCalls, chunks[4].FinishReason)
}

func TestStreamUpstreamError(t *testing.T) {
	srv := sseServer(t, http.StatusInternalServerError, nil, nil)
	p := New(Config{APIKey: "test", BaseURL: srv.URL + "/"})
	s, err := p.Stream(t.Context(), model.Request{Model: UpstreamModel})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	assert.Error(t, err)
}

func TestConvertMessagesToolRoundTrip(t *testing.T) {
	msgs := convertMessages("", []model.Message{
		{Role: domain.RoleAssistant, Content: []model.Content{
			{Type: domain.ContentTypeToolCall, ToolCall: &domain.ToolCall{ID: "a", Name: "web_search", Input: map[string]any{"query": "go"}}},
			{Type: domain.ContentTypeToolCall, ToolCall: &domain.ToolCall{ID: "b", Name: "weatherTool"}},
		}},
		{Role: domain.RoleTool, Content: []model.Content{
			{Type: domain.ContentTypeToolResult, ToolResult: &domain.ToolResult{ToolCallID: "a", Content: []byte(`[]`)}},
			{Type: domain.ContentTypeToolResult, ToolResult: &domain.ToolResult{ToolCallID: "b", Content: []byte(`{}`)}},
		}},
	})
	require.Len(t, msgs, 3, "one assistant message and one tool message per result")
	require.NotNil(t, msgs[0].OfAssistant)
	assert.Len(t, msgs[0].OfAssistant.ToolCalls, 2)
	assert.Equal(t, "{}", msgs[0].OfAssistant.ToolCalls[1].Function.Arguments)
	require.NotNil(t, msgs[2].OfTool)
	assert.Equal(t, "b", msgs[2].OfTool.ToolCallID)
}
