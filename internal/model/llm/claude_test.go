package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeClient_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// 未声明 Content-Type 时同样要能解析
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ANALYSIS: "},{"type":"tool_use"},{"type":"text","text":"likely to pass"}]}`))
	}))
	defer srv.Close()

	c, err := NewClaudeClient("claude-test", "k", srv.URL)
	require.NoError(t, err)
	out, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "you analyze bills"},
		{Role: "user", Content: "HR-1"},
	}, GenerateOptions{MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "ANALYSIS: likely to pass", out)
	assert.Equal(t, "you analyze bills", got["system"])
	assert.Len(t, got["messages"], 1)
}

func TestClaudeClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c, _ := NewClaudeClient("", "k", srv.URL)
	_, err := c.Generate(context.Background(), "q", GenerateOptions{})
	assert.ErrorContains(t, err, "400")
}
