package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaInvokeSendsMessagesAndFormat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"reply":"hi"}`},
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	out, err := client.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
	}, InvokeOptions{Model: "llama3", Temperature: 0.3, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"hi"}`, out)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.InDelta(t, 0.3, got.Options["temperature"], 1e-9)
}

func TestOllamaEmbedFallsBackToLegacyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			http.NotFound(w, r)
		case "/api/embeddings":
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2}})
		}
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(NewOllamaClient(srv.URL), "nomic-embed-text", 0)
	vec, err := e.EmbedText(context.Background(), "text", TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestGeminiInvokeMapsRoles(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-pro:generateContent"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient("k", srv.URL)
	require.NoError(t, err)
	out, err := client.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	}, InvokeOptions{Model: "models/gemini-pro", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "rules", got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Contents, 2)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMIMEType)
}

func TestGeminiErrorMessageSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient("k", srv.URL)
	require.NoError(t, err)
	_, err = client.EmbedText(context.Background(), "text-embedding-004", "x", TaskRetrievalQuery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIInvokeAgainstCompatibleServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("sk-test", srv.URL+"/v1")
	require.NoError(t, err)
	out, err := client.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "ping"}},
		InvokeOptions{Model: "gpt-4o-mini", Temperature: 0.7, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestProviderFactory(t *testing.T) {
	e, err := NewEmbedder(ProviderConfig{Provider: "hash", Dimensions: 32})
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)

	_, err = NewChatModel(ProviderConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = NewChatModel(ProviderConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	m, err := NewChatModel(ProviderConfig{Provider: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, m)
}
