package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemserve/internal/config"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "test",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func newOpenAITestClient(t *testing.T, status int, answer string) (*Client, *[]chatRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "gemma3:270m"}, {"id": "gemma3n:e2b"}},
			})
		case "/v1/chat/completions":
			var req chatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			reqs = append(reqs, req)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(chatCompletion(answer))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().LLM
	cfg.Provider = "openai"
	cfg.BaseURL = srv.URL + "/v1"
	client, err := NewClient(cfg)
	require.NoError(t, err)
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client, &reqs
}

func TestOpenAI_Generate(t *testing.T) {
	client, reqs := newOpenAITestClient(t, http.StatusOK, "<think>hmm</think>Berlin is the capital of Germany.")

	text, err := client.Generate(context.Background(), "capital of Germany?", "thinking")
	require.NoError(t, err)
	assert.Equal(t, "Berlin is the capital of Germany.", text)
	require.Len(t, *reqs, 1)
	assert.Equal(t, "gemma3n:e2b", (*reqs)[0].Model)
	require.NotEmpty(t, (*reqs)[0].Messages)
	assert.Contains(t, string((*reqs)[0].Messages[0].Content), "capital of Germany?")
}

func TestOpenAI_ServerErrorIsRetried(t *testing.T) {
	client, reqs := newOpenAITestClient(t, http.StatusInternalServerError, "")

	_, err := client.Generate(context.Background(), "q", "fast")
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, KindStatus, genErr.Kind)
	assert.Len(t, *reqs, 3)
}

func TestOpenAI_ShortAnswerIsEmpty(t *testing.T) {
	client, _ := newOpenAITestClient(t, http.StatusOK, "ok")

	_, err := client.Generate(context.Background(), "q", "fast")
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, KindEmpty, genErr.Kind)
}

func TestOpenAI_Ping(t *testing.T) {
	client, _ := newOpenAITestClient(t, http.StatusOK, "")

	models, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:270m", "gemma3n:e2b"}, models)
}
