package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"gemserve/internal/config"
)

// openAIBackend serves OpenAI-compatible endpoints through langchaingo, one client per model.
type openAIBackend struct {
	baseURL string
	token   string
	llms    map[string]*openai.LLM
}

func newOpenAIBackend(cfg config.InferenceConfig) (*openAIBackend, error) {
	b := &openAIBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   strings.TrimPrefix(cfg.Key, "Bearer "),
		llms:    make(map[string]*openai.LLM),
	}
	// local OpenAI-compatible servers accept any token, but the client refuses an empty one
	token := b.token
	if token == "" {
		token = "none"
	}
	for name, m := range cfg.Modes {
		if _, ok := b.llms[m.Model]; ok {
			continue
		}
		llm, err := openai.New(
			openai.WithBaseURL(b.baseURL),
			openai.WithToken(token),
			openai.WithModel(m.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai for mode %s: %w", name, err)
		}
		b.llms[m.Model] = llm
	}
	return b, nil
}

func (b *openAIBackend) generate(ctx context.Context, model, prompt string) (string, *attemptError) {
	llm, ok := b.llms[model]
	if !ok {
		return "", &attemptError{kind: KindStatus, err: fmt.Errorf("no client for model %s", model)}
	}

	resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		if ctx.Err() != nil || isTransport(err) {
			return "", classify(ctx, err)
		}
		return "", &attemptError{kind: KindStatus, err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &attemptError{kind: KindMalformed, err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Content, nil
}

func (b *openAIBackend) ping(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed: %d", resp.StatusCode)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	names := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func isTransport(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout")
}
