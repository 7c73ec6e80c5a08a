package llmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ollamaBackend talks to the native /api/generate endpoint. Timeouts come from the context.
type ollamaBackend struct {
	baseURL string
	client  *http.Client
}

func newOllamaBackend(baseURL string) *ollamaBackend {
	return &ollamaBackend{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

func (b *ollamaBackend) generate(ctx context.Context, model, prompt string) (string, *attemptError) {
	jsonData, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", &attemptError{kind: KindMalformed, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", &attemptError{kind: KindConnection, err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &attemptError{
			kind: KindStatus,
			err:  fmt.Errorf("request failed: %d, %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", classify(ctx, err)
		}
		return "", &attemptError{kind: KindMalformed, err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return out.Response, nil
}

func (b *ollamaBackend) ping(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed: %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// classify maps a transport error onto timeout, canceled or connection.
func classify(ctx context.Context, err error) *attemptError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &attemptError{kind: KindTimeout, err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &attemptError{kind: KindCanceled, err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &attemptError{kind: KindTimeout, err: err}
	}
	return &attemptError{kind: KindConnection, err: err}
}
