package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"gemserve/internal/config"
	"gemserve/internal/models"
)

var thinkTagRe = regexp.MustCompile(models.ThinkTag)

// ErrorKind classifies why a generation attempt failed.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindStatus     ErrorKind = "status"
	KindMalformed  ErrorKind = "malformed"
	KindEmpty      ErrorKind = "empty"
	KindCanceled   ErrorKind = "canceled"
)

// GenerationError is returned once every attempt has failed. Kind is the category of the
// last failure.
type GenerationError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s) [%s]: %v", e.Attempts, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// attemptError is the outcome of a single failed request.
type attemptError struct {
	kind ErrorKind
	err  error
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

// backend performs one non-streaming generation request.
type backend interface {
	generate(ctx context.Context, model, prompt string) (string, *attemptError)
	ping(ctx context.Context) ([]string, error)
}

// Client sends prompts to the inference server with the mode's model and timeout, retrying a
// bounded number of times with a fixed delay.
type Client struct {
	cfg     config.InferenceConfig
	backend backend
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.InferenceConfig) (*Client, error) {
	var b backend
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		b = newOllamaBackend(cfg.BaseURL)
	case "openai":
		ob, err := newOpenAIBackend(cfg)
		if err != nil {
			return nil, err
		}
		b = ob
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}

	log.Debug().Interface("config", map[string]any{
		"provider":     cfg.Provider,
		"base_url":     cfg.BaseURL,
		"default_mode": cfg.DefaultMode,
		"max_retries":  cfg.MaxRetries,
		"retry_delay":  cfg.RetryDelay.String(),
	}).Msg("Creating llm client")

	return &Client{cfg: cfg, backend: b, sleep: sleepContext}, nil
}

// Generate returns the model's answer for prompt. Unknown modes use the default mode. It makes
// at most max_retries+1 attempts; the final failure is a *GenerationError.
func (c *Client) Generate(ctx context.Context, prompt, mode string) (string, error) {
	name, m := c.cfg.Mode(mode)
	attempts := c.cfg.MaxRetries + 1

	var last *attemptError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return "", &GenerationError{Kind: KindCanceled, Attempts: attempt - 1, Err: err}
			}
		}

		start := time.Now()
		text, err := c.attempt(ctx, m, prompt)
		if err == nil {
			log.Debug().Str("mode", name).Str("model", m.Model).Int("attempt", attempt).
				Dur("took", time.Since(start)).Int("chars", len(text)).Msg("Generated response")
			return text, nil
		}
		last = err
		log.Warn().Err(err.err).Str("mode", name).Str("model", m.Model).Str("kind", string(err.kind)).
			Int("attempt", attempt).Int("max_attempts", attempts).Msg("Generation attempt failed")

		if ctx.Err() != nil {
			return "", &GenerationError{Kind: KindCanceled, Attempts: attempt, Err: ctx.Err()}
		}
	}
	return "", &GenerationError{Kind: last.kind, Attempts: attempts, Err: last.err}
}

func (c *Client) attempt(ctx context.Context, m config.ModeConfig, prompt string) (string, *attemptError) {
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	text, err := c.backend.generate(ctx, m.Model, prompt)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
	if text == "" {
		return "", &attemptError{kind: KindEmpty, err: errors.New("empty response")}
	}
	if n := utf8.RuneCountInString(text); n < c.cfg.MinResponseChars {
		return "", &attemptError{kind: KindEmpty, err: fmt.Errorf("response too short (%d chars)", n)}
	}
	return text, nil
}

// Reply never fails: it returns the answer and true, or a user-facing error message and false.
func (c *Client) Reply(ctx context.Context, prompt, mode string) (string, bool) {
	text, err := c.Generate(ctx, prompt, mode)
	if err == nil {
		return text, true
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return ErrorMessage(genErr.Kind), false
	}
	return ErrorMessage(""), false
}

// ErrorMessage is the text shown to the user for a failure category.
func ErrorMessage(kind ErrorKind) string {
	switch kind {
	case KindConnection:
		return "❌ Error: Cannot connect to the model server. Make sure Ollama is running."
	case KindTimeout:
		return "❌ Error: Request timed out. The model might still be processing."
	case KindStatus:
		return "❌ Error: The model server rejected the request. Check that the model is installed."
	case KindMalformed:
		return "❌ Error: Received an invalid response from the model server."
	case KindEmpty:
		return "❌ Error: The model returned an empty response. Please try again."
	case KindCanceled:
		return "⚠️ Request cancelled."
	default:
		return "❌ Error: Sorry, I couldn't generate a response."
	}
}

// Ping lists the models the server has available.
func (c *Client) Ping(ctx context.Context) ([]string, error) {
	return c.backend.ping(ctx)
}

// Models returns the configured model for every mode, keyed by mode name.
func (c *Client) Models() map[string]string {
	out := make(map[string]string, len(c.cfg.Modes))
	for name, m := range c.cfg.Modes {
		out[name] = m.Model
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
