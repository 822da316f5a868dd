// Package llm provides a minimal text completion interface over hosted
// language models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/environment"
)

// ErrDisabled is returned by New when no model provider is configured.
var ErrDisabled = errors.New("language model disabled")

// ErrNoJSON is returned by ExtractJSON when the text holds no JSON object.
var ErrNoJSON = errors.New("no JSON object found")

// Completer turns a system and user prompt into a single text reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// CompleterFunc adapts a function into a Completer.
type CompleterFunc func(ctx context.Context, system, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// New builds the completer selected by cfg. API keys come from env.
func New(ctx context.Context, cfg config.ModelConfig, env environment.Provider) (Completer, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout()}
	if cfg.TimeoutSeconds <= 0 {
		httpClient.Timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "", "none":
		return nil, ErrDisabled
	case "openai":
		key, err := environment.Require(ctx, env, environment.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(key, cfg, httpClient), nil
	case "anthropic":
		key, err := environment.Require(ctx, env, environment.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		return NewAnthropic(key, cfg, httpClient), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

// ExtractJSON decodes the first JSON object embedded in text into v. Models
// tend to wrap JSON in prose or code fences.
func ExtractJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}
