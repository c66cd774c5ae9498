// Package llm provides the language-model backends behind the semantic
// oracle and the translator. Two providers are supported: an OpenAI-style
// API through the official SDK and a local Ollama server. Both return
// cleaned plain text; prompt construction and answer parsing live with
// the callers.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/crosslation/redline/core/errors"
)

// Provider is a minimal completion backend.
type Provider interface {
	// Name identifies the backend in logs and reports.
	Name() string
	// Available probes the backend without issuing a completion.
	Available(ctx context.Context) error
	// Complete sends one prompt and returns the cleaned response text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and tunes a provider. The zero value picks a local
// Ollama server with the default model.
type Config struct {
	Provider  string        // "openai", "ollama", or empty for automatic
	Model     string        // backend-specific model name
	BaseURL   string        // API endpoint override
	APIKey    string        // OpenAI-style API key
	MaxTokens int           // completion length cap
	Timeout   time.Duration // per-request HTTP timeout
}

const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultOllamaModel = "deepseek-r1:1.5b"
	DefaultOllamaURL   = "http://localhost:11434"

	defaultMaxTokens = 500
	defaultTimeout   = 30 * time.Second
)

// systemPreamble frames every completion so small models stay on task.
const systemPreamble = "You are a professional document processing assistant. " +
	"Follow instructions precisely and respond only with the requested information, " +
	"with no additional commentary."

// New builds the configured provider. With no explicit choice, an API key
// selects OpenAI and its absence selects Ollama.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.NewValidation("api-key", "openai provider requires an API key")
		}
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "":
		if cfg.APIKey != "" {
			return NewOpenAI(cfg), nil
		}
		return NewOllama(cfg), nil
	default:
		return nil, errors.NewValidation("provider", fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}
