package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/crosslation/redline/core/errors"
)

// Ollama talks to a local Ollama server over its generate API.
type Ollama struct {
	baseURL   string
	model     string
	maxTokens int
	hc        *http.Client
}

// NewOllama builds the provider from cfg, defaulting to a localhost
// server and DefaultOllamaModel.
func NewOllama(cfg Config) *Ollama {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Ollama{
		baseURL:   base,
		model:     model,
		maxTokens: maxTokens,
		hc:        &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Available checks that the server answers and that the configured model
// family is pulled.
func (o *Ollama) Available(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return errors.NewOracleUnavailable("ollama", 1, err)
	}
	resp, err := o.hc.Do(req)
	if err != nil {
		return errors.NewOracleUnavailable("ollama", 1, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.NewOracleUnavailable("ollama", 1, fmt.Errorf("/api/tags returned %d", resp.StatusCode))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return errors.NewOracleUnavailable("ollama", 1, fmt.Errorf("decode /api/tags: %w", err))
	}
	family := strings.SplitN(o.model, ":", 2)[0]
	for _, m := range tags.Models {
		if strings.HasPrefix(m.Name, family) {
			return nil
		}
	}
	return errors.NewOracleUnavailable("ollama", 1, fmt.Errorf("model %s not pulled", o.model))
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: systemPreamble + "\n\n" + prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  o.maxTokens,
			Temperature: 0.1,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("ollama /api/generate returned %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("decode /api/generate: %w", err)
	}
	return Clean(gen.Response), nil
}
