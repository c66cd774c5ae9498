package llm

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/crosslation/redline/core/errors"
)

// OpenAI talks to the OpenAI chat-completions API, or any compatible
// endpoint reachable through a base URL override.
type OpenAI struct {
	model string
	opts  []option.RequestOption
}

// NewOpenAI builds the provider from cfg. The model defaults to
// DefaultOpenAIModel.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{model: model, opts: opts}
}

func (o *OpenAI) Name() string { return "openai" }

// Available fetches the configured model's metadata as a liveness probe.
func (o *OpenAI) Available(ctx context.Context) error {
	client := openai.NewClient(o.opts...)
	if _, err := client.Models.Get(ctx, o.model); err != nil {
		return errors.NewOracleUnavailable("openai", 1, err)
	}
	return nil
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	client := openai.NewClient(o.opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPreamble),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return Clean(resp.Choices[0].Message.Content), nil
}
