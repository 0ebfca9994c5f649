package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/herald/pkg/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultModel is used when Config.Model is empty
const DefaultModel = "gpt-4o-mini"

// Config holds OpenAI-compatible endpoint settings
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
}

// OpenAI is a Generator backed by an OpenAI-compatible chat completions API
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a generator for cfg
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Generate implements Generator
func (o *OpenAI) Generate(ctx context.Context, prompt string, instruction Instruction, schema json.RawMessage) (string, error) {
	system, err := systemPrompt(instruction, schema)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	out := resp.Choices[0].Message.Content
	logger := log.WithComponent("llm")
	logger.Debug().
		Str("instruction", string(instruction)).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Msg("Generated completion")

	if len(schema) > 0 {
		return ExtractJSON(out)
	}
	return out, nil
}
