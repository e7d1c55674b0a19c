// Package openai adapts the OpenAI Chat Completions API to the llmclient.Provider interface.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"litqa/internal/llmclient"
)

// Provider wraps an OpenAI client behind llmclient.Provider.
type Provider struct {
	client openai.Client
}

// New constructs a Provider authenticated with apiKey.
func New(apiKey string) *Provider {
	return &Provider{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) EstimateInputTokens(req llmclient.Request) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content) / 4
	}
	return total
}

func (p *Provider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llmclient.Response{}, fmt.Errorf("openai: %w", llmclient.ErrUpstream5xx)
	}
	if len(resp.Choices) == 0 {
		return llmclient.Response{}, fmt.Errorf("openai: no choices returned")
	}

	return llmclient.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: llmclient.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
