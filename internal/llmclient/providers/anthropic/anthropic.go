// Package anthropic adapts the Anthropic Messages API to the llmclient.Provider interface.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"litqa/internal/llmclient"
)

// Provider wraps an Anthropic client behind llmclient.Provider.
type Provider struct {
	client anthropic.Client
}

// New constructs a Provider authenticated with apiKey.
func New(apiKey string) *Provider {
	return &Provider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Provider) Name() string { return "anthropic" }

// EstimateInputTokens uses a cheap 4-chars-per-token heuristic; no exact
// preflight count is made.
func (p *Provider) EstimateInputTokens(req llmclient.Request) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content) / 4
	}
	return total
}

func (p *Provider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	var systemBlocks []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if req.Schema != nil {
		// Structured output is requested via a forced tool call matching
		// req.Schema; the tool's single argument carries the full payload.
		params.Tools = []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        req.SchemaName,
					Description: anthropic.String("Return the answer matching the required schema."),
					InputSchema: anthropic.ToolInputSchemaParam{Properties: req.Schema},
				},
			},
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.SchemaName},
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llmclient.Response{}, fmt.Errorf("anthropic: %w", llmclient.ErrUpstream5xx)
	}

	content := extractContent(msg, req.Schema != nil)
	return llmclient.Response{
		Content: content,
		Model:   model,
		Usage: llmclient.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// extractContent pulls either the forced tool-call's JSON input (structured
// mode) or the concatenated text blocks (free-form mode) out of a message.
func extractContent(msg *anthropic.Message, structured bool) string {
	if structured {
		for _, block := range msg.Content {
			if tu := block.AsToolUse(); tu.Input != nil {
				return string(tu.Input)
			}
		}
	}
	var out string
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			out += tb.Text
		}
	}
	return out
}
