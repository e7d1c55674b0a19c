// Package google adapts the Gemini API (google.golang.org/genai) to the llmclient.Provider interface.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"litqa/internal/llmclient"
)

// Provider wraps a Gemini client behind llmclient.Provider.
type Provider struct {
	client *genai.Client
}

// New constructs a Provider authenticated with apiKey. Gemini is used as
// the fallback tier of the primary+fallback model list.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) EstimateInputTokens(req llmclient.Request) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content) / 4
	}
	return total
}

func (p *Provider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	var contents []*genai.Content
	var systemPrompt string
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemPrompt += m.Content + "\n"
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llmclient.Response{}, fmt.Errorf("google: %w", llmclient.ErrUpstream5xx)
	}

	return llmclient.Response{
		Content: resp.Text(),
		Model:   model,
		Usage: llmclient.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		},
	}, nil
}
