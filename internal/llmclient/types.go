// Package llmclient implements the Rate-Limited Model Client: a
// multi-provider, schema-validated completion API with per-provider rate
// limiting, primary/fallback model ordering, retry with backoff, and a
// cache-aside in front of the Model-Call Cache.
package llmclient

import (
	"context"
)

// Message is one turn of a completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Request is a single completion call, optionally constrained to a JSON
// Schema for structured output.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// Schema, when non-nil, asks the provider to return JSON conforming to
	// it. SchemaName names the schema for providers that require it
	// (OpenAI's response_format, Anthropic's tool-forcing).
	Schema      map[string]any
	SchemaName  string
}

// Usage reports token accounting for a single completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a single completion call's result.
type Response struct {
	Content string
	Usage   Usage
	Model   string
}

// Provider is the narrow interface each backend (Anthropic, OpenAI, Google)
// implements. EstimateInputTokens gives the Rate-Limited Model Client a
// best-effort size to reserve against the input-token bucket before the
// call is made.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, req Request) (Response, error)
	EstimateInputTokens(req Request) int
}
