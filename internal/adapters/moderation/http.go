package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"litqa/internal/observability"
)

// HTTPFilter calls a remote content-moderation classification endpoint.
type HTTPFilter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFilter builds an HTTPFilter pointed at endpoint.
func NewHTTPFilter(endpoint string) *HTTPFilter {
	return &HTTPFilter{endpoint: endpoint, client: observability.NewHTTPClient(nil)}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

func (f *HTTPFilter) Check(ctx context.Context, query string) (Verdict, error) {
	body, err := json.Marshal(classifyRequest{Text: query})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint+"/classify", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("moderation: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed classifyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Verdict{}, fmt.Errorf("moderation: unmarshaling response: %w", err)
	}
	return Verdict{Allowed: parsed.Allow, Reason: parsed.Reason}, nil
}
