package paperindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"litqa/internal/model"
	"litqa/internal/observability"
)

// HTTPIndex calls a remote paper search API over a plain REST interface,
// matching the raw net/http idiom internal/llm/completions.go uses for the
// OpenAI-compatible completions endpoint (no SDK exists in the pack for an
// arbitrary paper index, so the request/response plumbing is hand-rolled
// the same way).
type HTTPIndex struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPIndex builds an HTTPIndex pointed at endpoint.
func NewHTTPIndex(endpoint, apiKey string) *HTTPIndex {
	return &HTTPIndex{endpoint: endpoint, apiKey: apiKey, client: observability.NewHTTPClient(nil)}
}

type snippetSearchRequestBody struct {
	Query   string        `json:"query"`
	Filters model.Filters `json:"filters"`
	Limit   int           `json:"limit"`
}

// SnippetSearch hits the passage-level search endpoint with the rewritten
// query form.
func (h *HTTPIndex) SnippetSearch(ctx context.Context, req SnippetSearchRequest) ([]model.CandidatePassage, error) {
	body, err := json.Marshal(snippetSearchRequestBody{Query: req.Query, Filters: req.Filters, Limit: req.Limit})
	if err != nil {
		return nil, fmt.Errorf("paperindex: marshaling snippet search request: %w", err)
	}

	var passages []model.CandidatePassage
	if err := h.post(ctx, "/snippet_search", body, &passages); err != nil {
		return nil, err
	}
	for i := range passages {
		passages[i].SourceTerm = req.Query
		if passages[i].Kind == "" {
			passages[i].Kind = "body"
		}
	}
	return passages, nil
}

type keywordSearchRequestBody struct {
	Query   string        `json:"query"`
	Filters model.Filters `json:"filters"`
	Limit   int           `json:"limit"`
}

// KeywordSearch hits the paper-level search endpoint with the keyword query
// form, returning matches with metadata and abstracts.
func (h *HTTPIndex) KeywordSearch(ctx context.Context, req KeywordSearchRequest) ([]model.PaperRecord, error) {
	body, err := json.Marshal(keywordSearchRequestBody{Query: req.Query, Filters: req.Filters, Limit: req.Limit})
	if err != nil {
		return nil, fmt.Errorf("paperindex: marshaling keyword search request: %w", err)
	}

	var papers []model.PaperRecord
	if err := h.post(ctx, "/keyword_search", body, &papers); err != nil {
		return nil, err
	}
	return papers, nil
}

type fetchMetadataRequestBody struct {
	PaperIDs []string `json:"paper_ids"`
}

// FetchMetadata batch-looks-up paper records by corpus id.
func (h *HTTPIndex) FetchMetadata(ctx context.Context, paperIDs []string) (map[string]model.PaperRecord, error) {
	out := make(map[string]model.PaperRecord, len(paperIDs))
	if len(paperIDs) == 0 {
		return out, nil
	}

	body, err := json.Marshal(fetchMetadataRequestBody{PaperIDs: paperIDs})
	if err != nil {
		return nil, fmt.Errorf("paperindex: marshaling fetch metadata request: %w", err)
	}

	var papers []model.PaperRecord
	if err := h.post(ctx, "/fetch_metadata", body, &papers); err != nil {
		return nil, err
	}
	for _, p := range papers {
		out[p.PaperID] = p
	}
	return out, nil
}

func (h *HTTPIndex) post(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("paperindex: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	h.setHeaders(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("paperindex: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("paperindex: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("paperindex: status %d: %s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

func (h *HTTPIndex) setHeaders(req *http.Request) {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
}
