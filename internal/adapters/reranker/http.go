package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"litqa/internal/model"
	"litqa/internal/observability"
)

// HTTPReranker calls a remote reranker service (the "remote_http" backend).
type HTTPReranker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPReranker builds an HTTPReranker pointed at endpoint.
func NewHTTPReranker(endpoint string) *HTTPReranker {
	return &HTTPReranker{endpoint: endpoint, client: observability.NewHTTPClient(nil)}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, passages []model.CandidatePassage) ([]model.RerankedPassage, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Passages: texts})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reranker: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reranker: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("reranker: unmarshaling response: %w", err)
	}
	if len(parsed.Scores) != len(passages) {
		return nil, fmt.Errorf("reranker: expected %d scores, got %d", len(passages), len(parsed.Scores))
	}

	return scoreAndRank(passages, parsed.Scores), nil
}

// scoreAndRank attaches scores to passages and sorts descending, assigning
// a 1-based Rank.
func scoreAndRank(passages []model.CandidatePassage, scores []float64) []model.RerankedPassage {
	out := make([]model.RerankedPassage, len(passages))
	for i, p := range passages {
		out[i] = model.RerankedPassage{CandidatePassage: p, RerankScore: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RerankScore > out[j].RerankScore })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
