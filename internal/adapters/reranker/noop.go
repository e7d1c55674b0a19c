package reranker

import (
	"context"

	"litqa/internal/model"
)

// Noop ranks passages by their original retrieval score, unchanged. Used
// in tests and for offline runs where no reranker backend is configured.
type Noop struct{}

func (Noop) Rerank(ctx context.Context, query string, passages []model.CandidatePassage) ([]model.RerankedPassage, error) {
	scores := make([]float64, len(passages))
	for i, p := range passages {
		scores[i] = p.Score
	}
	return scoreAndRank(passages, scores), nil
}
