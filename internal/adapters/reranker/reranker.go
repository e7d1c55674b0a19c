// Package reranker adapts a passage-scoring backend into the interface the
// Paper Finder uses to re-score candidate passages after retrieval.
package reranker

import (
	"context"

	"litqa/internal/model"
)

// Reranker scores a query against a batch of candidate passages and
// returns them annotated with a rerank score and rank, highest score first.
// Implementing an actual reranker model is out of scope; every backend
// here treats scoring as an external collaborator (remote HTTP service,
// an ephemeral in-process vector index, or a no-op passthrough for tests
// and offline runs).
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []model.CandidatePassage) ([]model.RerankedPassage, error)
}
