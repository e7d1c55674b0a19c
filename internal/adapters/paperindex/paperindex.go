// Package paperindex adapts an external paper search API into the narrow
// interface the Paper Finder needs.
package paperindex

import (
	"context"

	"litqa/internal/model"
)

// SnippetSearchRequest drives a passage-level search against the rewritten
// query form.
type SnippetSearchRequest struct {
	Query   string
	Filters model.Filters
	Limit   int
}

// KeywordSearchRequest drives a paper-level search against the keyword
// query form.
type KeywordSearchRequest struct {
	Query   string
	Filters model.Filters
	Limit   int
}

// Index is the Paper Finder's external collaborator: a remote search API
// treated as an opaque scoring function, per the Non-goals (implementing a
// paper index or search engine is explicitly out of scope). It exposes the
// three operations the retrieval algorithm distinguishes: passage-level
// snippet search, paper-level keyword search, and a batch metadata lookup.
type Index interface {
	SnippetSearch(ctx context.Context, req SnippetSearchRequest) ([]model.CandidatePassage, error)
	KeywordSearch(ctx context.Context, req KeywordSearchRequest) ([]model.PaperRecord, error)
	FetchMetadata(ctx context.Context, paperIDs []string) (map[string]model.PaperRecord, error)
}
