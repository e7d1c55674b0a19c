// Package paperfinder retrieves candidate passages for a DecomposedQuery's
// rewritten and keyword query forms, reranks the pool, and groups survivors
// into per-paper aggregates addressable by a stable citation reference
// number.
package paperfinder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"litqa/internal/adapters/paperindex"
	"litqa/internal/adapters/reranker"
	"litqa/internal/logging"
	"litqa/internal/model"
)

// ErrRetrievalUnavailable means snippet_search failed permanently; there is
// no candidate pool to rerank and the stage fails outright.
var ErrRetrievalUnavailable = errors.New("paperfinder: retrieval unavailable")

// Finder implements the Paper Finder component.
type Finder struct {
	index      paperindex.Index
	reranker   reranker.Reranker
	nRetrieval int
	topK       int
	minScore   float64
	maxPapers  int
}

// Config bounds retrieval and rerank behavior.
type Config struct {
	NRetrieval int
	TopK       int
	MinScore   float64
	MaxPapers  int
}

// New builds a Finder.
func New(index paperindex.Index, rr reranker.Reranker, cfg Config) *Finder {
	return &Finder{
		index:      index,
		reranker:   rr,
		nRetrieval: cfg.NRetrieval,
		topK:       cfg.TopK,
		minScore:   cfg.MinScore,
		maxPapers:  cfg.MaxPapers,
	}
}

// Find runs the search->rerank->group pipeline for a DecomposedQuery,
// returning PaperAggregates ordered by ascending RefNumber (i.e. in
// descending aggregate-score order, matching the spec's citation numbering
// rule).
func (f *Finder) Find(ctx context.Context, originalQuery string, dq model.DecomposedQuery) ([]model.PaperAggregate, error) {
	candidates, metadata, err := f.searchBothForms(ctx, dq)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	candidates = dedupeByPassageID(candidates)

	reranked, err := f.reranker.Rerank(ctx, originalQuery, candidates)
	if err != nil {
		logging.TaskLogger(ctx).Warn().Err(err).Msg("paperfinder: rerank failed, falling back to retrieval order")
		reranked, _ = reranker.Noop{}.Rerank(ctx, originalQuery, candidates)
		maxScore := 0.0
		for _, p := range reranked {
			if p.RerankScore > maxScore {
				maxScore = p.RerankScore
			}
		}
		for i := range reranked {
			if maxScore > 0 {
				reranked[i].RerankScore /= maxScore
			}
		}
	}

	reranked = filterByScore(reranked, f.minScore)
	return f.groupByPaper(ctx, reranked, metadata)
}

// searchBothForms issues snippet_search (rewritten query) and keyword_search
// (keyword query) in parallel. A snippet_search failure fails the whole
// stage with ErrRetrievalUnavailable; a keyword_search failure is
// non-fatal, proceeding with snippet results only. Keyword hits without a
// matching snippet contribute a synthetic abstract-kind passage, and their
// PaperRecord is returned directly since keyword_search already carries
// full metadata.
func (f *Finder) searchBothForms(ctx context.Context, dq model.DecomposedQuery) ([]model.CandidatePassage, map[string]model.PaperRecord, error) {
	var snippets []model.CandidatePassage
	var snippetErr error
	var keywordPapers []model.PaperRecord
	var keywordErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snippets, snippetErr = f.index.SnippetSearch(gctx, paperindex.SnippetSearchRequest{
			Query:   dq.RewrittenQuery,
			Filters: dq.Filters,
			Limit:   f.nRetrieval,
		})
		return nil
	})
	g.Go(func() error {
		keywordPapers, keywordErr = f.index.KeywordSearch(gctx, paperindex.KeywordSearchRequest{
			Query:   dq.KeywordQuery,
			Filters: dq.Filters,
			Limit:   f.nRetrieval,
		})
		return nil
	})
	_ = g.Wait()

	if snippetErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, snippetErr)
	}

	metadata := make(map[string]model.PaperRecord)
	all := append([]model.CandidatePassage{}, snippets...)
	if keywordErr != nil {
		logging.TaskLogger(ctx).Warn().Err(keywordErr).Msg("paperfinder: keyword_search failed, proceeding with snippet results only")
	} else {
		for _, paper := range keywordPapers {
			metadata[paper.PaperID] = paper
			all = append(all, model.CandidatePassage{
				PaperID:    paper.PaperID,
				PassageID:  paper.PaperID + "-abstract",
				Text:       paper.Abstract,
				Kind:       "abstract",
				SourceTerm: dq.KeywordQuery,
			})
		}
	}
	return all, metadata, nil
}

// dedupeByPassageID deduplicates candidates by (paper id, passage id),
// keeping the first occurrence — snippets are appended before the
// keyword-synthesized abstracts, so a snippet wins any tie.
func dedupeByPassageID(passages []model.CandidatePassage) []model.CandidatePassage {
	seen := make(map[string]bool, len(passages))
	out := make([]model.CandidatePassage, 0, len(passages))
	for _, p := range passages {
		key := p.PaperID + "\x00" + p.PassageID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func filterByScore(passages []model.RerankedPassage, minScore float64) []model.RerankedPassage {
	if minScore <= 0 {
		return passages
	}
	out := make([]model.RerankedPassage, 0, len(passages))
	for _, p := range passages {
		if p.RerankScore >= minScore {
			out = append(out, p)
		}
	}
	return out
}

// groupByPaper groups passages by paper, batch-fetches metadata for any
// paper not already known (keyword_search hits arrive with metadata
// attached; snippet-only hits don't), retains the top-K passages per paper
// by rerank score, concatenates their text into MergedText, and assigns
// reference numbers densely from 1 in descending aggregate-score order.
func (f *Finder) groupByPaper(ctx context.Context, passages []model.RerankedPassage, metadata map[string]model.PaperRecord) ([]model.PaperAggregate, error) {
	grouped := make(map[string][]model.RerankedPassage)
	var order []string
	for _, p := range passages {
		if _, ok := grouped[p.PaperID]; !ok {
			order = append(order, p.PaperID)
		}
		grouped[p.PaperID] = append(grouped[p.PaperID], p)
	}

	var missing []string
	for _, paperID := range order {
		if _, ok := metadata[paperID]; !ok {
			missing = append(missing, paperID)
		}
	}
	if len(missing) > 0 {
		fetched, err := f.index.FetchMetadata(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("paperfinder: fetch metadata: %w", err)
		}
		for id, rec := range fetched {
			metadata[id] = rec
		}
	}

	type scoredPaper struct {
		paperID  string
		passages []model.RerankedPassage
		score    float64
	}
	entries := make([]scoredPaper, 0, len(order))
	for _, paperID := range order {
		ps := grouped[paperID]
		sort.Slice(ps, func(i, j int) bool { return ps[i].RerankScore > ps[j].RerankScore })
		if f.topK > 0 && len(ps) > f.topK {
			ps = ps[:f.topK]
		}
		entries = append(entries, scoredPaper{paperID: paperID, passages: ps, score: ps[0].RerankScore})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })
	if f.maxPapers > 0 && len(entries) > f.maxPapers {
		entries = entries[:f.maxPapers]
	}

	aggregates := make([]model.PaperAggregate, len(entries))
	for i, e := range entries {
		aggregates[i] = model.PaperAggregate{
			RefNumber:  i + 1,
			Paper:      metadata[e.paperID],
			Passages:   e.passages,
			MergedText: mergeText(e.passages),
		}
	}
	return aggregates, nil
}

// mergeText concatenates a paper's kept passages with a deterministic
// separator, in the order they were sorted (descending rerank score).
func mergeText(passages []model.RerankedPassage) string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	return strings.Join(texts, "\n---\n")
}
