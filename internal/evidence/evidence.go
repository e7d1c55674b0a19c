// Package evidence extracts supporting quotes from each PaperAggregate via
// a bounded pool of concurrent model calls, collating results back into
// ascending reference-number order regardless of completion order.
package evidence

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"litqa/internal/llmclient"
	"litqa/internal/logging"
	"litqa/internal/model"
)

// Extractor implements the Evidence Extractor component.
type Extractor struct {
	client     *llmclient.Client
	routes     []llmclient.ModelRoute
	maxWorkers int
}

// New builds an Extractor bounding concurrent per-paper extraction calls to
// maxWorkers.
func New(client *llmclient.Client, routes []llmclient.ModelRoute, maxWorkers int) *Extractor {
	if maxWorkers <= 0 {
		maxWorkers = 6
	}
	return &Extractor{client: client, routes: routes, maxWorkers: maxWorkers}
}

// ExtractAll runs one extraction call per PaperAggregate, bounded to
// maxWorkers concurrent calls. A single paper's failure does not fail the
// whole extraction; its quotes are simply absent from the result, and the
// failure is logged as a warning.
func (e *Extractor) ExtractAll(ctx context.Context, taskID string, query string, papers []model.PaperAggregate) (model.QuoteSet, error) {
	perPaper := make([][]model.ExtractedQuote, len(papers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for i, paper := range papers {
		i, paper := i, paper
		g.Go(func() error {
			quotes, err := e.extractOne(gctx, taskID, query, paper)
			if err != nil {
				logging.TaskLogger(ctx).Warn().Err(err).Str("paper_id", paper.Paper.PaperID).
					Int("ref_number", paper.RefNumber).Msg("evidence: extraction failed, dropping paper")
				return nil
			}
			perPaper[i] = quotes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.QuoteSet{}, err
	}

	// perPaper is indexed in input order, which Finder already guaranteed
	// is ascending RefNumber order, so a simple flatten preserves it
	// despite goroutines completing out of order.
	var all []model.ExtractedQuote
	for _, quotes := range perPaper {
		all = append(all, quotes...)
	}
	return model.QuoteSet{Quotes: all}, nil
}

func (e *Extractor) extractOne(ctx context.Context, taskID string, query string, paper model.PaperAggregate) ([]model.ExtractedQuote, error) {
	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: extractPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\nPaper: %s\n\nPassages:\n%s", query, paper.Paper.Title, paper.MergedText)},
		},
		Temperature: 0.0,
		MaxTokens:   1024,
	}

	resp, err := e.client.Complete(ctx, taskID, model.StepExtract, e.routes, req)
	if err != nil {
		return nil, err
	}

	return splitIntoQuotes(resp.Content, paper.MergedText, paper.RefNumber, paper.Paper.PaperID), nil
}

// splitIntoQuotes turns the model's free-text response into ExtractedQuote
// records, one per non-empty line, each given a fresh opaque QuoteID. A
// structured-output schema here would over-constrain short quote snippets;
// free text plus line-splitting mirrors how the teacher's tool-call
// extraction flows treat model text output as the ground truth, parsed
// rather than strictly schema-validated. A line that isn't a verbatim
// substring of the paper's merged text fails the quote contract and is
// discarded.
func splitIntoQuotes(content, mergedText string, refNumber int, paperID string) []model.ExtractedQuote {
	var quotes []model.ExtractedQuote
	line := ""
	flush := func() {
		defer func() { line = "" }()
		if line == "" || !strings.Contains(mergedText, line) {
			return
		}
		quotes = append(quotes, model.ExtractedQuote{
			QuoteID:   uuid.NewString(),
			RefNumber: refNumber,
			PaperID:   paperID,
			Text:      line,
			Claim:     line,
		})
	}
	for _, r := range content {
		if r == '\n' {
			flush()
			continue
		}
		line += string(r)
	}
	flush()
	return quotes
}

const extractPrompt = `You extract direct supporting quotes from a paper's retrieved passages
relevant to the question. Output one quote per line, verbatim from the
passages, with no numbering or commentary. Omit passages with nothing
relevant.`
