// Package outline clusters extracted evidence into a report outline via a
// structured-output call to the Rate-Limited Model Client.
package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/samber/lo"

	"litqa/internal/jsonschemautil"
	"litqa/internal/llmclient"
	"litqa/internal/logging"
	"litqa/internal/model"
)

var outlineSchema = jsonschema.Reflect(&model.Outline{})

// Planner implements the Outline Planner component.
type Planner struct {
	client *llmclient.Client
	routes []llmclient.ModelRoute
}

// New builds a Planner.
func New(client *llmclient.Client, routes []llmclient.ModelRoute) *Planner {
	return &Planner{client: client, routes: routes}
}

// Plan clusters quotes into sections, given the original query for framing.
func (p *Planner) Plan(ctx context.Context, taskID string, query string, quotes model.QuoteSet) (model.Outline, error) {
	schemaMap, err := jsonschemautil.AsMap(outlineSchema)
	if err != nil {
		return model.Outline{}, fmt.Errorf("outline: %w", err)
	}

	quoteJSON, err := json.Marshal(quotes)
	if err != nil {
		return model.Outline{}, fmt.Errorf("outline: marshaling quotes: %w", err)
	}

	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: planPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nExtracted evidence:\n%s", query, string(quoteJSON))},
		},
		Temperature: 0.2,
		MaxTokens:   2048,
		Schema:      schemaMap,
		SchemaName:  "outline",
	}

	var out model.Outline
	if _, err := p.client.CompleteStructured(ctx, taskID, model.StepOutline, p.routes, req, &out); err != nil {
		if errors.Is(err, llmclient.ErrSchemaViolation) {
			logging.TaskLogger(ctx).Warn().Err(err).
				Msg("outline: schema violation after retries, degrading to single Summary section")
			return fallbackOutline(quotes), nil
		}
		return model.Outline{}, fmt.Errorf("outline: %w", err)
	}
	return validate(ctx, out, quotes), nil
}

// validate enforces the outline's structural invariants against the
// extracted QuoteSet: every quote id must appear in exactly one section
// (first placement wins, later duplicates are dropped), sections left
// empty afterward are removed, and duplicate section titles are
// disambiguated with a " (N)" suffix. Any known quote id left unplaced by
// the model is logged as a warning.
func validate(ctx context.Context, out model.Outline, quotes model.QuoteSet) model.Outline {
	known := make(map[string]bool, len(quotes.Quotes))
	for _, q := range quotes.Quotes {
		known[q.QuoteID] = true
	}

	placed := make(map[string]bool, len(quotes.Quotes))
	titleCount := make(map[string]int)
	sections := make([]model.SectionPlan, 0, len(out.Sections))
	for _, sec := range out.Sections {
		kept := lo.Filter(sec.QuoteIDs, func(id string, _ int) bool {
			if !known[id] || placed[id] {
				return false
			}
			placed[id] = true
			return true
		})
		if len(kept) == 0 {
			logging.TaskLogger(ctx).Warn().Str("section_id", sec.SectionID).
				Msg("outline: section left with no valid quotes after validation, dropping")
			continue
		}
		sec.QuoteIDs = kept

		titleCount[sec.Title]++
		if n := titleCount[sec.Title]; n > 1 {
			sec.Title = fmt.Sprintf("%s (%d)", sec.Title, n)
		}
		sections = append(sections, sec)
	}

	unplaced := lo.Filter(lo.Keys(known), func(id string, _ int) bool { return !placed[id] })
	for _, id := range unplaced {
		logging.TaskLogger(ctx).Warn().Str("quote_id", id).
			Msg("outline: extracted quote was never placed in a section")
	}

	out.Sections = sections
	return out
}

// fallbackOutline is the degrade path when the model can't produce a valid
// Outline: every extracted quote lands in one "Summary" section, in
// ascending reference-number order.
func fallbackOutline(quotes model.QuoteSet) model.Outline {
	sorted := append([]model.ExtractedQuote{}, quotes.Quotes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RefNumber < sorted[j].RefNumber })

	ids := lo.Map(sorted, func(q model.ExtractedQuote, _ int) string { return q.QuoteID })
	return model.Outline{
		Title: "Summary",
		Sections: []model.SectionPlan{
			{SectionID: "summary", Title: "Summary", QuoteIDs: ids},
		},
	}
}

const planPrompt = `You organize extracted evidence quotes into a report outline. Group
related quotes into sections with a short title and one-sentence summary.
Mark a section IsList when it naturally compares multiple papers along
shared dimensions (methods, datasets, results) — these sections later get a
comparison table. Reference only quote_ids present in the evidence; do not
invent ones. Respond only with the JSON object.`
