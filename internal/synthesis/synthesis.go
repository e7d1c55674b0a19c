// Package synthesis generates prose for each outline section, sequentially,
// resolving citation markers against the extracted QuoteSet.
package synthesis

import (
	"context"
	"fmt"
	"regexp"

	"litqa/internal/llmclient"
	"litqa/internal/logging"
	"litqa/internal/model"
)

// Synthesizer implements the Section Synthesizer component.
type Synthesizer struct {
	client *llmclient.Client
	routes []llmclient.ModelRoute
}

// New builds a Synthesizer.
func New(client *llmclient.Client, routes []llmclient.ModelRoute) *Synthesizer {
	return &Synthesizer{client: client, routes: routes}
}

var citationPattern = regexp.MustCompile(`\[\[(q[\w-]+)\]\]`)

// SynthesizeAll generates every section's prose in outline order,
// sequentially — later sections may reference earlier ones for
// transitions, so unlike Evidence Extraction and Table Building this stage
// is not fanned out.
func (s *Synthesizer) SynthesizeAll(ctx context.Context, taskID string, query string, outline model.Outline, quotes model.QuoteSet) ([]model.GeneratedSection, error) {
	sections := make([]model.GeneratedSection, 0, len(outline.Sections))
	for _, plan := range outline.Sections {
		section, err := s.synthesizeOne(ctx, taskID, query, plan, quotes)
		if err != nil {
			logging.TaskLogger(ctx).Warn().Err(err).Str("section_id", plan.SectionID).
				Msg("synthesis: section failed, substituting fallback text")
			section = model.GeneratedSection{SectionID: plan.SectionID, Title: plan.Title, Body: fallbackSectionText}
		}
		sections = append(sections, section)
	}
	return sections, nil
}

// fallbackSectionText replaces a section's prose when its model call fails;
// the Task still completes with every other section intact.
const fallbackSectionText = "This section could not be generated."

func (s *Synthesizer) synthesizeOne(ctx context.Context, taskID string, query string, plan model.SectionPlan, quotes model.QuoteSet) (model.GeneratedSection, error) {
	evidence := ""
	for _, qid := range plan.QuoteIDs {
		q, ok := quotes.ByID(qid)
		if !ok {
			logging.TaskLogger(ctx).Warn().
				Str("section_id", plan.SectionID).
				Str("missing_quote_id", qid).
				Msg("outline referenced a quote not present in the extracted set, dropping")
			continue
		}
		evidence += fmt.Sprintf("[[%s]] (ref %d) %s\n", q.QuoteID, q.RefNumber, q.Text)
	}

	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: synthesizePrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\nSection: %s\nSummary: %s\n\nEvidence:\n%s", query, plan.Title, plan.Summary, evidence)},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
	}

	resp, err := s.client.Complete(ctx, taskID, model.StepSynthesis, s.routes, req)
	if err != nil {
		return model.GeneratedSection{}, err
	}

	body, citations := resolveCitations(ctx, resp.Content, quotes, plan)
	return model.GeneratedSection{
		SectionID: plan.SectionID,
		Title:     plan.Title,
		Body:      body,
		Citations: citations,
	}, nil
}

// resolveCitations scans body for [[quote_id]] markers, replaces each with
// a numeric citation of the quote's RefNumber, and drops any marker whose
// quote_id either isn't in the extracted set or wasn't assigned to this
// section's plan — the model can hallucinate a marker that cites a real
// quote belonging to a different section, which is just as unresolvable as
// citing a quote that doesn't exist at all.
func resolveCitations(ctx context.Context, body string, quotes model.QuoteSet, plan model.SectionPlan) (string, []model.CitationMarker) {
	allowed := make(map[string]bool, len(plan.QuoteIDs))
	for _, id := range plan.QuoteIDs {
		allowed[id] = true
	}

	var citations []model.CitationMarker
	out := citationPattern.ReplaceAllStringFunc(body, func(match string) string {
		id := citationPattern.FindStringSubmatch(match)[1]
		q, ok := quotes.ByID(id)
		if !ok || !allowed[id] {
			logging.TaskLogger(ctx).Warn().
				Str("section_id", plan.SectionID).
				Str("missing_quote_id", id).
				Msg("generated section cited a quote not assigned to this section, dropping")
			return ""
		}
		citations = append(citations, model.CitationMarker{QuoteID: id, RefNumber: q.RefNumber})
		return fmt.Sprintf("[%d]", q.RefNumber)
	})
	return out, citations
}

const synthesizePrompt = `You write one section of a scientific literature report. Use only the
provided evidence quotes. Cite a quote inline with [[quote_id]] immediately
after the sentence it supports; never cite a quote_id not listed in the
evidence. Write plain prose, no headings.`
