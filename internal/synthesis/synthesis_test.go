package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"litqa/internal/llmclient"
	"litqa/internal/model"
	"litqa/internal/ratelimit"
)

type stubProvider struct {
	content string
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	return llmclient.Response{Content: s.content, Model: model}, nil
}
func (s *stubProvider) EstimateInputTokens(req llmclient.Request) int { return 10 }

func newTestClient(content string) *llmclient.Client {
	provider := &stubProvider{content: content}
	limiters := map[string]*ratelimit.Limiter{"stub": ratelimit.New(ratelimit.Config{RPM: 600, ITPM: 100000, OTPM: 100000})}
	return llmclient.New(map[string]llmclient.Provider{"stub": provider}, limiters, nil, nil, 1)
}

func TestSynthesizeAllResolvesCitations(t *testing.T) {
	client := newTestClient("Finding one [[q1]] and finding two [[q2]].")
	s := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}})

	quotes := model.QuoteSet{Quotes: []model.ExtractedQuote{
		{QuoteID: "q1", RefNumber: 1, Text: "evidence one"},
		{QuoteID: "q2", RefNumber: 2, Text: "evidence two"},
	}}
	outline := model.Outline{Sections: []model.SectionPlan{
		{SectionID: "s1", Title: "Findings", QuoteIDs: []string{"q1", "q2"}},
	}}

	sections, err := s.SynthesizeAll(context.Background(), "t1", "query", outline, quotes)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Contains(t, sections[0].Body, "[1]")
	require.Contains(t, sections[0].Body, "[2]")
	require.Len(t, sections[0].Citations, 2)
}

func TestSynthesizeAllDropsDanglingQuoteReference(t *testing.T) {
	client := newTestClient("Only partial evidence [[q1]] and a ghost [[q-missing]].")
	s := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}})

	quotes := model.QuoteSet{Quotes: []model.ExtractedQuote{{QuoteID: "q1", RefNumber: 1, Text: "real evidence"}}}
	outline := model.Outline{Sections: []model.SectionPlan{{SectionID: "s1", Title: "Findings", QuoteIDs: []string{"q1", "q-missing"}}}}

	sections, err := s.SynthesizeAll(context.Background(), "t1", "query", outline, quotes)
	require.NoError(t, err)
	require.NotContains(t, sections[0].Body, "q-missing")
	require.Len(t, sections[0].Citations, 1)
}

func TestSynthesizeAllStripsCitationToQuoteFromAnotherSection(t *testing.T) {
	// q2 exists in the extracted QuoteSet but is assigned to s2, not s1 —
	// a model hallucinating [[q2]] inside s1's body must not get it resolved.
	client := newTestClient("Section one finding [[q1]] and a borrowed one [[q2]].")
	s := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}})

	quotes := model.QuoteSet{Quotes: []model.ExtractedQuote{
		{QuoteID: "q1", RefNumber: 1, Text: "evidence one"},
		{QuoteID: "q2", RefNumber: 2, Text: "evidence two"},
	}}
	outline := model.Outline{Sections: []model.SectionPlan{
		{SectionID: "s1", Title: "Findings", QuoteIDs: []string{"q1"}},
	}}

	sections, err := s.SynthesizeAll(context.Background(), "t1", "query", outline, quotes)
	require.NoError(t, err)
	require.Contains(t, sections[0].Body, "[1]")
	require.NotContains(t, sections[0].Body, "[2]")
	require.Len(t, sections[0].Citations, 1)
}

type failingSectionProvider struct {
	failTitle string
}

func (p *failingSectionProvider) Name() string { return "stub" }
func (p *failingSectionProvider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	if strings.Contains(req.Messages[1].Content, "Section: "+p.failTitle) {
		return llmclient.Response{}, errors.New("upstream exploded")
	}
	return llmclient.Response{Content: "Generated body for " + p.failTitle}, nil
}
func (p *failingSectionProvider) EstimateInputTokens(req llmclient.Request) int { return 10 }

func TestSynthesizeAllDegradesFailingSectionToFallbackAndContinues(t *testing.T) {
	provider := &failingSectionProvider{failTitle: "Broken"}
	limiters := map[string]*ratelimit.Limiter{"stub": ratelimit.New(ratelimit.Config{RPM: 600, ITPM: 100000, OTPM: 100000})}
	client := llmclient.New(map[string]llmclient.Provider{"stub": provider}, limiters, nil, nil, 1)
	s := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}})

	quotes := model.QuoteSet{Quotes: []model.ExtractedQuote{{QuoteID: "q1", RefNumber: 1, Text: "evidence"}}}
	outline := model.Outline{Sections: []model.SectionPlan{
		{SectionID: "s1", Title: "Intro", QuoteIDs: []string{"q1"}},
		{SectionID: "s2", Title: "Broken", QuoteIDs: []string{"q1"}},
		{SectionID: "s3", Title: "Conclusion", QuoteIDs: []string{"q1"}},
	}}

	sections, err := s.SynthesizeAll(context.Background(), "t1", "query", outline, quotes)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	require.Contains(t, sections[0].Body, "Intro")
	require.Equal(t, fallbackSectionText, sections[1].Body)
	require.Contains(t, sections[2].Body, "Conclusion")
}
