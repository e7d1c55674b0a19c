package tablebuilder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"litqa/internal/llmclient"
	"litqa/internal/model"
	"litqa/internal/ratelimit"
)

type scriptedProvider struct {
	columns string
	cell    string
}

func (p *scriptedProvider) Name() string { return "stub" }

func (p *scriptedProvider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	user := req.Messages[len(req.Messages)-1].Content
	if strings.HasPrefix(user, "Section:") {
		return llmclient.Response{Content: p.columns}, nil
	}
	return llmclient.Response{Content: p.cell}, nil
}

func (p *scriptedProvider) EstimateInputTokens(req llmclient.Request) int { return 10 }

func newTestClient(provider llmclient.Provider) *llmclient.Client {
	limiters := map[string]*ratelimit.Limiter{"stub": ratelimit.New(ratelimit.Config{RPM: 6000, ITPM: 1000000, OTPM: 1000000})}
	return llmclient.New(map[string]llmclient.Provider{"stub": provider}, limiters, nil, nil, 1)
}

func TestBuildProducesTableWithNormalizedCells(t *testing.T) {
	provider := &scriptedProvider{columns: "Dataset|text\nAccuracy|number", cell: "0.95"}
	client := newTestClient(provider)
	b := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 4, 6, 50)

	papers := []model.PaperAggregate{{RefNumber: 1, Paper: model.PaperRecord{Title: "Paper One"}}}
	plan := model.SectionPlan{SectionID: "s1", Title: "Comparison", IsList: true}

	table, err := b.Build(context.Background(), "t1", plan, papers, model.QuoteSet{})
	require.NoError(t, err)
	require.Len(t, table.Columns, 2)
	require.Len(t, table.Rows, 1)
	for _, cell := range table.Rows[0].Cells {
		require.True(t, cell.Normalized)
	}
}

func TestBuildRetainsRawOnNormalizationFailure(t *testing.T) {
	provider := &scriptedProvider{columns: "Accuracy|number", cell: "pretty good"}
	client := newTestClient(provider)
	b := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 4, 6, 50)

	papers := []model.PaperAggregate{{RefNumber: 1, Paper: model.PaperRecord{Title: "Paper One"}}}
	plan := model.SectionPlan{SectionID: "s1", Title: "Comparison", IsList: true}

	table, err := b.Build(context.Background(), "t1", plan, papers, model.QuoteSet{})
	require.NoError(t, err)
	require.False(t, table.Rows[0].Cells[0].Normalized)
	require.Equal(t, "pretty good", table.Rows[0].Cells[0].Raw)
}

func TestBuildCapsProposedColumnsAtMaxColumns(t *testing.T) {
	provider := &scriptedProvider{columns: "A|text\nB|text\nC|text\nD|text", cell: "x"}
	client := newTestClient(provider)
	b := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 4, 2, 50)

	papers := []model.PaperAggregate{{RefNumber: 1, Paper: model.PaperRecord{Title: "Paper One"}}}
	plan := model.SectionPlan{SectionID: "s1", Title: "Comparison", IsList: true}

	table, err := b.Build(context.Background(), "t1", plan, papers, model.QuoteSet{})
	require.NoError(t, err)
	require.Len(t, table.Columns, 2)
	require.Len(t, table.Rows[0].Cells, 2)
}

func TestBuildCapsRowsAtMaxRows(t *testing.T) {
	provider := &scriptedProvider{columns: "Dataset|text", cell: "x"}
	client := newTestClient(provider)
	b := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 4, 6, 2)

	papers := []model.PaperAggregate{
		{RefNumber: 1, Paper: model.PaperRecord{Title: "One"}},
		{RefNumber: 2, Paper: model.PaperRecord{Title: "Two"}},
		{RefNumber: 3, Paper: model.PaperRecord{Title: "Three"}},
	}
	plan := model.SectionPlan{SectionID: "s1", Title: "Comparison", IsList: true}

	table, err := b.Build(context.Background(), "t1", plan, papers, model.QuoteSet{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
}

func TestBuildReturnsEmptyTableWhenNoColumnsProposed(t *testing.T) {
	provider := &scriptedProvider{columns: "", cell: ""}
	client := newTestClient(provider)
	b := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 4, 6, 50)

	table, err := b.Build(context.Background(), "t1", model.SectionPlan{SectionID: "s1"}, nil, model.QuoteSet{})
	require.NoError(t, err)
	require.Empty(t, table.Columns)
}
