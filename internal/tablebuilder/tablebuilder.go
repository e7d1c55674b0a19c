// Package tablebuilder generates a comparison Table for list-typed outline
// sections, fanning out one model call per (row, column) cell and
// normalizing each resulting value against the column's declared kind.
package tablebuilder

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"litqa/internal/llmclient"
	"litqa/internal/model"
)

// Builder implements the Table Builder component.
type Builder struct {
	client     *llmclient.Client
	routes     []llmclient.ModelRoute
	maxWorkers int
	maxColumns int
	maxRows    int
}

// New builds a Builder bounding concurrent per-cell calls to maxWorkers, the
// proposed column count to maxColumns, and the row count to maxRows.
func New(client *llmclient.Client, routes []llmclient.ModelRoute, maxWorkers, maxColumns, maxRows int) *Builder {
	if maxWorkers <= 0 {
		maxWorkers = 6
	}
	if maxColumns <= 0 {
		maxColumns = 6
	}
	if maxRows <= 0 {
		maxRows = 50
	}
	return &Builder{client: client, routes: routes, maxWorkers: maxWorkers, maxColumns: maxColumns, maxRows: maxRows}
}

// Build proposes columns for the section from its quotes, then fans out one
// cell-filling call per (paper, column) pair. papers is truncated to maxRows
// before any cells are filled, keeping the table's row count within its cap.
func (b *Builder) Build(ctx context.Context, taskID string, plan model.SectionPlan, papers []model.PaperAggregate, quotes model.QuoteSet) (model.Table, error) {
	columns, err := b.proposeColumns(ctx, taskID, plan, quotes)
	if err != nil {
		return model.Table{}, fmt.Errorf("tablebuilder: proposing columns: %w", err)
	}
	if len(columns) == 0 {
		return model.Table{SectionID: plan.SectionID}, nil
	}

	if len(papers) > b.maxRows {
		papers = papers[:b.maxRows]
	}

	rows := make([]model.Row, len(papers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxWorkers)
	for i, paper := range papers {
		i, paper := i, paper
		cells := make([]model.Cell, len(columns))
		rows[i] = model.Row{RefNumber: paper.RefNumber, Cells: cells}
		for j, col := range columns {
			j, col := j, col
			g.Go(func() error {
				cell, err := b.fillCell(gctx, taskID, plan, paper, col, quotes)
				if err != nil {
					return fmt.Errorf("tablebuilder: row ref %d col %q: %w", paper.RefNumber, col.Name, err)
				}
				rows[i].Cells[j] = cell
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return model.Table{}, err
	}

	return model.Table{SectionID: plan.SectionID, Columns: columns, Rows: rows}, nil
}

func (b *Builder) proposeColumns(ctx context.Context, taskID string, plan model.SectionPlan, quotes model.QuoteSet) ([]model.Column, error) {
	evidence := evidenceForSection(plan, quotes)
	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: columnsPrompt},
			{Role: "user", Content: fmt.Sprintf("Section: %s\nSummary: %s\n\nEvidence:\n%s", plan.Title, plan.Summary, evidence)},
		},
		Temperature: 0.0,
		MaxTokens:   512,
	}
	resp, err := b.client.Complete(ctx, taskID, model.StepTable, b.routes, req)
	if err != nil {
		return nil, err
	}
	return parseColumns(resp.Content, b.maxColumns), nil
}

func (b *Builder) fillCell(ctx context.Context, taskID string, plan model.SectionPlan, paper model.PaperAggregate, col model.Column, quotes model.QuoteSet) (model.Cell, error) {
	paperEvidence := ""
	for _, q := range quotes.Quotes {
		if q.RefNumber == paper.RefNumber {
			paperEvidence += q.Text + "\n"
		}
	}

	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: cellPrompt},
			{Role: "user", Content: fmt.Sprintf("Column: %s (%s)\nPaper: %s\n\nEvidence:\n%s", col.Name, col.Kind, paper.Paper.Title, paperEvidence)},
		},
		Temperature: 0.0,
		MaxTokens:   128,
	}
	resp, err := b.client.Complete(ctx, taskID, model.StepTable, b.routes, req)
	if err != nil {
		return model.Cell{}, err
	}

	raw := strings.TrimSpace(resp.Content)
	value, ok := normalize(raw, col.Kind)
	if !ok {
		// One retry on normalization failure, per the table cell
		// normalization policy: ask the model to restate in the target
		// kind before falling back to the raw string.
		resp2, err := b.client.Complete(ctx, taskID, model.StepTable, b.routes, llmclient.Request{
			Messages: []llmclient.Message{
				{Role: "system", Content: cellPrompt},
				{Role: "user", Content: fmt.Sprintf("Restate strictly as a %s with no extra words: %q", col.Kind, raw)},
			},
			Temperature: 0.0,
			MaxTokens:   32,
		})
		if err == nil {
			if v, ok2 := normalize(strings.TrimSpace(resp2.Content), col.Kind); ok2 {
				return model.Cell{Raw: raw, Value: v, Normalized: true}, nil
			}
		}
		return model.Cell{Raw: raw, Value: raw, Normalized: false}, nil
	}
	return model.Cell{Raw: raw, Value: value, Normalized: true}, nil
}

func normalize(raw, kind string) (string, bool) {
	switch kind {
	case "number":
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return "", false
		}
		return raw, true
	case "boolean":
		lower := strings.ToLower(raw)
		if lower == "true" || lower == "yes" {
			return "true", true
		}
		if lower == "false" || lower == "no" {
			return "false", true
		}
		return "", false
	default:
		return raw, true
	}
}

func evidenceForSection(plan model.SectionPlan, quotes model.QuoteSet) string {
	var b strings.Builder
	for _, id := range plan.QuoteIDs {
		if q, ok := quotes.ByID(id); ok {
			fmt.Fprintf(&b, "%s\n", q.Text)
		}
	}
	return b.String()
}

// parseColumns reads one column spec per line, "name|kind" with kind
// optional (defaults to "text"), capped to maxColumns.
func parseColumns(content string, maxColumns int) []model.Column {
	var columns []model.Column
	for _, line := range strings.Split(content, "\n") {
		if len(columns) >= maxColumns {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		col := model.Column{Name: strings.TrimSpace(parts[0]), Kind: "text"}
		if len(parts) == 2 {
			col.Kind = strings.TrimSpace(parts[1])
		}
		columns = append(columns, col)
	}
	return columns
}

const columnsPrompt = `You propose comparison-table columns for a list-style report section.
Output one column per line as "name|kind" where kind is one of text,
number, boolean. Keep to 3-6 columns capturing the dimensions papers in
this section differ on.`

const cellPrompt = `You fill one cell of a comparison table from a paper's evidence. Answer
with only the value, no explanation.`
