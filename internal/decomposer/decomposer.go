// Package decomposer turns a natural-language question into a
// DecomposedQuery: search terms and index filters for the Paper Finder.
package decomposer

import (
	"context"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"litqa/internal/jsonschemautil"
	"litqa/internal/llmclient"
	"litqa/internal/logging"
	"litqa/internal/model"
)

var querySchema = jsonschema.Reflect(&model.DecomposedQuery{})

// Decomposer calls the Rate-Limited Model Client with a structured-output
// request constrained to model.DecomposedQuery's JSON Schema.
type Decomposer struct {
	client *llmclient.Client
	routes []llmclient.ModelRoute
}

// New builds a Decomposer using routes (primary model first, fallbacks
// after) for every call.
func New(client *llmclient.Client, routes []llmclient.ModelRoute) *Decomposer {
	return &Decomposer{client: client, routes: routes}
}

// Decompose produces search terms and filters for query.
func (d *Decomposer) Decompose(ctx context.Context, taskID string, query string) (model.DecomposedQuery, error) {
	schemaMap, err := jsonschemautil.AsMap(querySchema)
	if err != nil {
		return model.DecomposedQuery{}, fmt.Errorf("decomposer: %w", err)
	}

	req := llmclient.Request{
		Messages: []llmclient.Message{
			{Role: "system", Content: decomposePrompt},
			{Role: "user", Content: query},
		},
		Temperature: 0.0,
		MaxTokens:   1024,
		Schema:      schemaMap,
		SchemaName:  "decomposed_query",
	}

	var out model.DecomposedQuery
	if _, err := d.client.CompleteStructured(ctx, taskID, model.StepDecompose, d.routes, req, &out); err != nil {
		if errors.Is(err, llmclient.ErrSchemaViolation) {
			logging.TaskLogger(ctx).Warn().Err(err).
				Msg("decomposer: schema violation after retries, degrading to trivial decomposition")
			return trivialDecomposition(query), nil
		}
		return model.DecomposedQuery{}, fmt.Errorf("decomposer: %w", err)
	}
	return out, nil
}

// trivialDecomposition is the degrade path when the model can't be coaxed
// into a valid DecomposedQuery: both query forms fall back to the
// unmodified question and no filters are applied.
func trivialDecomposition(query string) model.DecomposedQuery {
	return model.DecomposedQuery{RewrittenQuery: query, KeywordQuery: query}
}

const decomposePrompt = `You turn a scientific question into a structured search plan for a
literature search engine. Produce a rewritten_query (a clear, complete
restatement of the question suited to semantic snippet search) and a
keyword_query (a short space-separated keyword string suited to keyword
search), plus any filters implied (publication year range, venues, authors,
fields of study, paper types to exclude, result limit). Respond only with
the JSON object.`
