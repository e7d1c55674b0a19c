package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"litqa/internal/model"
)

func TestNoopRerankPreservesHighestScoreFirst(t *testing.T) {
	passages := []model.CandidatePassage{
		{PassageID: "a", Score: 0.2},
		{PassageID: "b", Score: 0.9},
		{PassageID: "c", Score: 0.5},
	}

	out, err := Noop{}.Rerank(context.Background(), "q", passages)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "b", out[0].PassageID)
	require.Equal(t, 1, out[0].Rank)
	require.Equal(t, "a", out[2].PassageID)
	require.Equal(t, 3, out[2].Rank)
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(32)
	v1, err := e.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	v2, err := e.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, v1[0], 32)
}

func TestHashEmbedderDiffersByText(t *testing.T) {
	e := NewHashEmbedder(32)
	v, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.NotEqual(t, v[0], v[1])
}
