package evidence

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"litqa/internal/llmclient"
	"litqa/internal/model"
	"litqa/internal/ratelimit"
)

type concurrencyTrackingProvider struct {
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	responder func(paperIdx int) string
}

func (p *concurrencyTrackingProvider) Name() string { return "stub" }

func (p *concurrencyTrackingProvider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		max := p.maxSeen.Load()
		if cur <= max || p.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return llmclient.Response{Content: req.Messages[1].Content}, nil
}

func (p *concurrencyTrackingProvider) EstimateInputTokens(req llmclient.Request) int { return 10 }

func newTestClient(provider llmclient.Provider) *llmclient.Client {
	limiters := map[string]*ratelimit.Limiter{"stub": ratelimit.New(ratelimit.Config{RPM: 6000, ITPM: 1000000, OTPM: 1000000})}
	return llmclient.New(map[string]llmclient.Provider{"stub": provider}, limiters, nil, nil, 1)
}

func TestExtractAllBoundsConcurrency(t *testing.T) {
	provider := &concurrencyTrackingProvider{}
	client := newTestClient(provider)
	ext := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 2)

	papers := make([]model.PaperAggregate, 10)
	for i := range papers {
		papers[i] = model.PaperAggregate{RefNumber: i + 1, Paper: model.PaperRecord{PaperID: fmt.Sprintf("p%d", i)}}
	}

	_, err := ext.ExtractAll(context.Background(), "t1", "query", papers)
	require.NoError(t, err)
	require.LessOrEqual(t, provider.maxSeen.Load(), int32(2))
}

type echoProvider struct{}

func (echoProvider) Name() string { return "stub" }
func (echoProvider) Complete(ctx context.Context, model string, req llmclient.Request) (llmclient.Response, error) {
	return llmclient.Response{Content: "quote one\nquote two\n"}, nil
}
func (echoProvider) EstimateInputTokens(req llmclient.Request) int { return 10 }

func TestExtractAllPreservesRefNumberOrder(t *testing.T) {
	client := newTestClient(echoProvider{})
	ext := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 3)

	papers := []model.PaperAggregate{
		{RefNumber: 1, Paper: model.PaperRecord{PaperID: "p1"}, MergedText: "quote one\nquote two\n"},
		{RefNumber: 2, Paper: model.PaperRecord{PaperID: "p2"}, MergedText: "quote one\nquote two\n"},
		{RefNumber: 3, Paper: model.PaperRecord{PaperID: "p3"}, MergedText: "quote one\nquote two\n"},
	}

	qs, err := ext.ExtractAll(context.Background(), "t1", "query", papers)
	require.NoError(t, err)
	require.Len(t, qs.Quotes, 6)
	for i, q := range qs.Quotes {
		expectedRef := i/2 + 1
		require.Equal(t, expectedRef, q.RefNumber)
	}
}

func TestSplitIntoQuotesDiscardsNonVerbatimLines(t *testing.T) {
	client := newTestClient(echoProvider{})
	ext := New(client, []llmclient.ModelRoute{{Provider: "stub", Model: "m1"}}, 1)

	papers := []model.PaperAggregate{
		{RefNumber: 1, Paper: model.PaperRecord{PaperID: "p1"}, MergedText: "quote one is real evidence from the paper."},
	}

	qs, err := ext.ExtractAll(context.Background(), "t1", "query", papers)
	require.NoError(t, err)
	require.Len(t, qs.Quotes, 1)
	require.Equal(t, "quote one", qs.Quotes[0].Text)
}
