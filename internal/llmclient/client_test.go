package llmclient

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"litqa/internal/model"
	"litqa/internal/ratelimit"
)

type stubProvider struct {
	name    string
	calls   atomic.Int32
	fail    bool
	content string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, model string, req Request) (Response, error) {
	s.calls.Add(1)
	if s.fail {
		return Response{}, ErrUpstream5xx
	}
	return Response{Content: s.content, Model: model, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (s *stubProvider) EstimateInputTokens(req Request) int { return 10 }

type memCache struct {
	m map[string]Response
}

func newMemCache() *memCache { return &memCache{m: map[string]Response{}} }

func (c *memCache) Get(ctx context.Context, key string) (Response, bool) {
	v, ok := c.m[key]
	return v, ok
}

func (c *memCache) Put(ctx context.Context, key string, resp Response) {
	c.m[key] = resp
}

func newTestLimiters(names ...string) map[string]*ratelimit.Limiter {
	out := map[string]*ratelimit.Limiter{}
	for _, n := range names {
		out[n] = ratelimit.New(ratelimit.Config{RPM: 6000, ITPM: 1000000, OTPM: 1000000})
	}
	return out
}

func TestClientCompleteSucceedsOnPrimary(t *testing.T) {
	primary := &stubProvider{name: "primary", content: `{"ok":true}`}
	client := New(map[string]Provider{"primary": primary}, newTestLimiters("primary"), nil, nil, 2)

	resp, err := client.Complete(context.Background(), "t1", model.StepDecompose,
		[]ModelRoute{{Provider: "primary", Model: "m1"}}, Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, resp.Content)
	require.Equal(t, int32(1), primary.calls.Load())
}

func TestClientFallsBackOnFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: true}
	fallback := &stubProvider{name: "fallback", content: "fallback-ok"}
	client := New(map[string]Provider{"primary": primary, "fallback": fallback},
		newTestLimiters("primary", "fallback"), nil, nil, 1)

	resp, err := client.Complete(context.Background(), "t1", model.StepSynthesis,
		[]ModelRoute{{Provider: "primary", Model: "m1"}, {Provider: "fallback", Model: "m2"}},
		Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "fallback-ok", resp.Content)
}

func TestClientAllProvidersFail(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: true}
	client := New(map[string]Provider{"primary": primary}, newTestLimiters("primary"), nil, nil, 1)

	_, err := client.Complete(context.Background(), "t1", model.StepSynthesis,
		[]ModelRoute{{Provider: "primary", Model: "m1"}},
		Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}

func TestClientCacheHitSkipsProviderCall(t *testing.T) {
	primary := &stubProvider{name: "primary", content: "fresh"}
	cache := newMemCache()
	client := New(map[string]Provider{"primary": primary}, newTestLimiters("primary"), cache, nil, 1)

	routes := []ModelRoute{{Provider: "primary", Model: "m1"}}
	req := Request{Messages: []Message{{Role: "user", Content: "hi"}}}

	_, err := client.Complete(context.Background(), "t1", model.StepOutline, routes, req)
	require.NoError(t, err)
	require.Equal(t, int32(1), primary.calls.Load())

	resp2, err := client.Complete(context.Background(), "t1", model.StepOutline, routes, req)
	require.NoError(t, err)
	require.Equal(t, "fresh", resp2.Content)
	require.Equal(t, int32(1), primary.calls.Load(), "second call should be served from cache")
}

func TestCompleteStructuredUnmarshalsResponse(t *testing.T) {
	primary := &stubProvider{name: "primary", content: `{"a":1}`}
	client := New(map[string]Provider{"primary": primary}, newTestLimiters("primary"), nil, nil, 1)

	var out struct {
		A int `json:"a"`
	}
	_, err := client.CompleteStructured(context.Background(), "t1", model.StepDecompose,
		[]ModelRoute{{Provider: "primary", Model: "m1"}},
		Request{Messages: []Message{{Role: "user", Content: "hi"}}}, &out)
	require.NoError(t, err)
	require.Equal(t, 1, out.A)
}

func TestCompleteStructuredRejectsBadJSON(t *testing.T) {
	primary := &stubProvider{name: "primary", content: `not json`}
	client := New(map[string]Provider{"primary": primary}, newTestLimiters("primary"), nil, nil, 1)

	var out struct{}
	_, err := client.CompleteStructured(context.Background(), "t1", model.StepDecompose,
		[]ModelRoute{{Provider: "primary", Model: "m1"}},
		Request{Messages: []Message{{Role: "user", Content: "hi"}}}, &out)
	require.ErrorIs(t, err, ErrSchemaViolation)
}

type eventuallyValidProvider struct {
	name         string
	calls        atomic.Int32
	badResponses int
}

func (s *eventuallyValidProvider) Name() string { return s.name }
func (s *eventuallyValidProvider) Complete(ctx context.Context, model string, req Request) (Response, error) {
	n := s.calls.Add(1)
	if int(n) <= s.badResponses {
		return Response{Content: "not json", Model: model}, nil
	}
	return Response{Content: `{"a":2}`, Model: model}, nil
}
func (s *eventuallyValidProvider) EstimateInputTokens(req Request) int { return 10 }

func TestCompleteStructuredRetriesSameModelBeforeFallback(t *testing.T) {
	primary := &eventuallyValidProvider{name: "primary", badResponses: 2}
	fallback := &stubProvider{name: "fallback", content: `{"a":99}`}
	client := New(map[string]Provider{"primary": primary, "fallback": fallback},
		newTestLimiters("primary", "fallback"), nil, nil, 1)

	var out struct {
		A int `json:"a"`
	}
	_, err := client.CompleteStructured(context.Background(), "t1", model.StepDecompose,
		[]ModelRoute{{Provider: "primary", Model: "m1"}, {Provider: "fallback", Model: "m2"}},
		Request{Messages: []Message{{Role: "user", Content: "hi"}}}, &out)
	require.NoError(t, err)
	require.Equal(t, 2, out.A, "should have self-corrected on primary rather than falling back")
	require.Equal(t, int32(3), primary.calls.Load())
	require.Equal(t, int32(0), fallback.calls.Load())
}

func TestCompleteStructuredEscalatesAfterExhaustingSameModelRetries(t *testing.T) {
	primary := &stubProvider{name: "primary", content: "not json"}
	fallback := &stubProvider{name: "fallback", content: `{"a":7}`}
	client := New(map[string]Provider{"primary": primary, "fallback": fallback},
		newTestLimiters("primary", "fallback"), nil, nil, 1)

	var out struct {
		A int `json:"a"`
	}
	_, err := client.CompleteStructured(context.Background(), "t1", model.StepDecompose,
		[]ModelRoute{{Provider: "primary", Model: "m1"}, {Provider: "fallback", Model: "m2"}},
		Request{Messages: []Message{{Role: "user", Content: "hi"}}}, &out)
	require.NoError(t, err)
	require.Equal(t, 7, out.A)
	require.Equal(t, int32(maxSchemaRetries+1), primary.calls.Load())
}
