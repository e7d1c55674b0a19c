package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"litqa/internal/logging"
	"litqa/internal/model"
	"litqa/internal/ratelimit"
)

// ModelRoute pairs a provider with the model name to call on it, one entry
// in the primary+fallback list the Client walks on failure.
type ModelRoute struct {
	Provider string
	Model    string
}

// Cache is the narrow interface the Model-Call Cache satisfies; defined
// here rather than imported directly to keep llmcache free to depend on
// llmclient's types without an import cycle.
type Cache interface {
	Get(ctx context.Context, key string) (Response, bool)
	Put(ctx context.Context, key string, resp Response)
}

// CostSink receives a CostRecord for every completed call, cache hits
// included (marked via CostRecord.CacheHit). Implementations must not
// block the pipeline; the Client logs and drops CostSink errors.
type CostSink interface {
	Record(ctx context.Context, rec model.CostRecord) error
}

// Client is the Rate-Limited Model Client: it walks a primary+fallback
// ModelRoute list, applying a per-provider ratelimit.Limiter, a
// cache-aside lookup, retry with exponential backoff on transient
// failures, and schema validation on structured-output requests.
type Client struct {
	providers map[string]Provider
	limiters  map[string]*ratelimit.Limiter
	cache     Cache
	costSink  CostSink
	maxRetries int
}

// New builds a Client. providers and limiters must share the same keys
// (provider name); cache and costSink may be nil to disable caching and
// cost recording respectively.
func New(providers map[string]Provider, limiters map[string]*ratelimit.Limiter, cache Cache, costSink CostSink, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		providers:  providers,
		limiters:   limiters,
		cache:      cache,
		costSink:   costSink,
		maxRetries: maxRetries,
	}
}

// Complete walks routes in order, returning the first successful response.
// A cache hit short-circuits rate limiting entirely, per the Model-Call
// Cache's contract: cached completions never consume bucket capacity.
func (c *Client) Complete(ctx context.Context, taskID string, stage model.StepName, routes []ModelRoute, req Request) (Response, error) {
	if len(routes) == 0 {
		return Response{}, fmt.Errorf("llmclient: empty route list")
	}

	key := cacheKey(routes, req)
	if c.cache != nil {
		if resp, ok := c.cache.Get(ctx, key); ok {
			c.recordCost(ctx, taskID, stage, "cache", resp.Model, resp.Usage, 0, true)
			return resp, nil
		}
	}

	var lastErr error
	for _, route := range routes {
		resp, err := c.completeOne(ctx, taskID, stage, route, req)
		if err == nil {
			if c.cache != nil {
				c.cache.Put(ctx, key, resp)
			}
			return resp, nil
		}
		logging.TaskLogger(ctx).Warn().
			Str("provider", route.Provider).
			Str("model", route.Model).
			Err(err).
			Msg("model route failed, trying next")
		lastErr = err
	}
	return Response{}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// maxSchemaRetries bounds how many times CompleteStructured retries a
// malformed response on the same model, via a follow-up "fix your JSON"
// message, before escalating to the next route.
const maxSchemaRetries = 2

// CompleteStructured behaves like Complete but validates the response body
// is well-formed JSON before returning it; callers further validate against
// req.Schema themselves (schema compilation/validation libraries vary by
// call site — Decomposer, Outline Planner, Table Builder each know their
// own target type). A SchemaViolation is retried up to maxSchemaRetries
// times on the same model before the route is abandoned and the next one
// in the list is tried.
func (c *Client) CompleteStructured(ctx context.Context, taskID string, stage model.StepName, routes []ModelRoute, req Request, out any) (Response, error) {
	if len(routes) == 0 {
		return Response{}, fmt.Errorf("llmclient: empty route list")
	}

	key := cacheKey(routes, req)
	if c.cache != nil {
		if resp, ok := c.cache.Get(ctx, key); ok {
			if err := json.Unmarshal([]byte(resp.Content), out); err == nil {
				c.recordCost(ctx, taskID, stage, "cache", resp.Model, resp.Usage, 0, true)
				return resp, nil
			}
		}
	}

	var lastErr error
	for _, route := range routes {
		resp, err := c.completeStructuredOne(ctx, taskID, stage, route, req, out)
		if err == nil {
			if c.cache != nil {
				c.cache.Put(ctx, key, resp)
			}
			return resp, nil
		}
		logging.TaskLogger(ctx).Warn().
			Str("provider", route.Provider).
			Str("model", route.Model).
			Err(err).
			Msg("structured model route failed, trying next")
		lastErr = err
	}
	return Response{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// completeStructuredOne retries up to maxSchemaRetries times on route's
// model, feeding the bad response back to the model with a correction
// request each time, before giving up on this route.
func (c *Client) completeStructuredOne(ctx context.Context, taskID string, stage model.StepName, route ModelRoute, req Request, out any) (Response, error) {
	attemptReq := req
	var lastErr error
	for attempt := 0; attempt <= maxSchemaRetries; attempt++ {
		resp, err := c.completeOne(ctx, taskID, stage, route, attemptReq)
		if err != nil {
			return Response{}, err
		}
		if unmarshalErr := json.Unmarshal([]byte(resp.Content), out); unmarshalErr != nil {
			lastErr = fmt.Errorf("%w: %v", ErrSchemaViolation, unmarshalErr)
			attemptReq = withSchemaRetryHint(attemptReq, resp.Content, unmarshalErr)
			continue
		}
		return resp, nil
	}
	return Response{}, lastErr
}

// withSchemaRetryHint appends the bad response and a correction request to
// the message list for the next same-model attempt.
func withSchemaRetryHint(req Request, badContent string, parseErr error) Request {
	next := req
	next.Messages = append(append([]Message{}, req.Messages...),
		Message{Role: "assistant", Content: badContent},
		Message{Role: "user", Content: fmt.Sprintf("That response was not valid JSON (%v). Reply again with only the corrected JSON object.", parseErr)},
	)
	return next
}

func (c *Client) completeOne(ctx context.Context, taskID string, stage model.StepName, route ModelRoute, req Request) (Response, error) {
	provider, ok := c.providers[route.Provider]
	if !ok {
		return Response{}, fmt.Errorf("llmclient: unknown provider %q", route.Provider)
	}
	limiter := c.limiters[route.Provider]

	var resp Response
	start := time.Now()
	op := func() error {
		if limiter != nil {
			estOut := req.MaxTokens
			if err := limiter.Acquire(ctx, provider.EstimateInputTokens(req), estOut); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrRateLimitExhausted, err))
			}
		}
		var err error
		resp, err = provider.Complete(ctx, route.Model, req)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return Response{}, err
	}

	c.recordCost(ctx, taskID, stage, route.Provider, route.Model, resp.Usage, time.Since(start), false)
	return resp, nil
}

func (c *Client) recordCost(ctx context.Context, taskID string, stage model.StepName, provider, modelName string, usage Usage, latency time.Duration, cacheHit bool) {
	if c.costSink == nil {
		return
	}
	rec := model.CostRecord{
		TaskID:       taskID,
		Stage:        stage,
		Provider:     provider,
		Model:        modelName,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		LatencyMS:    latency.Milliseconds(),
		CacheHit:     cacheHit,
		Timestamp:    time.Now(),
	}
	if err := c.costSink.Record(ctx, rec); err != nil {
		logging.TaskLogger(ctx).Warn().Err(err).Msg("cost sink record failed")
	}
}

// isTransient reports whether err should trigger a retry/fallback rather
// than an immediate failure. ErrUpstream5xx is treated as transient;
// everything else (schema violations, auth errors) is permanent.
func isTransient(err error) bool {
	return errors.Is(err, ErrUpstream5xx)
}

// cacheKey derives a content-addressed key from the route list and request
// body. Routes are included so distinct models never collide even when the
// literal request content is identical, matching the Model-Call Cache's
// per-(provider,model,request) addressing.
func cacheKey(routes []ModelRoute, req Request) string {
	type keyRequest struct {
		Routes      []ModelRoute
		Messages    []Message
		Temperature float64
		MaxTokens   int
		SchemaName  string
	}
	b, _ := json.Marshal(keyRequest{
		Routes:      routes,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		SchemaName:  req.SchemaName,
	})
	return sha256Hex(b)
}
