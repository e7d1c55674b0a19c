// Package ratelimit implements the three continuously-refilling token
// buckets (requests/minute, input-tokens/minute, output-tokens/minute) that
// gate calls to a single model provider.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the per-minute budget for each bucket, plus an optional
// independent wait budget for Acquire.
type Config struct {
	RPM  int
	ITPM int
	OTPM int
	// WaitBudget bounds how long a single Acquire call waits for capacity,
	// independent of the caller's context deadline. Zero means Acquire
	// waits only on ctx, with no additional bound of its own.
	WaitBudget time.Duration
}

// Limiter gates one provider's traffic across all three dimensions at once.
// A call only proceeds once every bucket has capacity. The output bucket is
// charged the estimate passed to Acquire; that charge is not reconciled
// with the tokens a completion actually used.
type Limiter struct {
	requests   *rate.Limiter
	input      *rate.Limiter
	output     *rate.Limiter
	waitBudget time.Duration
}

// New builds a Limiter from Config. Buckets refill continuously at
// limit/60 tokens per second and hold a one-minute burst.
func New(cfg Config) *Limiter {
	return &Limiter{
		requests:   rate.NewLimiter(perSecond(cfg.RPM), max1(cfg.RPM)),
		input:      rate.NewLimiter(perSecond(cfg.ITPM), max1(cfg.ITPM)),
		output:     rate.NewLimiter(perSecond(cfg.OTPM), max1(cfg.OTPM)),
		waitBudget: cfg.WaitBudget,
	}
}

func perSecond(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(perMinute) / 60.0)
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Acquire blocks until the request-count bucket, the input-token bucket (for
// estInputTokens), and the output-token bucket (for estOutputTokens, the
// model's max_tokens ceiling) have all admitted the call, or ctx is
// cancelled. The output-token charge is deliberately conservative: it is
// sized to the request ceiling, not the eventual completion length, since
// the real length isn't known until after the call returns. Callers serving
// a Model-Call Cache hit must skip Acquire entirely — cached completions
// never touch these buckets.
//
// When the Limiter carries a non-zero WaitBudget, Acquire bounds its wait to
// that budget independent of ctx's own deadline, so a call stuck behind a
// busy bucket fails fast enough for the caller to fall back to another model
// route rather than blocking for the rest of the Task's ambient timeout.
func (l *Limiter) Acquire(ctx context.Context, estInputTokens, estOutputTokens int) error {
	if l.waitBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.waitBudget)
		defer cancel()
	}
	if err := l.requests.Wait(ctx); err != nil {
		return fmt.Errorf("acquiring request budget: %w", err)
	}
	if err := waitN(ctx, l.input, estInputTokens); err != nil {
		return fmt.Errorf("acquiring input-token budget: %w", err)
	}
	if err := waitN(ctx, l.output, estOutputTokens); err != nil {
		return fmt.Errorf("acquiring output-token budget: %w", err)
	}
	return nil
}

// waitN reserves n tokens, splitting the wait across the limiter's burst so
// requests larger than the bucket's capacity still eventually proceed
// instead of failing ReserveN outright.
func waitN(ctx context.Context, lim *rate.Limiter, n int) error {
	if n <= 0 {
		return nil
	}
	burst := lim.Burst()
	for n > 0 {
		take := n
		if burst > 0 && take > burst {
			take = burst
		}
		if err := lim.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
