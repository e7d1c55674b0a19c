package llmclient

import "errors"

// Stage-classified sentinel errors, compared with errors.Is by callers that
// need to distinguish retryable from terminal failures.
var (
	// ErrRateLimitExhausted means a call could not acquire rate-limit
	// budget within its wait window — either the limiter's own short
	// wait-budget expired, or the ambient context was cancelled first.
	ErrRateLimitExhausted = errors.New("llmclient: rate limit budget exhausted")
	// ErrUpstream5xx marks a transient provider-side failure eligible for
	// retry/backoff and fallback-model escalation.
	ErrUpstream5xx = errors.New("llmclient: upstream server error")
	// ErrSchemaViolation marks a structured-output response that failed
	// schema validation after all retries.
	ErrSchemaViolation = errors.New("llmclient: response violated schema")
	// ErrAllProvidersFailed means every entry in the primary+fallback model
	// list was exhausted without a successful completion.
	ErrAllProvidersFailed = errors.New("llmclient: all providers exhausted")
)
