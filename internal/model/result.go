package model

import "time"

// CostRecord captures one model call's token usage and latency for the
// optional cost ledger.
type CostRecord struct {
	TaskID          string    `json:"task_id"`
	Stage           StepName  `json:"stage"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	LatencyMS       int64     `json:"latency_ms"`
	CacheHit        bool      `json:"cache_hit"`
	Timestamp       time.Time `json:"timestamp"`
}

// Result is the final report returned for a completed Task: the generated
// sections, bibliography, and accumulated cost.
type Result struct {
	TaskID      string             `json:"task_id"`
	Title       string             `json:"title"`
	Sections    []GeneratedSection `json:"sections"`
	References  []PaperAggregate   `json:"references"`
	TotalCostUSD float64           `json:"total_cost_usd,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}
