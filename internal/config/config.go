// Package config loads the worker's YAML configuration file into typed
// structs, mirroring the section-per-concern layout used across the rest of
// the pipeline.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// RetrievalConfig controls the Paper Finder's candidate-passage search.
type RetrievalConfig struct {
	NRetrieval int `yaml:"n_retrieval"`
}

// RerankConfig selects and tunes the reranker adapter.
type RerankConfig struct {
	Backend  string  `yaml:"backend"` // "remote_http", "in_process_biencoder", "noop"
	Endpoint string  `yaml:"endpoint,omitempty"`
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// PaperFinderConfig points at the external paper index API.
type PaperFinderConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key,omitempty"`
	MaxPapers int    `yaml:"max_papers"`
}

// PipelineConfig bounds the pipeline's worker fan-out and model selection.
type PipelineConfig struct {
	MaxLLMWorkers  int      `yaml:"max_llm_workers"`
	PrimaryModels  []string `yaml:"primary_models"`
	FallbackModels []string `yaml:"fallback_models"`
	MaxRetries     int      `yaml:"max_retries"`
}

// TasksConfig bounds Task admission and per-task lifetime.
type TasksConfig struct {
	MaxConcurrent    int `yaml:"max_concurrent"`
	TimeoutSeconds   int `yaml:"timeout_seconds"`
	ResultTTLSeconds int `yaml:"result_ttl_seconds"`
}

// TraceConfig selects the Event Trace Store backend.
type TraceConfig struct {
	Mode     string   `yaml:"mode"` // "local", "s3", "memory"
	LocalDir string   `yaml:"local_dir,omitempty"`
	S3       S3Config `yaml:"s3,omitempty"`
}

// CacheConfig bounds the Model-Call Cache.
type CacheConfig struct {
	LLMCacheDir string `yaml:"llm_cache_dir,omitempty"`
	MaxEntries  int    `yaml:"max_entries"`
	TTLSeconds  int    `yaml:"ttl_seconds"`
}

// RateLimitConfig sets the three per-provider token buckets plus the
// independent per-call wait budget.
type RateLimitConfig struct {
	RPM               int `yaml:"rpm"`
	ITPM              int `yaml:"itpm"`
	OTPM              int `yaml:"otpm"`
	WaitBudgetSeconds int `yaml:"wait_budget_seconds"`
}

// TableConfig bounds when and how large the Table Builder's comparison
// tables may grow.
type TableConfig struct {
	MinCitedPapers int `yaml:"min_cited_papers"`
	MaxColumns     int `yaml:"max_columns"`
	MaxRows        int `yaml:"max_rows"`
}

// ProviderConfig carries one LLM provider's credentials.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
}

// RedisConfig is the optional Result Store mirror's connection info.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// KafkaConfig is the optional Step Event Bus publisher's connection info,
// plus the command-intake topics a Kafka-transport submit/poll client uses.
type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers,omitempty"`
	Topic          string   `yaml:"topic,omitempty"` // Step-event publish topic
	CommandsTopic  string   `yaml:"commands_topic,omitempty"`
	ResponsesTopic string   `yaml:"responses_topic,omitempty"`
	GroupID        string   `yaml:"group_id,omitempty"`
}

// ClickHouseConfig is the optional cost-ledger sink's connection info.
type ClickHouseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn,omitempty"`
}

// QdrantConfig backs the in_process_biencoder reranker.
type QdrantConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// ObsConfig controls where zerolog's global output goes and at what level.
type ObsConfig struct {
	LogPath  string `yaml:"log_path,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

// ModerationConfig points at the optional content-moderation endpoint. An
// empty Endpoint disables moderation and every query is admitted.
type ModerationConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
}

// S3SSEConfig configures server-side encryption for the S3-backed trace
// store.
type S3SSEConfig struct {
	Mode     string `yaml:"mode,omitempty"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

// S3Config is the connection info for the S3 Event Trace Store backend.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region,omitempty"`
	Endpoint              string      `yaml:"endpoint,omitempty"`
	Prefix                string      `yaml:"prefix,omitempty"`
	AccessKey             string      `yaml:"access_key,omitempty"`
	SecretKey             string      `yaml:"secret_key,omitempty"`
	UsePathStyle          bool        `yaml:"use_path_style,omitempty"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify,omitempty"`
	SSE                   S3SSEConfig `yaml:"sse,omitempty"`
}

// Config is the complete worker configuration, unmarshalled from YAML.
type Config struct {
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Rerank      RerankConfig      `yaml:"rerank"`
	PaperFinder PaperFinderConfig `yaml:"paper_finder"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Tasks       TasksConfig       `yaml:"tasks"`
	Trace       TraceConfig       `yaml:"trace"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Qdrant      QdrantConfig      `yaml:"qdrant"`
	Obs         ObsConfig         `yaml:"obs"`
	Moderation  ModerationConfig  `yaml:"moderation"`
	Table       TableConfig       `yaml:"table"`
}

// LoadConfig reads and unmarshals the YAML config at path, filling in
// defaults for anything left unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Retrieval.NRetrieval <= 0 {
		cfg.Retrieval.NRetrieval = 50
		log.Info().Int("n_retrieval", 50).Msg("no retrieval.n_retrieval set, using default")
	}
	if cfg.Rerank.Backend == "" {
		cfg.Rerank.Backend = "remote_http"
	}
	if cfg.Rerank.TopK <= 0 {
		cfg.Rerank.TopK = 20
	}
	if cfg.PaperFinder.MaxPapers <= 0 {
		cfg.PaperFinder.MaxPapers = 15
	}
	if cfg.Pipeline.MaxLLMWorkers <= 0 {
		cfg.Pipeline.MaxLLMWorkers = 6
		log.Info().Int("max_llm_workers", 6).Msg("no pipeline.max_llm_workers set, using default")
	}
	if cfg.Pipeline.MaxRetries <= 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Tasks.MaxConcurrent <= 0 {
		cfg.Tasks.MaxConcurrent = 10
	}
	if cfg.Tasks.TimeoutSeconds <= 0 {
		cfg.Tasks.TimeoutSeconds = 600
	}
	if cfg.Tasks.ResultTTLSeconds <= 0 {
		cfg.Tasks.ResultTTLSeconds = 3600
	}
	if cfg.Trace.Mode == "" {
		cfg.Trace.Mode = "local"
	}
	if cfg.Trace.LocalDir == "" {
		cfg.Trace.LocalDir = "./traces"
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 10000
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 86400
	}
	if cfg.RateLimit.RPM <= 0 {
		cfg.RateLimit.RPM = 60
	}
	if cfg.RateLimit.ITPM <= 0 {
		cfg.RateLimit.ITPM = 200000
	}
	if cfg.RateLimit.OTPM <= 0 {
		cfg.RateLimit.OTPM = 80000
	}
	if cfg.RateLimit.WaitBudgetSeconds <= 0 {
		cfg.RateLimit.WaitBudgetSeconds = 5
	}
	if cfg.Table.MinCitedPapers <= 0 {
		cfg.Table.MinCitedPapers = 3
	}
	if cfg.Table.MaxColumns <= 0 {
		cfg.Table.MaxColumns = 6
	}
	if cfg.Table.MaxRows <= 0 {
		cfg.Table.MaxRows = 50
	}
	if cfg.Kafka.CommandsTopic == "" {
		cfg.Kafka.CommandsTopic = "litqa.submit"
	}
	if cfg.Kafka.ResponsesTopic == "" {
		cfg.Kafka.ResponsesTopic = "litqa.submit.responses"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "litqa-worker"
	}
}
