package obs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"litqa/internal/config"
	"litqa/internal/model"
)

// ClickHouseCostSink implements llmclient.CostSink, appending one row per
// model call to a cost-ledger table. Grounded on the teacher's
// internal/agentd ClickHouse writers (connection setup via clickhouse.Open
// + clickhouse.ParseDSN, table-exists bootstrap on construction).
type ClickHouseCostSink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewClickHouseCostSink opens a ClickHouse connection from cfg.DSN and
// ensures the cost-ledger table exists. Returns (nil, nil) if cfg.Enabled is
// false or cfg.DSN is empty, so callers can unconditionally wire the result
// as an optional CostSink.
func NewClickHouseCostSink(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseCostSink, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil
	}

	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	sink := &ClickHouseCostSink{conn: conn, table: "litqa_cost_ledger", timeout: 5 * time.Second}
	if err := sink.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure cost ledger table: %w", err)
	}
	return sink, nil
}

func (s *ClickHouseCostSink) ensureTable(ctx context.Context) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		task_id String,
		stage String,
		provider String,
		model String,
		input_tokens UInt32,
		output_tokens UInt32,
		latency_ms UInt32,
		cache_hit UInt8,
		timestamp DateTime64(3)
	) ENGINE = MergeTree() ORDER BY (task_id, timestamp)`, s.table)
	return s.conn.Exec(ctxTimeout, ddl)
}

// Record appends rec as one row via a single-row batch insert, the
// clickhouse-go v2 idiom for column-oriented writes.
func (s *ClickHouseCostSink) Record(ctx context.Context, rec model.CostRecord) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctxTimeout, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	cacheHit := uint8(0)
	if rec.CacheHit {
		cacheHit = 1
	}
	if err := batch.Append(
		rec.TaskID,
		string(rec.Stage),
		rec.Provider,
		rec.Model,
		uint32(rec.InputTokens),
		uint32(rec.OutputTokens),
		uint32(rec.LatencyMS),
		cacheHit,
		rec.Timestamp,
	); err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return batch.Send()
}

// Close releases the underlying ClickHouse connection.
func (s *ClickHouseCostSink) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}
