// Command litqa-worker wires the literature question-answering pipeline
// together from a YAML config file and runs it as a long-lived process. Task
// submission itself arrives over Kafka (internal/commandintake) when Kafka
// is enabled; the HTTP submit/poll surface a client would use in front of
// that is a separate, out-of-scope layer. This process's own HTTP surface
// is limited to liveness/readiness.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/qdrant/go-client/qdrant"

	"litqa/internal/adapters/moderation"
	"litqa/internal/adapters/paperindex"
	"litqa/internal/adapters/reranker"
	"litqa/internal/commandintake"
	"litqa/internal/config"
	"litqa/internal/decomposer"
	"litqa/internal/evidence"
	"litqa/internal/eventbus"
	"litqa/internal/llmcache"
	"litqa/internal/llmclient"
	anthropicllm "litqa/internal/llmclient/providers/anthropic"
	googlellm "litqa/internal/llmclient/providers/google"
	openaillm "litqa/internal/llmclient/providers/openai"
	"litqa/internal/logging"
	"litqa/internal/obs"
	"litqa/internal/observability"
	"litqa/internal/outline"
	"litqa/internal/paperfinder"
	"litqa/internal/ratelimit"
	"litqa/internal/resultstore"
	"litqa/internal/supervisor"
	"litqa/internal/synthesis"
	"litqa/internal/tablebuilder"
	"litqa/internal/tracestore"
)

func main() {
	if err := run(); err != nil {
		logging.Log.WithError(err).Fatal("litqa-worker exited")
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := getenv("LITQA_CONFIG", "config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := obs.NewOtelMetrics()
	costSink, err := obs.NewClickHouseCostSink(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("init clickhouse cost sink: %w", err)
	}
	defer costSink.Close()

	client, err := buildLLMClient(cfg, costSink)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}
	primaryRoutes, err := parseRoutes(cfg.Pipeline.PrimaryModels)
	if err != nil {
		return fmt.Errorf("parse primary_models: %w", err)
	}
	fallbackRoutes, err := parseRoutes(cfg.Pipeline.FallbackModels)
	if err != nil {
		return fmt.Errorf("parse fallback_models: %w", err)
	}
	routes := append(append([]llmclient.ModelRoute{}, primaryRoutes...), fallbackRoutes...)

	index := paperindex.NewHTTPIndex(cfg.PaperFinder.Endpoint, cfg.PaperFinder.APIKey)
	rr, closeReranker, err := buildReranker(cfg)
	if err != nil {
		return fmt.Errorf("init reranker: %w", err)
	}
	defer closeReranker()

	finder := paperfinder.New(index, rr, paperfinder.Config{
		NRetrieval: cfg.Retrieval.NRetrieval,
		TopK:       cfg.Rerank.TopK,
		MinScore:   cfg.Rerank.MinScore,
		MaxPapers:  cfg.PaperFinder.MaxPapers,
	})
	dec := decomposer.New(client, routes)
	extractor := evidence.New(client, routes, cfg.Pipeline.MaxLLMWorkers)
	planner := outline.New(client, routes)
	synthesizer := synthesis.New(client, routes)
	builder := tablebuilder.New(client, routes, cfg.Pipeline.MaxLLMWorkers, cfg.Table.MaxColumns, cfg.Table.MaxRows)

	traces, err := tracestore.NewFromConfig(ctx, cfg.Trace)
	if err != nil {
		return fmt.Errorf("init trace store: %w", err)
	}

	var mirror *resultstore.RedisMirror
	if cfg.Redis.Enabled {
		mirror, err = resultstore.NewRedisMirror(cfg.Redis.Addr, "")
		if err != nil {
			return fmt.Errorf("init redis mirror: %w", err)
		}
		defer mirror.Close()
	}
	results := resultstore.New(time.Duration(cfg.Tasks.ResultTTLSeconds)*time.Second, mirror)
	go results.RunEvictionLoop(ctx, time.Minute)

	var bus *eventbus.Bus
	if cfg.Kafka.Enabled {
		writer := eventbus.NewKafkaWriter(cfg.Kafka.Brokers)
		defer writer.Close()
		bus = eventbus.New(writer, cfg.Kafka.Topic)
	}

	var filter moderation.Filter = moderation.AllowAll{}
	if cfg.Moderation.Endpoint != "" {
		filter = moderation.NewHTTPFilter(cfg.Moderation.Endpoint)
	}

	sup := supervisor.New(
		dec, finder, extractor, planner, synthesizer, builder,
		results, traces,
		cfg.Tasks.MaxConcurrent, time.Duration(cfg.Tasks.TimeoutSeconds)*time.Second,
		supervisor.WithEventBus(bus),
		supervisor.WithMetrics(metrics),
		supervisor.WithModerationFilter(filter),
		supervisor.WithMinCitedPapers(cfg.Table.MinCitedPapers),
	)

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		intake, closeIntake := buildCommandIntake(cfg, sup)
		defer closeIntake()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := intake.Run(ctx); err != nil {
				logging.Log.WithError(err).Error("command intake consumer stopped")
			}
		}()
	}

	logging.Log.WithField("max_concurrent_tasks", cfg.Tasks.MaxConcurrent).
		WithField("trace_mode", cfg.Trace.Mode).
		WithField("rerank_backend", cfg.Rerank.Backend).
		WithField("kafka_enabled", cfg.Kafka.Enabled).
		Info("litqa-worker ready")

	err = serveHealth(ctx, getenv("LITQA_HEALTH_ADDR", ":8090"))
	wg.Wait()
	return err
}

func buildCommandIntake(cfg *config.Config, sup *supervisor.Supervisor) (*commandintake.Consumer, func()) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    cfg.Kafka.CommandsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	writer := eventbus.NewKafkaWriter(cfg.Kafka.Brokers)
	intake := commandintake.New(reader, writer, cfg.Kafka.ResponsesTopic, sup)
	return intake, func() {
		_ = reader.Close()
		_ = writer.Close()
	}
}

func buildLLMClient(cfg *config.Config, costSink *obs.ClickHouseCostSink) (*llmclient.Client, error) {
	providers := make(map[string]llmclient.Provider)
	for _, p := range cfg.Providers {
		switch p.Name {
		case "anthropic":
			providers["anthropic"] = anthropicllm.New(p.APIKey)
		case "openai":
			providers["openai"] = openaillm.New(p.APIKey)
		case "google":
			g, err := googlellm.New(context.Background(), p.APIKey)
			if err != nil {
				return nil, fmt.Errorf("init google provider: %w", err)
			}
			providers["google"] = g
		default:
			logging.Log.WithField("provider", p.Name).Warn("litqa-worker: unknown provider in config, skipping")
		}
	}

	limiters := make(map[string]*ratelimit.Limiter, len(providers))
	for name := range providers {
		limiters[name] = ratelimit.New(ratelimit.Config{
			RPM:        cfg.RateLimit.RPM,
			ITPM:       cfg.RateLimit.ITPM,
			OTPM:       cfg.RateLimit.OTPM,
			WaitBudget: time.Duration(cfg.RateLimit.WaitBudgetSeconds) * time.Second,
		})
	}

	var cache llmclient.Cache
	if cfg.Cache.MaxEntries > 0 {
		c, err := llmcache.New(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("init llm cache: %w", err)
		}
		cache = c
	}

	var sink llmclient.CostSink
	if costSink != nil {
		sink = costSink
	}

	return llmclient.New(providers, limiters, cache, sink, cfg.Pipeline.MaxRetries), nil
}

func buildReranker(cfg *config.Config) (reranker.Reranker, func(), error) {
	switch cfg.Rerank.Backend {
	case "remote_http":
		return reranker.NewHTTPReranker(cfg.Rerank.Endpoint), func() {}, nil
	case "in_process_biencoder":
		conn, err := grpc.NewClient(cfg.Qdrant.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, func() {}, fmt.Errorf("dial qdrant: %w", err)
		}
		bi := reranker.NewBiencoder(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), reranker.NewHashEmbedder(64))
		return bi, func() { _ = conn.Close() }, nil
	case "noop", "":
		return reranker.Noop{}, func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown rerank backend %q", cfg.Rerank.Backend)
	}
}

func parseRoutes(entries []string) ([]llmclient.ModelRoute, error) {
	routes := make([]llmclient.ModelRoute, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("model route %q must be \"provider:model\"", e)
		}
		routes = append(routes, llmclient.ModelRoute{Provider: parts[0], Model: parts[1]})
	}
	return routes, nil
}

func serveHealth(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ok") })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ready") })

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
