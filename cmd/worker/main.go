// Command worker is the Background Runner process (spec component K): it
// drains run_agent_background jobs from Kafka and drives each one through
// the Thread Runner to completion.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"agentcore/internal/billing"
	"agentcore/internal/config"
	"agentcore/internal/contextmgr"
	"agentcore/internal/llm"
	"agentcore/internal/llm/anthropic"
	"agentcore/internal/llm/google"
	"agentcore/internal/llm/openai"
	"agentcore/internal/msgstore"
	"agentcore/internal/observability"
	"agentcore/internal/orchestrator"
	"agentcore/internal/promptcache"
	"agentcore/internal/respproc"
	"agentcore/internal/runstore"
	"agentcore/internal/threadrunner"
	"agentcore/internal/threadstore"
	"agentcore/internal/tokenusage"
	"agentcore/internal/tools"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		pterm.Error.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Telemetry.LogPath, cfg.Telemetry.LogLevel)
	pterm.Success.Println("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(ctx, cfg.Telemetry.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("worker: otel init failed, continuing without tracing/metrics")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString)
	if err != nil {
		pterm.Error.Printf("failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	dedupe, err := orchestrator.NewRedisDedupeStore(cfg.Redis.Addr)
	if err != nil {
		pterm.Error.Printf("failed to connect dedupe store: %v\n", err)
		os.Exit(1)
	}
	defer dedupe.Close()

	httpClient := observability.NewHTTPClient(nil)

	router := &llm.Router{SecondaryPrefix: cfg.Providers.SecondaryPrefix}
	var anthropicTokenizer llm.Tokenizer
	if cfg.Providers.Anthropic.APIKey != "" {
		router.Anthropic = anthropic.New(cfg.Providers.Anthropic, httpClient)
		sdk := anthropicsdk.NewClient(anthropicopt.WithAPIKey(cfg.Providers.Anthropic.APIKey))
		anthropicTokenizer = anthropic.NewMessagesTokenizer(sdk, cfg.Providers.Anthropic.Model, nil)
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		router.OpenAI = openai.New(cfg.Providers.OpenAI, httpClient)
	}
	if cfg.Providers.Google.APIKey != "" {
		if gc, err := google.New(cfg.Providers.Google, httpClient); err == nil {
			router.Google = gc
		} else {
			log.Warn().Err(err).Msg("worker: google provider init failed")
		}
	}

	counter := &tokenusage.Counter{AnthropicTokenizer: anthropicTokenizer, Cache: promptcache.AnthropicLayer{}}
	cacheLayer := promptcache.AnthropicLayer{}

	msgStore := msgstore.New(pool)
	threadStore := threadstore.New(pool, msgStore)
	runStore := runstore.New(pool)
	ledger := billing.New(pool, billing.DefaultPricing)
	toolRegistry := tools.NewRegistry()

	processor := &respproc.Processor{
		Store:   msgStore,
		Tools:   toolRegistry,
		Billing: ledger,
		AccountID: func(threadID string) string {
			t, err := threadStore.GetThread(ctx, threadID)
			if err != nil || t == nil {
				return ""
			}
			return t.AccountID
		},
	}

	compressor := &contextmgr.Manager{Counter: counter, Store: msgStore}

	runner := &threadrunner.Runner{
		Store:           msgStore,
		Compressor:      compressor,
		Cache:           cacheLayer,
		Counter:         counter,
		Credits:         ledger,
		RunStatus:       runStore,
		Processor:       processor,
		ToolSchemas:     toolRegistry.Schemas,
		Provider:        router.Provider,
		SecondaryPrefix: cfg.Providers.SecondaryPrefix,
	}

	adapter := &orchestrator.ThreadRunnerAdapter{
		Executor: runner,
		Threads:  threadStore,
		Runs:     runStore,
	}

	producer := &kafka.Writer{Addr: kafka.TCP(cfg.Queue.Brokers...), Topic: cfg.Queue.ReplyTopic}
	defer producer.Close()

	workerCount := cfg.Queue.WorkerCount
	if workerCount <= 0 {
		workerCount = 4
	}
	dedupeTTL := time.Duration(cfg.Queue.DedupeTTLSeconds) * time.Second
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	runTimeout := time.Duration(cfg.Queue.RunTimeoutSeconds) * time.Second
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}

	pterm.Success.Printf("consuming %s (group %s) with %d workers\n", cfg.Queue.RunTopic, cfg.Queue.GroupID, workerCount)

	if err := orchestrator.StartKafkaConsumer(
		ctx,
		cfg.Queue.Brokers,
		cfg.Queue.GroupID,
		cfg.Queue.RunTopic,
		nil,
		producer,
		adapter,
		dedupe,
		workerCount,
		cfg.Queue.ReplyTopic,
		dedupeTTL,
		runTimeout,
	); err != nil && ctx.Err() == nil {
		pterm.Error.Printf("worker exited: %v\n", err)
		os.Exit(1)
	}
}
