// Command server is the HTTP ingress process: webhook endpoints (spec §4.9,
// §6) and trigger CRUD, backed by the Trigger Service and Execution
// Service. It enqueues matched triggers onto the Background Runner's Kafka
// topic rather than running the LLM loop itself; cmd/worker owns that.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pterm/pterm"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agentcore/internal/config"
	"agentcore/internal/execsvc"
	"agentcore/internal/msgstore"
	"agentcore/internal/observability"
	"agentcore/internal/runstore"
	"agentcore/internal/threadstore"
	"agentcore/internal/triggers"
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
			log.Warn().Err(err).Msg("server: otel init failed, continuing without tracing/metrics")
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()

	httpClient := observability.NewHTTPClient(nil)

	msgStore := msgstore.New(pool)
	threadStore := threadstore.New(pool, msgStore)
	runStore := runstore.New(pool)
	activeRuns := runstore.NewActiveRunRegistry(redisClient)

	triggerStore := triggers.NewPGStore(pool)
	scheduleAdapter := &triggers.ScheduleAdapter{
		WebhookBaseURL: cfg.Triggers.WebhookBaseURL,
		SharedSecret:   cfg.Triggers.SharedSecret,
		HTTPClient:     httpClient,
	}
	cronRunner := triggers.NewRunner(pool, scheduleAdapter)
	scheduleAdapter.Jobs = cronRunner
	if err := cronRunner.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("server: cron runner start failed")
	}
	defer cronRunner.Stop(context.Background())

	adapters := map[string]triggers.Adapter{
		"schedule": scheduleAdapter,
		"webhook":  triggers.WebhookAdapter{},
	}
	triggerService := triggers.New(triggerStore, adapters)

	kafkaWriter := &kafka.Writer{Addr: kafka.TCP(cfg.Queue.Brokers...), Topic: cfg.Queue.RunTopic}
	defer kafkaWriter.Close()

	execService := &execsvc.Service{
		Triggers:   triggerService,
		Projects:   execsvc.NewPGProjectStore(pool),
		Sandbox:    execsvc.NewFilesystemSandbox(os.Getenv("SANDBOX_BASE_DIR")),
		Threads:    threadStore,
		Agents:     execsvc.NewPGAgentResolver(pool, nil),
		Runs:       runStore,
		ActiveRuns: activeRuns,
		Queue:      execsvc.NewKafkaQueue(kafkaWriter, cfg.Queue.RunTopic),
		InstanceID: os.Getenv("HOSTNAME"),
	}

	mux := http.NewServeMux()
	registerRoutes(mux, &serverDeps{
		triggerService: triggerService,
		triggerStore:   triggerStore,
		execService:    execService,
		sharedSecret:   cfg.Triggers.SharedSecret,
		composioSecret: cfg.Triggers.ComposioAPIKey,
		accountResolver: func(agentID string) string {
			var accountID string
			_ = pool.QueryRow(ctx, `SELECT user_id FROM agents WHERE id = $1`, agentID).Scan(&accountID)
			return accountID
		},
	})

	handler := otelhttp.NewHandler(mux, "agentcore.server")

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	pterm.Success.Printf("listening on %s\n", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		pterm.Error.Printf("server exited: %v\n", err)
		os.Exit(1)
	}
}
