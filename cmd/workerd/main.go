// Command workerd runs on the GPU/CPU worker host: it is the worker
// adapter (C5) that bridges one queue lane to the local inference engine,
// plus a stuck-job sweeper safety net.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/audit/kafkabus"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/awsruntime"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/engine/httpengine"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/queue/sqsqueue"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/repo/dynamostore"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/gpu-orchestrator/internal/app"
	"github.com/fairyhunter13/gpu-orchestrator/internal/config"
	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
	"github.com/fairyhunter13/gpu-orchestrator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	lane := domain.Lane(os.Getenv("WORKER_LANE"))
	if lane == "" {
		lane = domain.LaneGPU
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	awsCfg, err := awsruntime.Load(ctx, cfg)
	if err != nil {
		slog.Error("aws config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	var jobs domain.JobStore
	if cfg.StoreBackend == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("postgres connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		jobs = postgres.NewJobRepo(pool)
	} else {
		jobs = dynamostore.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable)
	}

	queue := sqsqueue.New(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURLGPU, cfg.SQSQueueURLCPU)
	engine := httpengine.New(cfg.EngineBaseURL, cfg.EnginePollTimeout)

	var bus *kafkabus.Bus
	if cfg.AuditEnabled {
		bus, err = kafkabus.New([]string{cfg.KafkaBrokers}, logger)
		if err != nil {
			slog.Error("audit bus init failed, continuing without it", slog.Any("error", err))
		} else {
			defer bus.Close()
		}
	}

	visibilityTimeout := cfg.VisibilityTimeoutGPU
	if lane == domain.LaneCPU {
		visibilityTimeout = cfg.VisibilityTimeoutCPU
	}

	adapter := &usecase.WorkerAdapter{
		Lane:                   lane,
		Jobs:                   jobs,
		Queue:                  queue,
		Engine:                 engine,
		LongPollWait:           cfg.LongPollWait,
		VisibilityTimeout:      visibilityTimeout,
		MaxMessages:            1,
		EnginePollInterval:     cfg.EnginePollInterval,
		EnginePollTimeout:      cfg.EnginePollTimeout,
		EngineJobTimeout:       cfg.EngineJobTimeout,
		StoreRetry:             usecase.RetryConfig{Attempts: cfg.StoreRetryAttempts, Backoff: cfg.StoreRetryBackoff},
		MaxConsecutiveFailures: cfg.AdapterMaxConsecutiveFailures,
		Logger:                 logger,
		Audit:                  bus,
	}

	if sweeper := app.NewStuckJobSweeper(jobs, cfg.EngineJobTimeout+cfg.EnginePollTimeout, 0, logger); sweeper != nil {
		go sweeper.Run(ctx)
	}

	go func() {
		slog.Info("starting worker adapter", slog.String("lane", string(lane)))
		if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("worker adapter stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("worker stopped")
}
