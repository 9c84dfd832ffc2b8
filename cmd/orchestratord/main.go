// Command orchestratord runs the orchestrator façade (C4): the HTTP API
// that admits jobs, and the idle watcher (C3) that stops the worker host
// once the GPU queue has been empty long enough.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/audit/kafkabus"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/awsruntime"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/hostctl/ec2host"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/objectstore/s3store"
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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

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
	host := ec2host.New(ec2.NewFromConfig(awsCfg), cfg.GPUInstanceID, logger)
	go host.RefreshLoop(ctx, cfg.GPUIPRefreshInterval)
	objects := s3store.New(s3.NewFromConfig(awsCfg), cfg.S3ArtifactBucket)

	var bus *kafkabus.Bus
	if cfg.AuditEnabled {
		bus, err = kafkabus.New([]string{cfg.KafkaBrokers}, logger)
		if err != nil {
			slog.Error("audit bus init failed, continuing without it", slog.Any("error", err))
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	admit := &usecase.AdmitService{
		Jobs:  jobs,
		Queue: queue,
		Host:  host,
		Retries: usecase.RetryConfig{
			Attempts: cfg.StoreRetryAttempts,
			Backoff:  cfg.StoreRetryBackoff,
		},
		Logger: logger,
		Audit:  bus,
	}

	watcher := &usecase.IdleWatcher{
		Queue:            queue,
		Host:             host,
		SampleInterval:   cfg.IdleSampleInterval,
		ConsecutiveEmpty: cfg.IdleConsecutiveSamples,
		Logger:           logger,
	}
	go watcher.Run(ctx)

	srv := &httpserver.Server{Admit: admit, Host: host, Objects: objects}
	router := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		slog.Info("starting orchestrator façade", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
	slog.Info("orchestrator façade stopped")
}
