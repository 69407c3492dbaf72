package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/channel"
	"github.com/autokita/wa-campaign-engine/internal/config"
	"github.com/autokita/wa-campaign-engine/internal/dispatch"
	"github.com/autokita/wa-campaign-engine/internal/httpapi"
	"github.com/autokita/wa-campaign-engine/internal/jetstream"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/internal/ratelimit"
	"github.com/autokita/wa-campaign-engine/internal/scheduler"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/internal/usecase"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
	"github.com/autokita/wa-campaign-engine/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting WA Campaign Engine",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.Dispatch.NATSURL),
		zap.String("channel_base_url", cfg.Channel.BaseURL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := initJetStreamClient(cfg.Dispatch.NATSURL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Create repository adapters for the services
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	segmentRepo := storage.NewSegmentRepoAdapter(postgresRepo)
	campaignRepo := storage.NewCampaignRepoAdapter(postgresRepo)
	messageRepo := storage.NewMessageRepoAdapter(postgresRepo)
	sequenceRepo := storage.NewSequenceRepoAdapter(postgresRepo)
	sessionRepo := storage.NewSessionRepoAdapter(postgresRepo)

	clk := clock.New()

	// Channel client with the shared rate-limit window
	limiter := ratelimit.NewLimiter(cfg.Channel.MessagesPerMinute, cfg.Channel.MessagesPerHour, clk)
	sender := channel.NewClient(cfg.Channel, limiter)

	// Services
	audience := usecase.NewAudienceService(contactRepo, segmentRepo)
	delivery := usecase.NewDeliveryService(messageRepo, campaignRepo, clk)

	// The queue and the campaign service reference each other; the queue is
	// built against the processor, which is filled in after the services.
	var queue *dispatch.Queue
	enqueuer := enqueuerFunc(func(ctx context.Context, task dispatch.Task) error {
		return queue.Enqueue(ctx, task)
	})

	campaigns := usecase.NewCampaignService(
		campaignRepo, messageRepo, contactRepo,
		audience, delivery, sender, enqueuer,
		cfg.Channel.MessageDelay, clk,
	)
	sequences := usecase.NewSequenceService(sequenceRepo, contactRepo, messageRepo, sender, enqueuer, clk)
	webhooks := usecase.NewWebhookService(contactRepo, messageRepo, sessionRepo, delivery, clk)
	sessions := usecase.NewSessionService(sessionRepo, sender, clk)
	processor := usecase.NewTaskProcessor(campaigns, sequences)

	queue, err = dispatch.NewQueue(jsClient, processor, cfg.Dispatch, clk)
	if err != nil {
		logger.Log.Fatal("Failed to initialize dispatch queue", zap.Error(err))
	}
	if err := queue.Setup(context.Background()); err != nil {
		logger.Log.Fatal("Failed to set up dispatch stream", zap.Error(err))
	}

	// Scheduler for due campaigns and sequence recovery. The recovery grace
	// covers the queue's worst-case NAK retry horizon, so an in-flight delayed
	// task is never re-enqueued on top of itself.
	recoveryGrace := cfg.Dispatch.NakMaxDelay * time.Duration(cfg.Dispatch.MaxDeliver)
	sched := scheduler.New(campaignRepo, campaigns, sequences, cfg.Channel.DefaultSession, cfg.Dispatch.TickInterval, recoveryGrace, clk)

	// API server
	apiServer := httpapi.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log, campaigns, audience, sequences, webhooks, sessions)
	if metricsEnabled {
		apiServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}
	apiServer.Start()

	logger.Log.Info("API endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("webhook", fmt.Sprintf("http://localhost:%d/webhook", cfg.Server.Port)),
	)

	// Start consuming dispatch tasks
	if err := queue.Start(); err != nil {
		logger.Log.Fatal("Failed to start dispatch queue", zap.Error(err))
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	if err := sched.Start(mainCtx); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(3)

	// Scheduler first so no new tasks are promoted mid-shutdown
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping scheduler")
		start := time.Now()
		sched.Stop()
		logger.Log.Info("[shutdown] Scheduler stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping scheduler",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Dispatch queue (drains the worker pool)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping dispatch queue")
		start := time.Now()
		queue.Stop()
		logger.Log.Info("[shutdown] Dispatch queue stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping dispatch queue",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// API server, then database and broker connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Stopping API server")
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping API server", zap.Error(err))
		}

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsClient.Close()
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("WA Campaign Engine shutdown complete")
}

// enqueuerFunc adapts a function to the usecase.TaskEnqueuer interface,
// breaking the construction cycle between the queue and the services whose
// handlers it executes.
type enqueuerFunc func(ctx context.Context, task dispatch.Task) error

func (f enqueuerFunc) Enqueue(ctx context.Context, task dispatch.Task) error {
	return f(ctx, task)
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}
