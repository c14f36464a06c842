package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/DanielPopoola/openbanking-sync/internal/adapters/auth"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/events"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/handler"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/handler/middleware"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/participant"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/postgres"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/ratelimit"
	"github.com/DanielPopoola/openbanking-sync/internal/adapters/resilience"
	"github.com/DanielPopoola/openbanking-sync/internal/config"
	"github.com/DanielPopoola/openbanking-sync/internal/core/ports"
	"github.com/DanielPopoola/openbanking-sync/internal/core/service"
	"github.com/DanielPopoola/openbanking-sync/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting sync service",
		"env", cfg.Primary.Env,
		"port", cfg.Server.Port,
		"broker_driver", cfg.Broker.Driver,
		"log_level", cfg.Logger.Level,
	)

	ctx := context.Background()
	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	workItemRepo := postgres.NewWorkItemRepository(db)
	subjectRepo := postgres.NewSubjectRepository(db)

	var broker ports.MessageBroker
	switch cfg.Broker.Driver {
	case "outbox":
		broker = postgres.NewOutboxBroker(db)
	default:
		broker = events.NewKafkaBroker(cfg.Broker)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Error("failed to close broker", "error", err)
		}
	}()
	publisher := events.NewPublisher(broker, cfg.Broker, logger)

	issuer := auth.NewClientCredentialsIssuer(cfg.Identity, &http.Client{Timeout: cfg.Participant.Timeout})
	tokens := auth.NewTokenCache(issuer, cfg.Identity.ExpiryMargin, logger)

	breakers := resilience.NewRegistry(resilience.SettingsFromConfig(cfg.CircuitBreaker), logger)
	executor := resilience.NewExecutor(tokens, breakers, resilience.NewRetryPolicy(cfg.Retry), logger)
	fetcher := participant.NewResilientClient(participant.NewHTTPClient(cfg.Participant), executor)

	syncService := service.NewSyncService(workItemRepo, logger)

	mux := http.NewServeMux()
	handler.NewSyncHandler(syncService, handler.NewHealthHandler(db, breakers), logger).RegisterRoutes(mux)

	gate := ratelimit.NewGate(cfg.RateLimit)
	router := middleware.Chain(mux,
		middleware.Recovery(logger),
		middleware.Logging(logger),
		ratelimit.Middleware(gate, logger, ratelimit.ClientKey),
		middleware.Timeout(cfg.Server.HandlerTimeout, logger),
	)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	processor := worker.NewQueueProcessor(workItemRepo, subjectRepo, fetcher, publisher, cfg.Queue, logger)
	scheduler := worker.NewBatchScheduler(subjectRepo, fetcher, cfg.Scheduler, logger)
	monitor := worker.NewCircuitMonitor(breakers.Subscribe(), publisher, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){processor.Start, scheduler.Start, monitor.Start} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start(workerCtx)
		}()
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancelWorkers()
	wg.Wait()

	logger.Info("server exited")
}
