package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/warehouse-fulfillment/internal/api"
	"github.com/example/warehouse-fulfillment/internal/command"
	"github.com/example/warehouse-fulfillment/internal/config"
	"github.com/example/warehouse-fulfillment/internal/domain/acceptance"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/posting"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/kafka"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/outbox"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/logging"
	"github.com/example/warehouse-fulfillment/internal/query"
	"github.com/example/warehouse-fulfillment/internal/tracing"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Setup(ctx, "warehouse-api", cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// Initialize PostgreSQL connection
	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	pg := store.NewPostgresStore(db)
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL")

	// Initialize domain services
	engine := pricing.NewEngine(logger)
	inv := inventory.NewLedger(engine, logger)
	tasks := task.NewLedger(inv, logger)
	acceptances := acceptance.NewWorkflow(inv, tasks, logger)
	postings := posting.NewWorkflow(inv, tasks, logger)
	discounts := discount.NewWorkflow(engine, logger)

	cmdHandler := command.NewHandler(pg, inv, tasks, acceptances, postings, discounts, logger)
	queryHandler := query.NewHandler(pg, inv, tasks, acceptances, postings, discounts)

	// Outbox relay publishes committed domain events to Kafka
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
	defer producer.Close()

	hostname, _ := os.Hostname()
	relay := outbox.NewRelay(logger,
		store.NewOutboxStore(db),
		outbox.NewDispatcher(logger, producer),
		"warehouse-api-"+hostname,
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithInterval(cfg.OutboxInterval),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(api.NewHandlers(cmdHandler, queryHandler, logger), logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	wg.Wait()
}
