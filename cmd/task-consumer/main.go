package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/warehouse-fulfillment/internal/command"
	"github.com/example/warehouse-fulfillment/internal/config"
	"github.com/example/warehouse-fulfillment/internal/domain/acceptance"
	"github.com/example/warehouse-fulfillment/internal/domain/discount"
	"github.com/example/warehouse-fulfillment/internal/domain/inventory"
	"github.com/example/warehouse-fulfillment/internal/domain/posting"
	"github.com/example/warehouse-fulfillment/internal/domain/pricing"
	"github.com/example/warehouse-fulfillment/internal/domain/task"
	"github.com/example/warehouse-fulfillment/internal/idempotency"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/kafka"
	"github.com/example/warehouse-fulfillment/internal/infrastructure/store"
	"github.com/example/warehouse-fulfillment/internal/logging"
	"github.com/example/warehouse-fulfillment/internal/scanner"
	"github.com/example/warehouse-fulfillment/internal/tracing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run returns an error when the consumer gives up on a message, so the
// process exits non-zero and the group redelivers from the last commit.
func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Setup(ctx, "warehouse-task-consumer", cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	pg := store.NewPostgresStore(db)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	engine := pricing.NewEngine(logger)
	inv := inventory.NewLedger(engine, logger)
	tasks := task.NewLedger(inv, logger)
	cmdHandler := command.NewHandler(pg, inv, tasks,
		acceptance.NewWorkflow(inv, tasks, logger),
		posting.NewWorkflow(inv, tasks, logger),
		discount.NewWorkflow(engine, logger),
		logger,
	)

	handler := scanner.NewHandler(cmdHandler, idempotency.NewStore(rdb, cfg.IdempotencyTTL), logger)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ScannerTopic, cfg.ConsumerGroup, logger)
	defer consumer.Close()

	logger.Info("consuming scanner messages",
		zap.String("topic", cfg.ScannerTopic),
		zap.String("group", cfg.ConsumerGroup),
	)
	if err := consumer.Consume(ctx, handler.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
		return fmt.Errorf("consume %s: %w", cfg.ScannerTopic, err)
	}
	logger.Info("shutting down")
	return nil
}
