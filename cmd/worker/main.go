// Command worker consumes campaign dispatch tasks and sends the survey
// invitations through the WhatsApp gateway.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/adapter/queue/redpanda"
	"github.com/pulsohq/pulso/internal/adapter/repo/postgres"
	"github.com/pulsohq/pulso/internal/adapter/session"
	"github.com/pulsohq/pulso/internal/adapter/whatsapp"
	"github.com/pulsohq/pulso/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := session.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer func() { _ = rdb.Close() }()

	deliveries := postgres.NewDeliveryRepo(pool)
	sessions := session.New(rdb, cfg.SessionTTL)
	messenger := whatsapp.New(cfg)

	handler := redpanda.NewDispatchHandler(cfg, deliveries, messenger, sessions)
	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.DispatchConsumerGroup, handler)
	if err != nil {
		slog.Error("redpanda consumer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	slog.Info("dispatch worker starting", slog.String("group", cfg.DispatchConsumerGroup))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("dispatch worker stopped")
}
