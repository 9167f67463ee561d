// Command server starts the Pulso webhook and ops HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	openaicli "github.com/pulsohq/pulso/internal/adapter/ai/openai"
	httpserver "github.com/pulsohq/pulso/internal/adapter/httpserver"
	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/adapter/queue/redpanda"
	"github.com/pulsohq/pulso/internal/adapter/repo/postgres"
	"github.com/pulsohq/pulso/internal/adapter/session"
	"github.com/pulsohq/pulso/internal/adapter/whatsapp"
	"github.com/pulsohq/pulso/internal/app"
	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
	"github.com/pulsohq/pulso/internal/usecase"
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

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := session.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer func() { _ = rdb.Close() }()
	sessions := session.New(rdb, cfg.SessionTTL)

	templates := postgres.NewTemplateRepo(pool)
	deliveries := postgres.NewDeliveryRepo(pool)
	campaigns := postgres.NewCampaignRepo(pool)
	conversations := postgres.NewConversationRepo(pool)

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	aicl := openaicli.New(cfg)
	messenger := whatsapp.New(cfg)

	matcher := usecase.Matcher{Classifier: aicl}
	var rephraser domain.Rephraser
	if cfg.RephraseEnabled {
		rephraser = aicl
	}
	engine := usecase.NewConversationEngine(conversations, templates, matcher, rephraser)
	inbound := usecase.NewInboundService(sessions, deliveries, conversations, engine, messenger)
	dispatch := usecase.NewDispatchService(campaigns, deliveries, producer)

	limiter := session.NewPhoneLimiter(rdb, cfg.InboundPerMinute)
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rdb)
	srv := httpserver.NewServer(cfg, inbound, dispatch, sessions, messenger, limiter, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
