package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/pulsohq/pulso/internal/domain"
)

// Handler processes one decoded dispatch task.
type Handler interface {
	Handle(ctx domain.Context, payload domain.DispatchTaskPayload) error
}

// Consumer polls the dispatch topic within a consumer group and hands
// each task to the handler. Offsets are marked only after the handler
// returns, so a crashed worker replays the task; the handler tolerates
// replays by checking delivery status.
type Consumer struct {
	client  *kgo.Client
	handler Handler
}

// NewConsumer constructs a Consumer joined to the given group.
func NewConsumer(brokers []string, groupID string, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.consumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=queue.consumer: missing group id")
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicDispatch),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, TopicDispatch, 1, 1); err != nil {
		slog.Warn("dispatch topic creation failed, may already exist", slog.Any("error", err))
	}
	return &Consumer{client: client, handler: handler}, nil
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("dispatch consumer started", slog.String("topic", TopicDispatch))
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Any("error", fe.Err))
			}
			continue
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			c.processRecord(ctx, rec)
		})
	}
}

func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) {
	var payload domain.DispatchTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		// Poison record: log and mark so it is not replayed forever.
		slog.Error("undecodable dispatch task dropped",
			slog.String("topic", rec.Topic),
			slog.Int64("offset", rec.Offset),
			slog.Any("error", err))
		c.client.MarkCommitRecords(rec)
		return
	}
	if err := c.handler.Handle(ctx, payload); err != nil {
		slog.Error("dispatch task failed",
			slog.String("delivery_id", payload.DeliveryID),
			slog.Any("error", err))
	}
	c.client.MarkCommitRecords(rec)
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
