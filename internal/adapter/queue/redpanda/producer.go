// Package redpanda implements the campaign dispatch queue on
// Redpanda/Kafka with transactional produces and a consumer-group
// worker, so an invite is sent at most once per enqueued task.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/domain"
)

// TopicDispatch is the topic carrying pending delivery sends.
const TopicDispatch = "dispatch-deliveries"

// Producer wraps a transactional Kafka producer and implements
// domain.Queue.
type Producer struct {
	client *kgo.Client
	// Serializes transactions; kgo allows one in flight per client.
	txnCh chan struct{}
}

// NewProducer constructs a Producer with exactly-once semantics and
// ensures the dispatch topic exists.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "pulso-dispatch-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID so tests can run producers side by side.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.producer: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, TopicDispatch, 1, 1); err != nil {
		slog.Warn("dispatch topic creation failed, may already exist", slog.Any("error", err))
	}
	return &Producer{client: client, txnCh: make(chan struct{}, 1)}, nil
}

// EnqueueDispatch publishes one delivery send task inside a transaction
// and returns the delivery id as the task id.
func (p *Producer) EnqueueDispatch(ctx domain.Context, payload domain.DispatchTaskPayload) (string, error) {
	select {
	case p.txnCh <- struct{}{}:
		defer func() { <-p.txnCh }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue.marshal: %w", err)
	}
	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("op=queue.enqueue.begin: %w", err)
	}

	record := &kgo.Record{
		Topic: TopicDispatch,
		// Delivery id as key keeps per-delivery ordering.
		Key:   []byte(payload.DeliveryID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "delivery_id", Value: []byte(payload.DeliveryID)},
			{Key: "campaign_id", Value: []byte(payload.CampaignID)},
		},
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("op=queue.enqueue.produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("op=queue.enqueue.commit: %w", err)
	}

	observability.DispatchEnqueued()
	slog.Info("dispatch task enqueued",
		slog.String("delivery_id", payload.DeliveryID),
		slog.String("campaign_id", payload.CampaignID))
	return payload.DeliveryID, nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
