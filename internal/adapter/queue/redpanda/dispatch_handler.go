package redpanda

import (
	"fmt"

	"log/slog"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
	"github.com/pulsohq/pulso/internal/usecase"
)

// DispatchHandler sends the survey invitation for one dispatch task.
// Gateway sends are retried with exponential backoff; nothing else in
// the pipeline retries, so exhaustion marks the delivery failed.
type DispatchHandler struct {
	cfg        config.Config
	deliveries domain.DeliveryRepo
	messenger  domain.Messenger
	sessions   domain.SessionStore
}

// NewDispatchHandler constructs a DispatchHandler.
func NewDispatchHandler(cfg config.Config, d domain.DeliveryRepo, m domain.Messenger, s domain.SessionStore) *DispatchHandler {
	return &DispatchHandler{cfg: cfg, deliveries: d, messenger: m, sessions: s}
}

func (h *DispatchHandler) newBackoff() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = h.cfg.DispatchBackoffMaxElapsed
	expo.InitialInterval = h.cfg.DispatchBackoffInitialInterval
	expo.MaxInterval = h.cfg.DispatchBackoffMaxInterval
	return expo
}

// Handle processes one dispatch task. Re-delivered tasks whose delivery
// already left the pending state are acknowledged without a send.
func (h *DispatchHandler) Handle(ctx domain.Context, payload domain.DispatchTaskPayload) error {
	d, err := h.deliveries.Get(ctx, payload.DeliveryID)
	if err != nil {
		return fmt.Errorf("op=dispatch.handle delivery=%s: %w", payload.DeliveryID, err)
	}
	if d.Status != domain.DeliveryPending {
		slog.Info("dispatch task skipped, delivery not pending",
			slog.String("delivery_id", d.ID),
			slog.String("status", string(d.Status)))
		return nil
	}

	invite := usecase.InviteMessage(payload.Recipient, payload.CampaignName)
	send := func() error {
		return h.messenger.SendConfirm(ctx, payload.Phone, invite)
	}
	if err := backoff.Retry(send, backoff.WithContext(h.newBackoff(), ctx)); err != nil {
		observability.DispatchFailed()
		if markErr := h.deliveries.MarkFailed(ctx, d.ID); markErr != nil {
			slog.Error("failed to mark delivery failed", slog.Any("error", markErr))
		}
		return fmt.Errorf("op=dispatch.handle.send delivery=%s: %w", d.ID, err)
	}

	if err := h.deliveries.MarkSent(ctx, d.ID); err != nil {
		return fmt.Errorf("op=dispatch.handle.mark_sent delivery=%s: %w", d.ID, err)
	}
	// Flag is advisory; a failure here only costs one extra INICIAR.
	if err := h.sessions.Set(ctx, payload.Phone, domain.StageAwaitingConfirmation); err != nil {
		slog.Warn("failed to set session flag after invite", slog.Any("error", err))
	}
	observability.DispatchSent()
	slog.Info("survey invite sent",
		slog.String("delivery_id", d.ID),
		slog.String("campaign_id", payload.CampaignID))
	return nil
}
