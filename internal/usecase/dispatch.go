package usecase

import (
	"fmt"

	"github.com/pulsohq/pulso/internal/domain"
)

// DispatchService fans a campaign out into one queue task per pending
// delivery. The worker performs the actual gateway sends so the HTTP
// request returns as soon as the batch is enqueued.
type DispatchService struct {
	Campaigns  domain.CampaignRepo
	Deliveries domain.DeliveryRepo
	Queue      domain.Queue
}

// NewDispatchService constructs a DispatchService with its dependencies.
func NewDispatchService(c domain.CampaignRepo, d domain.DeliveryRepo, q domain.Queue) DispatchService {
	return DispatchService{Campaigns: c, Deliveries: d, Queue: q}
}

// EnqueueCampaign enqueues every pending delivery of the campaign and
// returns how many tasks were produced. Deliveries without a phone are
// skipped and marked failed; they can never receive the invite.
func (s DispatchService) EnqueueCampaign(ctx domain.Context, campaignID string) (int, error) {
	c, err := s.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Channel != domain.ChannelWhatsApp {
		return 0, fmt.Errorf("%w: campaign %s is not on the whatsapp channel", domain.ErrInvalidArgument, campaignID)
	}
	deliveries, err := s.Deliveries.ListPendingByCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, d := range deliveries {
		if d.Recipient.Phone == "" {
			_ = s.Deliveries.MarkFailed(ctx, d.ID)
			continue
		}
		payload := domain.DispatchTaskPayload{
			DeliveryID:   d.ID,
			CampaignID:   c.ID,
			CampaignName: c.Name,
			Phone:        d.Recipient.Phone,
			Recipient:    d.Recipient.Name,
		}
		if _, err := s.Queue.EnqueueDispatch(ctx, payload); err != nil {
			return enqueued, fmt.Errorf("op=dispatch.enqueue delivery=%s: %w", d.ID, err)
		}
		enqueued++
	}
	return enqueued, nil
}
