package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/pulsohq/pulso/internal/domain"
)

// CampaignRepo loads campaigns for dispatch.
type CampaignRepo struct{ Pool PgxPool }

// NewCampaignRepo constructs a CampaignRepo with the given pool.
func NewCampaignRepo(p PgxPool) *CampaignRepo { return &CampaignRepo{Pool: p} }

// Get loads a campaign by id.
func (r *CampaignRepo) Get(ctx domain.Context, id string) (domain.Campaign, error) {
	tracer := otel.Tracer("repo.campaigns")
	ctx, span := tracer.Start(ctx, "campaigns.Get")
	defer span.End()

	q := `SELECT id, name, template_id, channel, scheduled_at, created_at FROM campaigns WHERE id=$1`
	var c domain.Campaign
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.TemplateID, &c.Channel, &c.ScheduledAt, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Campaign{}, fmt.Errorf("op=campaign.get: %w", domain.ErrNotFound)
		}
		return domain.Campaign{}, fmt.Errorf("op=campaign.get: %w", err)
	}
	return c, nil
}
