package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/pulsohq/pulso/internal/domain"
)

// DeliveryRepo persists deliveries and resolves respondent phone
// identity to in-flight deliveries.
type DeliveryRepo struct{ Pool PgxPool }

// NewDeliveryRepo constructs a DeliveryRepo with the given pool.
func NewDeliveryRepo(p PgxPool) *DeliveryRepo { return &DeliveryRepo{Pool: p} }

const deliveryColumns = `d.id, d.campaign_id, d.recipient_id, d.channel, d.status, d.sent_at, d.responded_at,
	r.id, COALESCE(r.name,''), COALESCE(r.phone,''), COALESCE(r.email,''),
	c.name, c.template_id`

const deliveryJoin = `FROM deliveries d
	JOIN recipients r ON r.id = d.recipient_id
	JOIN campaigns c ON c.id = d.campaign_id`

func scanDelivery(row pgx.Row) (domain.Delivery, error) {
	var d domain.Delivery
	err := row.Scan(&d.ID, &d.CampaignID, &d.RecipientID, &d.Channel, &d.Status, &d.SentAt, &d.RespondedAt,
		&d.Recipient.ID, &d.Recipient.Name, &d.Recipient.Phone, &d.Recipient.Email,
		&d.CampaignName, &d.TemplateID)
	return d, err
}

// Get loads a delivery hydrated with its recipient and campaign.
func (r *DeliveryRepo) Get(ctx domain.Context, id string) (domain.Delivery, error) {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.Get")
	defer span.End()

	q := `SELECT ` + deliveryColumns + ` ` + deliveryJoin + ` WHERE d.id=$1`
	d, err := scanDelivery(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Delivery{}, fmt.Errorf("op=delivery.get: %w", domain.ErrNotFound)
		}
		return domain.Delivery{}, fmt.Errorf("op=delivery.get: %w", err)
	}
	return d, nil
}

// FindAwaitingByPhone returns the most recent delivery on the channel
// that was sent to the phone and has not been responded yet.
func (r *DeliveryRepo) FindAwaitingByPhone(ctx domain.Context, phone string, ch domain.Channel) (domain.Delivery, error) {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.FindAwaitingByPhone")
	defer span.End()

	q := `SELECT ` + deliveryColumns + ` ` + deliveryJoin + `
	      WHERE r.phone=$1 AND d.channel=$2 AND d.status=$3
	      ORDER BY d.sent_at DESC NULLS LAST LIMIT 1`
	d, err := scanDelivery(r.Pool.QueryRow(ctx, q, phone, ch, domain.DeliverySent))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Delivery{}, fmt.Errorf("op=delivery.find_awaiting: %w", domain.ErrNotFound)
		}
		return domain.Delivery{}, fmt.Errorf("op=delivery.find_awaiting: %w", err)
	}
	return d, nil
}

// ListPendingByCampaign returns the campaign's deliveries still waiting
// for dispatch, hydrated for the queue payload.
func (r *DeliveryRepo) ListPendingByCampaign(ctx domain.Context, campaignID string) ([]domain.Delivery, error) {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.ListPendingByCampaign")
	defer span.End()

	q := `SELECT ` + deliveryColumns + ` ` + deliveryJoin + `
	      WHERE d.campaign_id=$1 AND d.status=$2 ORDER BY d.id`
	rows, err := r.Pool.Query(ctx, q, campaignID, domain.DeliveryPending)
	if err != nil {
		return nil, fmt.Errorf("op=delivery.list_pending: %w", err)
	}
	defer rows.Close()
	var out []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("op=delivery.list_pending.scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=delivery.list_pending: %w", err)
	}
	return out, nil
}

// MarkSent flips a delivery to sent and stamps sent_at.
func (r *DeliveryRepo) MarkSent(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.MarkSent")
	defer span.End()

	q := `UPDATE deliveries SET status=$2, sent_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.DeliverySent, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=delivery.mark_sent: %w", err)
	}
	return nil
}

// MarkFailed flips a delivery to failed.
func (r *DeliveryRepo) MarkFailed(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.deliveries")
	ctx, span := tracer.Start(ctx, "deliveries.MarkFailed")
	defer span.End()

	q := `UPDATE deliveries SET status=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.DeliveryFailed); err != nil {
		return fmt.Errorf("op=delivery.mark_failed: %w", err)
	}
	return nil
}
