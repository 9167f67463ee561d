package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/pulsohq/pulso/internal/domain"
)

// ConversationRepo is the durable store for conversation state, the
// staged answers, and the completion flush. Save and Complete carry the
// optimistic version check: a row that moved underneath the caller
// yields domain.ErrConflict instead of silently overwriting.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

func marshalHistory(h []domain.Turn) ([]byte, error) {
	if h == nil {
		h = []domain.Turn{}
	}
	return json.Marshal(h)
}

func questionIDParam(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Create inserts a new conversation state for a delivery.
func (r *ConversationRepo) Create(ctx domain.Context, c domain.ConversationState) (domain.ConversationState, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Create")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Version = 1
	c.CreatedAt = time.Now().UTC()
	hist, err := marshalHistory(c.History)
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("op=conv.create.marshal: %w", err)
	}
	q := `INSERT INTO conversations (id, delivery_id, history, current_question_id, completed, version, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.Pool.Exec(ctx, q, c.ID, c.DeliveryID, hist, questionIDParam(c.CurrentQuestionID), c.Completed, c.Version, c.CreatedAt); err != nil {
		return domain.ConversationState{}, fmt.Errorf("op=conv.create: %w", err)
	}
	return c, nil
}

// GetByDelivery loads the conversation owned by the delivery.
func (r *ConversationRepo) GetByDelivery(ctx domain.Context, deliveryID string) (domain.ConversationState, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.GetByDelivery")
	defer span.End()

	q := `SELECT id, delivery_id, history, current_question_id, completed, version, created_at
	      FROM conversations WHERE delivery_id=$1`
	row := r.Pool.QueryRow(ctx, q, deliveryID)
	var c domain.ConversationState
	var hist []byte
	var current *string
	if err := row.Scan(&c.ID, &c.DeliveryID, &hist, &current, &c.Completed, &c.Version, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConversationState{}, fmt.Errorf("op=conv.get: %w", domain.ErrNotFound)
		}
		return domain.ConversationState{}, fmt.Errorf("op=conv.get: %w", err)
	}
	if current != nil {
		c.CurrentQuestionID = *current
	}
	if len(hist) > 0 {
		if err := json.Unmarshal(hist, &c.History); err != nil {
			return domain.ConversationState{}, fmt.Errorf("op=conv.get.unmarshal: %w", err)
		}
	}
	return c, nil
}

// Save persists a non-terminal state mutation with the optimistic
// version check; the in-memory version is bumped on success.
func (r *ConversationRepo) Save(ctx domain.Context, c *domain.ConversationState) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Save")
	defer span.End()

	hist, err := marshalHistory(c.History)
	if err != nil {
		return fmt.Errorf("op=conv.save.marshal: %w", err)
	}
	q := `UPDATE conversations
	      SET history=$2, current_question_id=$3, completed=$4, version=version+1
	      WHERE id=$1 AND version=$5 AND completed=FALSE`
	tag, err := r.Pool.Exec(ctx, q, c.ID, hist, questionIDParam(c.CurrentQuestionID), c.Completed, c.Version)
	if err != nil {
		return fmt.Errorf("op=conv.save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conv.save version=%d: %w", c.Version, domain.ErrConflict)
	}
	c.Version++
	return nil
}

// StagePending records an accepted answer idempotently. Retried webhook
// deliveries and conflict retries overwrite rather than duplicate.
func (r *ConversationRepo) StagePending(ctx domain.Context, deliveryID string, a domain.StagedAnswer) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.StagePending")
	defer span.End()

	const insert = `INSERT INTO pending_answers (id, delivery_id, question_id, kind, text, number, option_id, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	      ON CONFLICT (delivery_id, question_id, option_key) DO UPDATE
	      SET kind=EXCLUDED.kind, text=EXCLUDED.text, number=EXCLUDED.number`

	now := time.Now().UTC()
	switch a.Kind {
	case domain.AnswerOptions:
		// A retried message may resolve to a different option set, so
		// prior rows for the question are dropped before re-staging.
		if _, err := r.Pool.Exec(ctx,
			`DELETE FROM pending_answers WHERE delivery_id=$1 AND question_id=$2`,
			deliveryID, a.QuestionID); err != nil {
			return fmt.Errorf("op=conv.stage.reset: %w", err)
		}
		for _, optID := range a.OptionIDs {
			optID := optID
			if _, err := r.Pool.Exec(ctx, insert,
				uuid.New().String(), deliveryID, a.QuestionID, a.Kind, nil, nil, &optID, now); err != nil {
				return fmt.Errorf("op=conv.stage option=%s: %w", optID, err)
			}
		}
		return nil
	case domain.AnswerText:
		if _, err := r.Pool.Exec(ctx, insert,
			uuid.New().String(), deliveryID, a.QuestionID, a.Kind, &a.Text, nil, nil, now); err != nil {
			return fmt.Errorf("op=conv.stage: %w", err)
		}
		return nil
	case domain.AnswerNumber:
		if _, err := r.Pool.Exec(ctx, insert,
			uuid.New().String(), deliveryID, a.QuestionID, a.Kind, nil, &a.Number, nil, now); err != nil {
			return fmt.Errorf("op=conv.stage: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: answer kind %q", domain.ErrInvalidArgument, a.Kind)
	}
}

// ListPending returns the staged answers grouped back into one
// StagedAnswer per question, in staging order.
func (r *ConversationRepo) ListPending(ctx domain.Context, deliveryID string) ([]domain.StagedAnswer, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.ListPending")
	defer span.End()

	q := `SELECT question_id, kind, text, number, option_id FROM pending_answers
	      WHERE delivery_id=$1 ORDER BY created_at, id`
	rows, err := r.Pool.Query(ctx, q, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("op=conv.list_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.StagedAnswer
	index := map[string]int{}
	for rows.Next() {
		var (
			questionID string
			kind       domain.AnswerKind
			text       *string
			number     *float64
			optionID   *string
		)
		if err := rows.Scan(&questionID, &kind, &text, &number, &optionID); err != nil {
			return nil, fmt.Errorf("op=conv.list_pending.scan: %w", err)
		}
		i, ok := index[questionID]
		if !ok {
			i = len(out)
			index[questionID] = i
			out = append(out, domain.StagedAnswer{QuestionID: questionID, Kind: kind})
		}
		switch kind {
		case domain.AnswerText:
			if text != nil {
				out[i].Text = *text
			}
		case domain.AnswerNumber:
			if number != nil {
				out[i].Number = *number
			}
		case domain.AnswerOptions:
			if optionID != nil {
				out[i].OptionIDs = append(out[i].OptionIDs, *optionID)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conv.list_pending: %w", err)
	}
	return out, nil
}

// Complete is the terminal flush: inside one transaction it re-validates
// the state row with the version check, creates the response and its
// structured answer rows, clears the staging table, and flips the
// delivery to responded. On any error nothing is committed, so the
// respondent may safely resend the same answer.
func (r *ConversationRepo) Complete(ctx domain.Context, c *domain.ConversationState, staged []domain.StagedAnswer) (string, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Complete")
	defer span.End()

	hist, err := marshalHistory(c.History)
	if err != nil {
		return "", fmt.Errorf("op=conv.complete.marshal: %w", err)
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=conv.complete.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Optimistic re-validation right before the flush commits.
	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET history=$2, current_question_id=NULL, completed=TRUE, version=version+1
		 WHERE id=$1 AND version=$3 AND completed=FALSE`,
		c.ID, hist, c.Version)
	if err != nil {
		return "", fmt.Errorf("op=conv.complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("op=conv.complete version=%d: %w", c.Version, domain.ErrConflict)
	}

	responseID := uuid.New().String()
	if _, err := tx.Exec(ctx,
		`INSERT INTO responses (id, delivery_id, received_at) VALUES ($1,$2,$3)`,
		responseID, c.DeliveryID, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("op=conv.complete.response: %w", err)
	}

	const insertAnswer = `INSERT INTO response_answers (id, response_id, question_id, text, number, option_id)
	      VALUES ($1,$2,$3,$4,$5,$6)`
	for _, a := range staged {
		switch a.Kind {
		case domain.AnswerText:
			if _, err := tx.Exec(ctx, insertAnswer,
				uuid.New().String(), responseID, a.QuestionID, &a.Text, nil, nil); err != nil {
				return "", fmt.Errorf("op=conv.complete.answer: %w", err)
			}
		case domain.AnswerNumber:
			if _, err := tx.Exec(ctx, insertAnswer,
				uuid.New().String(), responseID, a.QuestionID, nil, &a.Number, nil); err != nil {
				return "", fmt.Errorf("op=conv.complete.answer: %w", err)
			}
		case domain.AnswerOptions:
			// One permanent row per selected option.
			for _, optID := range a.OptionIDs {
				optID := optID
				if _, err := tx.Exec(ctx, insertAnswer,
					uuid.New().String(), responseID, a.QuestionID, nil, nil, &optID); err != nil {
					return "", fmt.Errorf("op=conv.complete.answer option=%s: %w", optID, err)
				}
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pending_answers WHERE delivery_id=$1`, c.DeliveryID); err != nil {
		return "", fmt.Errorf("op=conv.complete.clear_pending: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE deliveries SET status=$2, responded_at=$3 WHERE id=$1`,
		c.DeliveryID, domain.DeliveryResponded, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("op=conv.complete.delivery: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=conv.complete.commit: %w", err)
	}

	c.Completed = true
	c.CurrentQuestionID = ""
	c.Version++
	return responseID, nil
}
