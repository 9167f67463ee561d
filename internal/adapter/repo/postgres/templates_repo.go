package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/pulsohq/pulso/internal/domain"
)

// TemplateRepo loads survey templates with their questions and options.
type TemplateRepo struct{ Pool PgxPool }

// NewTemplateRepo constructs a TemplateRepo with the given pool.
func NewTemplateRepo(p PgxPool) *TemplateRepo { return &TemplateRepo{Pool: p} }

// Get loads a template including its ordered questions and options.
func (r *TemplateRepo) Get(ctx domain.Context, id string) (domain.Template, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.Get")
	defer span.End()

	q := `SELECT id, name, COALESCE(description,''), active, created_at FROM templates WHERE id=$1`
	var t domain.Template
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Description, &t.Active, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Template{}, fmt.Errorf("op=template.get: %w", domain.ErrNotFound)
		}
		return domain.Template{}, fmt.Errorf("op=template.get: %w", err)
	}

	qq := `SELECT id, ord, text, question_type, required FROM questions WHERE template_id=$1 ORDER BY ord`
	rows, err := r.Pool.Query(ctx, qq, id)
	if err != nil {
		return domain.Template{}, fmt.Errorf("op=template.questions: %w", err)
	}
	defer rows.Close()
	byID := map[string]int{}
	for rows.Next() {
		var question domain.Question
		if err := rows.Scan(&question.ID, &question.Order, &question.Text, &question.Type, &question.Required); err != nil {
			return domain.Template{}, fmt.Errorf("op=template.questions.scan: %w", err)
		}
		byID[question.ID] = len(t.Questions)
		t.Questions = append(t.Questions, question)
	}
	if err := rows.Err(); err != nil {
		return domain.Template{}, fmt.Errorf("op=template.questions: %w", err)
	}

	oq := `SELECT o.id, o.question_id, o.label, COALESCE(o.value,'')
	       FROM options o JOIN questions q ON q.id = o.question_id
	       WHERE q.template_id=$1 ORDER BY q.ord, o.position`
	orows, err := r.Pool.Query(ctx, oq, id)
	if err != nil {
		return domain.Template{}, fmt.Errorf("op=template.options: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		var opt domain.Option
		var questionID string
		if err := orows.Scan(&opt.ID, &questionID, &opt.Label, &opt.Value); err != nil {
			return domain.Template{}, fmt.Errorf("op=template.options.scan: %w", err)
		}
		if i, ok := byID[questionID]; ok {
			t.Questions[i].Options = append(t.Questions[i].Options, opt)
		}
	}
	if err := orows.Err(); err != nil {
		return domain.Template{}, fmt.Errorf("op=template.options: %w", err)
	}
	return t, nil
}

// Create inserts a template with its questions and options in one
// transaction. Used by the seeder.
func (r *TemplateRepo) Create(ctx domain.Context, t domain.Template) (string, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.Create")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=template.create.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO templates (id, name, description, active, created_at) VALUES ($1,$2,$3,$4,$5)`,
		id, t.Name, t.Description, t.Active, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("op=template.create: %w", err)
	}
	for _, q := range t.Questions {
		qid := q.ID
		if qid == "" {
			qid = uuid.New().String()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO questions (id, template_id, ord, text, question_type, required) VALUES ($1,$2,$3,$4,$5,$6)`,
			qid, id, q.Order, q.Text, q.Type, q.Required); err != nil {
			return "", fmt.Errorf("op=template.create.question: %w", err)
		}
		for pos, o := range q.Options {
			oid := o.ID
			if oid == "" {
				oid = uuid.New().String()
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO options (id, question_id, position, label, value) VALUES ($1,$2,$3,$4,$5)`,
				oid, qid, pos, o.Label, o.Value); err != nil {
				return "", fmt.Errorf("op=template.create.option: %w", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=template.create.commit: %w", err)
	}
	return id, nil
}
