// Package usecase contains the conversational survey business logic:
// the answer matcher, the conversation engine, the inbound router, and
// the campaign dispatch service.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/domain"
)

// EngineResult is what one engine operation hands back to the router:
// the outbound content plus where the conversation ended up.
type EngineResult struct {
	AlreadyCompleted bool
	Completed        bool
	Reprompt         bool
	ResponseID       string
	Message          string
	// Options is non-empty when Message prompts a select-type question;
	// the gateway decides list versus button rendering.
	Options []string
}

// ConversationEngine is the per-delivery state machine:
// NotStarted → InProgress(question) → Completed, with a self-loop on
// re-prompt. All durable mutation goes through the conversation repo,
// which enforces the optimistic version check.
type ConversationEngine struct {
	Conversations domain.ConversationRepo
	Templates     domain.TemplateRepo
	Matcher       Matcher
	Rephraser     domain.Rephraser // nil disables conversational rewording
}

// NewConversationEngine constructs an engine with its dependencies.
func NewConversationEngine(conv domain.ConversationRepo, tpl domain.TemplateRepo, m Matcher, rp domain.Rephraser) *ConversationEngine {
	return &ConversationEngine{Conversations: conv, Templates: tpl, Matcher: m, Rephraser: rp}
}

// Start creates the conversation state at the template's first question
// and returns the first prompt. Reuses an existing state so a retried
// confirmation cannot fork the conversation.
func (e *ConversationEngine) Start(ctx domain.Context, d domain.Delivery) (EngineResult, error) {
	tpl, err := e.Templates.Get(ctx, d.TemplateID)
	if err != nil {
		return EngineResult{}, err
	}
	first, ok := tpl.FirstQuestion()
	if !ok {
		return EngineResult{}, fmt.Errorf("%w: template %s has no questions", domain.ErrInvalidArgument, tpl.ID)
	}

	conv, err := e.Conversations.GetByDelivery(ctx, d.ID)
	switch {
	case err == nil:
		if conv.Completed {
			return EngineResult{AlreadyCompleted: true, Message: msgAlreadyCompleted}, nil
		}
		// Resume mid-survey at the current question.
		if q, found := tpl.QuestionByID(conv.CurrentQuestionID); found {
			first = q
		}
	case errors.Is(err, domain.ErrNotFound):
		conv = domain.ConversationState{DeliveryID: d.ID, CurrentQuestionID: first.ID}
		conv.AppendTurn(domain.RoleAssistant, first.Text)
		if conv, err = e.Conversations.Create(ctx, conv); err != nil {
			return EngineResult{}, err
		}
		observability.ConversationStarted()
	default:
		return EngineResult{}, err
	}

	res := EngineResult{Message: first.Text}
	if first.Type.HasOptions() {
		res.Options = first.OptionLabels()
	}
	return res, nil
}

// ProcessIncoming runs one respondent message through the state machine.
// An optimistic conflict (a near-simultaneous event already advanced the
// state) is retried once against fresh state; the later writer never
// silently overwrites a concurrent advance.
func (e *ConversationEngine) ProcessIncoming(ctx domain.Context, d domain.Delivery, text string) (EngineResult, error) {
	res, err := e.processOnce(ctx, d, text)
	if errors.Is(err, domain.ErrConflict) {
		slog.Warn("conversation state conflict, retrying with fresh state",
			slog.String("delivery_id", d.ID))
		observability.ConversationConflict()
		res, err = e.processOnce(ctx, d, text)
	}
	return res, err
}

func (e *ConversationEngine) processOnce(ctx domain.Context, d domain.Delivery, text string) (EngineResult, error) {
	conv, err := e.Conversations.GetByDelivery(ctx, d.ID)
	if err != nil {
		return EngineResult{}, err
	}
	// Terminal state: fixed reply, no history mutation.
	if conv.Completed {
		return EngineResult{AlreadyCompleted: true, Message: msgAlreadyCompleted}, nil
	}

	tpl, err := e.Templates.Get(ctx, d.TemplateID)
	if err != nil {
		return EngineResult{}, err
	}
	q, ok := tpl.QuestionByID(conv.CurrentQuestionID)
	if !ok {
		return EngineResult{}, fmt.Errorf("%w: current question %s", domain.ErrNotFound, conv.CurrentQuestionID)
	}

	conv.AppendTurn(domain.RoleUser, text)

	outcome := e.Matcher.Match(ctx, q, text)
	if !outcome.OK {
		// The log reflects every round-trip, re-prompts included.
		conv.AppendTurn(domain.RoleAssistant, outcome.Reprompt)
		if err := e.Conversations.Save(ctx, &conv); err != nil {
			return EngineResult{}, err
		}
		observability.AnswerRejected(string(q.Type))
		return EngineResult{Reprompt: true, Message: outcome.Reprompt}, nil
	}

	if err := e.Conversations.StagePending(ctx, d.ID, outcome.Answer); err != nil {
		return EngineResult{}, err
	}
	observability.AnswerAccepted(string(q.Type))

	next, found := tpl.NextQuestion(q.Order)
	if !found {
		return e.complete(ctx, &conv)
	}

	prompt := e.promptFor(ctx, next, conv.History)
	conv.CurrentQuestionID = next.ID
	conv.AppendTurn(domain.RoleAssistant, prompt)
	if err := e.Conversations.Save(ctx, &conv); err != nil {
		return EngineResult{}, err
	}

	res := EngineResult{Message: prompt}
	if next.Type.HasOptions() {
		res.Options = next.OptionLabels()
	}
	return res, nil
}

// complete flushes the staged answers into permanent response rows and
// marks the conversation terminal, all inside one transaction owned by
// the repository. On persistence failure nothing is committed and the
// respondent may safely resend the same answer.
func (e *ConversationEngine) complete(ctx domain.Context, conv *domain.ConversationState) (EngineResult, error) {
	staged, err := e.Conversations.ListPending(ctx, conv.DeliveryID)
	if err != nil {
		return EngineResult{}, err
	}
	responseID, err := e.Conversations.Complete(ctx, conv, staged)
	if err != nil {
		return EngineResult{}, err
	}
	observability.ConversationCompleted()
	return EngineResult{
		Completed:  true,
		ResponseID: responseID,
		Message:    completionMessage(responseID),
	}, nil
}

// promptFor returns the outbound text for the next question. Rephrasing
// is cosmetic; any failure falls back to the literal question text.
func (e *ConversationEngine) promptFor(ctx domain.Context, q domain.Question, history []domain.Turn) string {
	if e.Rephraser == nil {
		return q.Text
	}
	rephrased, err := e.Rephraser.Rephrase(ctx, q, history)
	if err != nil || rephrased == "" {
		if err != nil {
			slog.Debug("rephrase failed, using literal question text",
				slog.String("question_id", q.ID), slog.Any("error", err))
		}
		return q.Text
	}
	return rephrased
}
