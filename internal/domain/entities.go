// Package domain holds the survey entities, the error taxonomy, and the
// ports implemented by the adapters.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyCompleted = errors.New("conversation already completed")
	ErrUndetermined     = errors.New("answer undetermined")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
	ErrUpstreamAI       = errors.New("upstream ai failure")
	ErrInternal         = errors.New("internal error")
)

// QuestionType is the closed set of supported question types.
type QuestionType string

const (
	QuestionFreeText     QuestionType = "free_text"
	QuestionNumeric      QuestionType = "numeric"
	QuestionSingleSelect QuestionType = "single_select"
	QuestionMultiSelect  QuestionType = "multi_select"
)

// HasOptions reports whether the question type carries an option set.
func (t QuestionType) HasOptions() bool {
	return t == QuestionSingleSelect || t == QuestionMultiSelect
}

// Option is one selectable answer of a select-type question.
type Option struct {
	ID    string
	Label string
	Value string
}

// Question is immutable within a conversation.
// Invariant: Order values are unique and dense (1-based) within a template.
type Question struct {
	ID       string
	Order    int
	Text     string
	Type     QuestionType
	Required bool
	Options  []Option
}

// OptionLabels returns the labels in their defined order.
func (q Question) OptionLabels() []string {
	labels := make([]string, len(q.Options))
	for i, o := range q.Options {
		labels[i] = o.Label
	}
	return labels
}

// Template is an ordered list of questions reusable across campaigns.
type Template struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Questions   []Question
	CreatedAt   time.Time
}

// FirstQuestion returns the question with the lowest order.
func (t Template) FirstQuestion() (Question, bool) {
	if len(t.Questions) == 0 {
		return Question{}, false
	}
	first := t.Questions[0]
	for _, q := range t.Questions[1:] {
		if q.Order < first.Order {
			first = q
		}
	}
	return first, true
}

// QuestionByID looks a question up within the template.
func (t Template) QuestionByID(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// NextQuestion returns the question with the smallest order strictly
// greater than the given order, if any.
func (t Template) NextQuestion(after int) (Question, bool) {
	var next Question
	found := false
	for _, q := range t.Questions {
		if q.Order <= after {
			continue
		}
		if !found || q.Order < next.Order {
			next, found = q, true
		}
	}
	return next, found
}

// Channel identifies the delivery transport of a campaign.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// DeliveryStatus is the lifecycle of one survey delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryResponded DeliveryStatus = "responded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Recipient is the addressee of deliveries; Phone is the respondent
// identity on the WhatsApp channel (digits only).
type Recipient struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// Campaign binds a template to a channel and a batch of deliveries.
type Campaign struct {
	ID          string
	Name        string
	TemplateID  string
	Channel     Channel
	ScheduledAt *time.Time
	CreatedAt   time.Time
}

// Delivery is one survey instance sent to one recipient through one channel.
type Delivery struct {
	ID          string
	CampaignID  string
	RecipientID string
	Channel     Channel
	Status      DeliveryStatus
	SentAt      *time.Time
	RespondedAt *time.Time

	// Hydrated by the repositories for routing and the engine.
	Recipient    Recipient
	CampaignName string
	TemplateID   string
}

// Response is the finalized set of answers for one completed delivery.
type Response struct {
	ID         string
	DeliveryID string
	ReceivedAt time.Time
}

// ResponseAnswer is one permanent structured answer row. Exactly one of
// Text, Number, or OptionID is set; a MultiSelect answer flattens to one
// row per selected option, all sharing the response id.
type ResponseAnswer struct {
	ID         string
	ResponseID string
	QuestionID string
	Text       *string
	Number     *float64
	OptionID   *string
}

// DispatchTaskPayload is the unit of work for the campaign dispatch worker.
type DispatchTaskPayload struct {
	DeliveryID   string `json:"delivery_id"`
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Phone        string `json:"phone"`
	Recipient    string `json:"recipient"`
}

// Repositories (ports)

// TemplateRepo loads templates with their questions and options.
type TemplateRepo interface {
	Get(ctx Context, id string) (Template, error)
	Create(ctx Context, t Template) (string, error)
}

// DeliveryRepo persists deliveries and resolves respondent identity to
// in-flight deliveries.
type DeliveryRepo interface {
	Get(ctx Context, id string) (Delivery, error)
	// FindAwaitingByPhone returns the most recent delivery on the given
	// channel that has been sent but not yet responded.
	FindAwaitingByPhone(ctx Context, phone string, ch Channel) (Delivery, error)
	ListPendingByCampaign(ctx Context, campaignID string) ([]Delivery, error)
	MarkSent(ctx Context, id string) error
	MarkFailed(ctx Context, id string) error
}

// CampaignRepo loads campaigns for dispatch.
type CampaignRepo interface {
	Get(ctx Context, id string) (Campaign, error)
}

// Queue enqueues dispatch tasks for the worker.
type Queue interface {
	EnqueueDispatch(ctx Context, payload DispatchTaskPayload) (string, error)
}

// Context is an alias so the domain does not spell out the std context
// import at every port method; adapters pass context.Context through.
type Context = context.Context
