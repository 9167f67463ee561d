package domain

import "time"

// TurnRole distinguishes who produced a history entry.
type TurnRole string

const (
	RoleAssistant TurnRole = "assistant"
	RoleUser      TurnRole = "user"
)

// Turn is one entry of the append-only conversation history.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the durable record of where a respondent is in
// the flow. Owned by its delivery (cascade on delete) and mutated only
// by the conversation engine.
//
// Invariants: History is append-only; once Completed is true the state
// is terminal and CurrentQuestionID is empty. Version backs the
// optimistic concurrency check in the repository.
type ConversationState struct {
	ID                string
	DeliveryID        string
	History           []Turn
	CurrentQuestionID string
	Completed         bool
	Version           int
	CreatedAt         time.Time
}

// AppendTurn records one round-trip entry in the history log.
func (c *ConversationState) AppendTurn(role TurnRole, content string) {
	c.History = append(c.History, Turn{Role: role, Content: content, Timestamp: time.Now().UTC()})
}

// AnswerKind tags which member of a StagedAnswer is populated.
type AnswerKind string

const (
	AnswerText    AnswerKind = "text"
	AnswerNumber  AnswerKind = "number"
	AnswerOptions AnswerKind = "options"
)

// StagedAnswer is a not-yet-committed structured value held during an
// in-progress conversation; promoted to ResponseAnswer rows only when
// the conversation completes.
type StagedAnswer struct {
	QuestionID string
	Kind       AnswerKind
	Text       string
	Number     float64
	OptionIDs  []string
}

// SessionStage is the advisory per-respondent routing flag. It is not
// business data: losing it never corrupts the durable state, which can
// rebuild it from the most recent non-completed conversation.
type SessionStage string

const (
	StageNone                 SessionStage = ""
	StageAwaitingConfirmation SessionStage = "awaiting_confirmation"
	StageSurveyInProgress     SessionStage = "survey_in_progress"
)

// InboundKind classifies a transport-normalized webhook event.
type InboundKind string

const (
	InboundMessage InboundKind = "message"
	InboundStatus  InboundKind = "status"
	InboundEcho    InboundKind = "echo"
	InboundNonText InboundKind = "non_text"
	InboundUnknown InboundKind = "unknown"
)

// InboundEvent is one normalized webhook event.
type InboundEvent struct {
	Kind      InboundKind
	Phone     string
	Text      string
	PayloadID string
	MessageID string
	Timestamp time.Time
}

// Classification is the strict result of one AI-assisted option match.
// Rationale is logged, never surfaced to the respondent.
type Classification struct {
	Indices      []int
	Undetermined bool
	Rationale    string
}

// Conversation and answer ports

// ConversationRepo is the durable store for conversation state and the
// staged/flushed answers. Save and Complete enforce the optimistic
// version check and return ErrConflict when the row moved underneath.
type ConversationRepo interface {
	Create(ctx Context, c ConversationState) (ConversationState, error)
	// GetByDelivery loads the conversation owned by the delivery
	// (one-to-one), completed or not.
	GetByDelivery(ctx Context, deliveryID string) (ConversationState, error)
	Save(ctx Context, c *ConversationState) error
	// StagePending records an accepted answer idempotently; retried
	// webhook deliveries must not duplicate rows.
	StagePending(ctx Context, deliveryID string, a StagedAnswer) error
	ListPending(ctx Context, deliveryID string) ([]StagedAnswer, error)
	// Complete flushes the staged answers into permanent response rows,
	// marks the conversation terminal, and flips the delivery to
	// responded, all in a single transaction.
	Complete(ctx Context, c *ConversationState, staged []StagedAnswer) (responseID string, err error)
}

// Classifier resolves an ambiguous select answer with a single external
// call. Implementations never retry automatically; a transport or parse
// failure must come back as Undetermined (fail closed).
type Classifier interface {
	ClassifyOption(ctx Context, questionText string, optionLabels []string, raw string, multi bool) (Classification, error)
}

// Rephraser optionally rewords the next question conversationally using
// the accumulated history for tone. Advisory only: it never alters the
// question semantics, and callers fall back to the literal text on error.
type Rephraser interface {
	Rephrase(ctx Context, q Question, history []Turn) (string, error)
}

// Messenger is the outbound gateway port. Option rendering (list versus
// quick-reply buttons) is the gateway's concern; callers only supply the
// text and the labels.
type Messenger interface {
	SendText(ctx Context, phone, body string) error
	SendConfirm(ctx Context, phone, body string) error
	SendOptionList(ctx Context, phone, body string, options []string) error
}

// SessionStore is the advisory session-flag cache keyed by respondent
// phone identity, with TTL semantics.
type SessionStore interface {
	Get(ctx Context, phone string) (SessionStage, error)
	Set(ctx Context, phone string, stage SessionStage) error
	Clear(ctx Context, phone string) error
}
