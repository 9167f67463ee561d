package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/domain"
)

// Confirmation button payload ids, matching the quick-reply payloads the
// gateway adapter attaches to the invite.
const (
	payloadConfirmYes = "btn_si"
	payloadConfirmNo  = "btn_no"
)

// InboundService routes each normalized webhook event by the advisory
// per-respondent session flag. The flag only spares lookups: the durable
// conversation state stays the single source of truth, and a lost flag
// is rebuilt from it before falling back to the start-command prompt.
type InboundService struct {
	Sessions      domain.SessionStore
	Deliveries    domain.DeliveryRepo
	Conversations domain.ConversationRepo
	Engine        *ConversationEngine
	Messenger     domain.Messenger
}

// NewInboundService constructs the router with its collaborators.
func NewInboundService(ss domain.SessionStore, dr domain.DeliveryRepo, cr domain.ConversationRepo, eng *ConversationEngine, msg domain.Messenger) *InboundService {
	return &InboundService{Sessions: ss, Deliveries: dr, Conversations: cr, Engine: eng, Messenger: msg}
}

// Handle classifies and dispatches one inbound event. The returned tag
// is a short machine-readable outcome for the webhook reply and logs.
func (s *InboundService) Handle(ctx domain.Context, ev domain.InboundEvent) (string, error) {
	switch ev.Kind {
	case domain.InboundStatus:
		return "status_ignored", nil
	case domain.InboundEcho:
		return "echo_ignored", nil
	case domain.InboundNonText, domain.InboundUnknown:
		return "ignored_" + string(ev.Kind), nil
	case domain.InboundMessage:
		// fall through
	default:
		return "", fmt.Errorf("%w: inbound kind %q", domain.ErrInvalidArgument, ev.Kind)
	}

	phone := ev.Phone
	text := strings.TrimSpace(ev.Text)

	stage, err := s.Sessions.Get(ctx, phone)
	if err != nil {
		// Advisory cache only; a read failure degrades to the no-flag path.
		slog.Warn("session store read failed", slog.String("phone", phone), slog.Any("error", err))
		stage = domain.StageNone
	}
	observability.InboundMessageRouted(string(stage))

	switch stage {
	case domain.StageAwaitingConfirmation:
		return s.handleConfirmation(ctx, ev, phone, text)
	case domain.StageSurveyInProgress:
		return s.handleAnswer(ctx, phone, text)
	default:
		return s.handleIdle(ctx, phone, text)
	}
}

// handleConfirmation interprets the reply to the pre-survey handshake.
func (s *InboundService) handleConfirmation(ctx domain.Context, ev domain.InboundEvent, phone, text string) (string, error) {
	d, err := s.Deliveries.FindAwaitingByPhone(ctx, phone, domain.ChannelWhatsApp)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.Sessions.Clear(ctx, phone)
			return "no_pending", s.send(ctx, phone, msgNoPending)
		}
		return "", err
	}

	switch {
	case isAffirmative(text) || ev.PayloadID == payloadConfirmYes:
		res, err := s.Engine.Start(ctx, d)
		if err != nil {
			return "", err
		}
		if err := s.Sessions.Set(ctx, phone, domain.StageSurveyInProgress); err != nil {
			slog.Warn("session store write failed", slog.String("phone", phone), slog.Any("error", err))
		}
		return "survey_started", s.deliver(ctx, phone, res)
	case isNegative(text) || ev.PayloadID == payloadConfirmNo:
		_ = s.Sessions.Clear(ctx, phone)
		return "survey_declined", s.send(ctx, phone, msgDeclined)
	default:
		// Unclear reply: retain the flag, re-ask.
		return "confirmation_requested", s.sendConfirm(ctx, phone, msgConfirmPrompt)
	}
}

// handleAnswer delegates an in-progress respondent's message to the
// conversation engine.
func (s *InboundService) handleAnswer(ctx domain.Context, phone, text string) (string, error) {
	d, err := s.Deliveries.FindAwaitingByPhone(ctx, phone, domain.ChannelWhatsApp)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Expected under racing webhook deliveries, not fatal.
			slog.Warn("no awaiting delivery for in-progress session", slog.String("phone", phone))
			_ = s.Sessions.Clear(ctx, phone)
			return "state_reset", s.send(ctx, phone, msgStartOver)
		}
		return "", err
	}

	res, err := s.Engine.ProcessIncoming(ctx, d, text)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.Sessions.Clear(ctx, phone)
			return "state_reset", s.send(ctx, phone, msgStartOver)
		}
		if errors.Is(err, domain.ErrConflict) {
			// Retried once already; surface as transient and let the
			// respondent resend safely.
			return "transient_error", s.send(ctx, phone, msgTransientError)
		}
		return "", err
	}

	switch {
	case res.AlreadyCompleted:
		_ = s.Sessions.Clear(ctx, phone)
		return "already_completed", s.send(ctx, phone, res.Message)
	case res.Completed:
		_ = s.Sessions.Clear(ctx, phone)
		return "survey_completed", s.send(ctx, phone, res.Message)
	case res.Reprompt:
		return "answer_rejected", s.send(ctx, phone, res.Message)
	default:
		return "next_question_sent", s.deliver(ctx, phone, res)
	}
}

// handleIdle covers respondents with no session flag: the start command,
// a rebuild from durable state, or the generic prompt.
func (s *InboundService) handleIdle(ctx domain.Context, phone, text string) (string, error) {
	if strings.EqualFold(text, StartCommand) {
		d, err := s.Deliveries.FindAwaitingByPhone(ctx, phone, domain.ChannelWhatsApp)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "no_pending", s.send(ctx, phone, msgNoPending)
			}
			return "", err
		}
		if err := s.Sessions.Set(ctx, phone, domain.StageAwaitingConfirmation); err != nil {
			slog.Warn("session store write failed", slog.String("phone", phone), slog.Any("error", err))
		}
		return "confirmation_requested", s.sendConfirm(ctx, phone, InviteMessage(d.Recipient.Name, d.CampaignName))
	}

	// The flag is rebuildable: if a non-completed conversation exists for
	// this respondent's active delivery, resume instead of demanding the
	// start command again (e.g. after a process restart lost the cache).
	if d, err := s.Deliveries.FindAwaitingByPhone(ctx, phone, domain.ChannelWhatsApp); err == nil {
		if conv, err := s.Conversations.GetByDelivery(ctx, d.ID); err == nil && !conv.Completed {
			if err := s.Sessions.Set(ctx, phone, domain.StageSurveyInProgress); err != nil {
				slog.Warn("session store write failed", slog.String("phone", phone), slog.Any("error", err))
			}
			return s.handleAnswer(ctx, phone, text)
		}
	}

	if err := s.Sessions.Set(ctx, phone, domain.StageNone); err != nil {
		slog.Warn("session store write failed", slog.String("phone", phone), slog.Any("error", err))
	}
	return "prompt_start", s.send(ctx, phone, msgGenericPrompt)
}

// deliver sends an engine result, choosing option rendering when the
// prompt carries labels.
func (s *InboundService) deliver(ctx domain.Context, phone string, res EngineResult) error {
	if len(res.Options) > 0 {
		return s.sendErrLogged(ctx, phone, func() error {
			return s.Messenger.SendOptionList(ctx, phone, res.Message, res.Options)
		})
	}
	return s.send(ctx, phone, res.Message)
}

func (s *InboundService) send(ctx domain.Context, phone, body string) error {
	return s.sendErrLogged(ctx, phone, func() error { return s.Messenger.SendText(ctx, phone, body) })
}

func (s *InboundService) sendConfirm(ctx domain.Context, phone, body string) error {
	return s.sendErrLogged(ctx, phone, func() error { return s.Messenger.SendConfirm(ctx, phone, body) })
}

// sendErrLogged logs and surfaces outbound failures without touching
// already-committed state.
func (s *InboundService) sendErrLogged(_ domain.Context, phone string, fn func() error) error {
	if err := fn(); err != nil {
		slog.Error("outbound send failed", slog.String("phone", phone), slog.Any("error", err))
		return err
	}
	return nil
}

// Affirmative/negative lexicons for the confirmation handshake, matched
// case- and accent-insensitively.
var (
	affirmatives = map[string]bool{"si": true, "yes": true, "ok": true, "dale": true}
	negatives    = map[string]bool{"no": true, "nop": true, "luego": true}
)

func isAffirmative(text string) bool { return affirmatives[foldSpanish(text)] }
func isNegative(text string) bool    { return negatives[foldSpanish(text)] }

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

func foldSpanish(s string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(s)))
}
