package whatsapp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulsohq/pulso/internal/domain"
	"github.com/pulsohq/pulso/pkg/textx"
)

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	FromMe    bool   `json:"from_me"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type webhookEnvelope struct {
	Statuses []json.RawMessage `json:"statuses"`
	Messages []webhookMessage  `json:"messages"`
}

// ParseWebhook normalizes a raw Whapi webhook body into one
// domain.InboundEvent. It never fails on unexpected shapes: anything it
// cannot interpret comes back as InboundUnknown or InboundNonText so
// the router can acknowledge and move on.
func ParseWebhook(raw []byte) (domain.InboundEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("op=whatsapp.parse: %w: %v", domain.ErrInvalidArgument, err)
	}

	if len(env.Statuses) > 0 {
		return domain.InboundEvent{Kind: domain.InboundStatus}, nil
	}
	if len(env.Messages) == 0 {
		return domain.InboundEvent{Kind: domain.InboundUnknown}, nil
	}

	msg := env.Messages[0]
	if msg.FromMe {
		return domain.InboundEvent{Kind: domain.InboundEcho}, nil
	}

	text, payloadID := extractTextAndPayload(msg)
	text = textx.SanitizeText(text)
	if text == "" && payloadID == "" {
		return domain.InboundEvent{Kind: domain.InboundNonText}, nil
	}
	// Interactive replies carry the visible title as the text; the
	// payload id rides along for exact button routing.
	if text == "" {
		text = payloadID
	}
	return domain.InboundEvent{
		Kind:      domain.InboundMessage,
		Phone:     NormalizePhone(msg.From),
		Text:      text,
		PayloadID: payloadID,
		MessageID: msg.ID,
		Timestamp: time.Unix(msg.Timestamp, 0).UTC(),
	}, nil
}

func extractTextAndPayload(msg webhookMessage) (string, string) {
	switch msg.Type {
	case "button":
		if msg.Button != nil {
			return msg.Button.Text, msg.Button.Payload
		}
	case "interactive":
		if msg.Interactive == nil {
			return "", ""
		}
		switch msg.Interactive.Type {
		case "button_reply":
			if br := msg.Interactive.ButtonReply; br != nil {
				return br.Title, br.ID
			}
		case "list_reply":
			if lr := msg.Interactive.ListReply; lr != nil {
				return lr.Title, lr.ID
			}
		}
	case "text":
		if msg.Text != nil {
			return msg.Text.Body, ""
		}
	}
	return "", ""
}
