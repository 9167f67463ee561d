// Package whatsapp implements the outbound messaging gateway and the
// inbound webhook parser for the Whapi WhatsApp API.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
)

// Client sends messages through the Whapi gateway. It implements
// domain.Messenger; option rendering (quick-reply buttons versus a
// selection list) is decided here, not by callers.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client with the configured send timeout.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.WhapiSendTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NormalizePhone strips the JID suffix and every non-digit:
// "59171234567@c.us" becomes "59171234567".
func NormalizePhone(phone string) string {
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (c *Client) post(ctx domain.Context, endpoint string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=whapi.post.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WhapiBaseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("op=whapi.post.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.WhapiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		observability.OutboundSendFailed()
		return fmt.Errorf("op=whapi.post endpoint=%s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		observability.OutboundSendFailed()
		slog.Error("whapi send rejected",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)))
		return fmt.Errorf("op=whapi.post endpoint=%s status=%d: gateway rejected send", endpoint, resp.StatusCode)
	}
	return nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx domain.Context, phone, text string) error {
	if err := c.post(ctx, "/messages/text", newTextPayload(NormalizePhone(phone), text)); err != nil {
		return err
	}
	observability.OutboundSendOK("text")
	return nil
}

// SendConfirm sends the yes/no quick-reply confirmation prompt.
func (c *Client) SendConfirm(ctx domain.Context, phone, text string) error {
	if err := c.post(ctx, "/messages/interactive", newConfirmPayload(NormalizePhone(phone), text)); err != nil {
		return err
	}
	observability.OutboundSendOK("confirm")
	return nil
}

// SendOptionList sends a question with selectable options. Up to three
// options fit quick-reply buttons; more become a selection list.
func (c *Client) SendOptionList(ctx domain.Context, phone, text string, options []string) error {
	to := NormalizePhone(phone)
	var payload any
	if len(options) <= maxQuickReply {
		payload = newButtonsPayload(to, text, options)
	} else {
		payload = newListPayload(to, text, options)
	}
	if err := c.post(ctx, "/messages/interactive", payload); err != nil {
		return err
	}
	observability.OutboundSendOK("options")
	return nil
}
