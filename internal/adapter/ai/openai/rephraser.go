package openai

import (
	"fmt"
	"strings"

	"github.com/pulsohq/pulso/internal/domain"
)

const rephraseSystemPrompt = `Eres el tono conversacional de una encuesta por WhatsApp en español.
Reformula la siguiente pregunta de forma breve, cálida y natural, manteniendo EXACTAMENTE el mismo significado.
Si la pregunta tiene opciones, no las cambies, no las reordenes y no agregues opciones nuevas.
Responde solo con la pregunta reformulada, sin comillas.`

// Rephrase rewords the next question using recent history for tone.
// History is trimmed newest-first to the configured token budget. The
// caller falls back to the literal question text on any error.
func (c *Client) Rephrase(ctx domain.Context, q domain.Question, history []domain.Turn) (string, error) {
	if !c.cfg.RephraseEnabled {
		return "", fmt.Errorf("op=rephraser: %w", domain.ErrInvalidArgument)
	}

	var sb strings.Builder
	if ctxTurns := c.trimHistory(history); len(ctxTurns) > 0 {
		sb.WriteString("Conversación reciente:\n")
		for _, t := range ctxTurns {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Pregunta a reformular: ")
	sb.WriteString(q.Text)
	if len(q.Options) > 0 {
		sb.WriteString("\nOpciones (no modificar): ")
		sb.WriteString(strings.Join(q.OptionLabels(), ", "))
	}

	reply, err := c.chat(ctx, rephraseSystemPrompt, sb.String(), 256)
	if err != nil {
		return "", fmt.Errorf("op=rephraser.rephrase: %w", err)
	}
	reply = strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), `"`))
	if reply == "" {
		return "", fmt.Errorf("op=rephraser: empty reply: %w", domain.ErrUpstreamAI)
	}
	return reply, nil
}

// trimHistory keeps the newest turns that fit the token budget,
// returned in chronological order.
func (c *Client) trimHistory(history []domain.Turn) []domain.Turn {
	budget := c.cfg.RephraseHistoryTokens
	if budget <= 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := c.counter.CountTokensOrEstimate(history[i].Content, c.cfg.ChatModel)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return history[start:]
}
