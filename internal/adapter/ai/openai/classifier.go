package openai

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/domain"
)

const classifierRefusal = "ERROR"

const classifySystemPrompt = `Eres un asistente que clasifica la respuesta de una persona a una pregunta de encuesta con opciones fijas.
Se te da la pregunta, la lista numerada de opciones y el texto que escribió la persona.
Responde SOLO con el número de la opción elegida. Si se permiten varias, responde con los números separados por comas.
Si el texto no corresponde claramente a ninguna opción, o es ambiguo, responde exactamente ERROR.
No expliques tu razonamiento.`

// ClassifyOption maps free-form respondent text onto the question's
// option indices. It makes exactly one upstream call and fails closed:
// any transport error, refusal, or unparsable reply yields an
// undetermined classification, never a guess.
func (c *Client) ClassifyOption(ctx domain.Context, questionText string, optionLabels []string, raw string, multi bool) (domain.Classification, error) {
	var sb strings.Builder
	sb.WriteString("Pregunta: ")
	sb.WriteString(questionText)
	sb.WriteString("\nOpciones:\n")
	for i, l := range optionLabels {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, l)
	}
	if multi {
		sb.WriteString("Se permiten varias opciones.\n")
	} else {
		sb.WriteString("Solo se permite una opción.\n")
	}
	sb.WriteString("Respuesta de la persona: ")
	sb.WriteString(raw)

	start := time.Now()
	reply, err := c.chat(ctx, classifySystemPrompt, sb.String(), 32)
	observability.ClassifierRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ClassifierRequestsTotal.WithLabelValues("error").Inc()
		return domain.Classification{}, fmt.Errorf("op=classifier.classify: %w", err)
	}

	cls := parseClassification(reply, len(optionLabels))
	if cls.Undetermined {
		observability.ClassifierRequestsTotal.WithLabelValues("undetermined").Inc()
	} else {
		observability.ClassifierRequestsTotal.WithLabelValues("ok").Inc()
	}
	slog.Debug("classifier reply",
		slog.String("reply", reply),
		slog.Bool("undetermined", cls.Undetermined),
		slog.Any("indices", cls.Indices))
	return cls, nil
}

// parseClassification parses the model reply strictly: either a
// comma-separated list of 1-based option numbers, or a refusal. Any
// token that is not a valid in-range number makes the whole reply
// undetermined.
func parseClassification(reply string, optionCount int) domain.Classification {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" || strings.Contains(strings.ToUpper(trimmed), classifierRefusal) {
		return domain.Classification{Undetermined: true, Rationale: trimmed}
	}
	fields := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
	if len(fields) == 0 {
		return domain.Classification{Undetermined: true, Rationale: trimmed}
	}
	indices := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(strings.TrimSpace(f), ".")
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > optionCount {
			return domain.Classification{Undetermined: true, Rationale: trimmed}
		}
		indices = append(indices, n-1)
	}
	return domain.Classification{Indices: indices, Rationale: trimmed}
}
