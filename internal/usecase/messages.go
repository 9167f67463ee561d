package usecase

import (
	"fmt"
	"strings"
)

// StartCommand is the fixed keyword a respondent sends to begin or
// resume a survey. Matched case-insensitively.
const StartCommand = "INICIAR"

// Respondent-facing copy. Kept in one place so the conversational tone
// stays consistent across the engine and the router.
const (
	msgAlreadyCompleted = "La encuesta ya fue completada. ¡Gracias por tu tiempo!"
	msgInvalidNumber    = "Por favor ingresa un número válido."
	msgEmptyAnswer      = "Esta pregunta es obligatoria. Por favor escribe tu respuesta."
	msgUndetermined     = "No pude identificar tu selección. Elige exactamente una opción de la lista."
	msgUndeterminedMany = "No pude identificar tu selección. Elige opciones de la lista, separadas por coma."
	msgDeclined         = "Entendido. Cuando desees empezar, escribe INICIAR."
	msgNoPending        = "Hola 👋 No encontré una encuesta pendiente para este número."
	msgStartOver        = "No encontré una conversación activa. Escribe INICIAR para comenzar de nuevo."
	msgGenericPrompt    = "Para iniciar o continuar la encuesta escribe INICIAR."
	msgTransientError   = "Ocurrió un error procesando tu respuesta. Por favor envíala de nuevo."
	msgConfirmPrompt    = "Responde 'Sí' para comenzar la encuesta ahora o 'No' para más tarde."
)

// InviteMessage is the survey invitation prompt. Exported because the
// dispatch worker sends the same copy as the inbound router.
func InviteMessage(name, campaign string) string {
	if name == "" {
		name = "Hola"
	}
	return fmt.Sprintf("%s, ¿deseas comenzar la encuesta '%s' ahora?", name, campaign)
}

func completionMessage(responseID string) string {
	msg := "¡Gracias por completar la encuesta! 😊"
	if len(responseID) >= 8 {
		msg += "\nCódigo: " + responseID[:8]
	}
	return msg
}

// optionsReprompt lists every option label verbatim under the error text.
func optionsReprompt(errText string, labels []string) string {
	var b strings.Builder
	b.WriteString(errText)
	b.WriteString("\nOpciones disponibles:\n")
	for _, l := range labels {
		b.WriteString("• ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
