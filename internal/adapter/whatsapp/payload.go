package whatsapp

import "fmt"

// Whapi caps interactive row titles at 24 runes and quick-reply button
// titles at 20 runes; longer labels are truncated for display only, the
// answer matching always runs against the full stored label.
const (
	maxRowTitle    = 24
	maxButtonTitle = 20
	maxQuickReply  = 3
)

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type header struct {
	Text string `json:"text"`
}

type body struct {
	Text string `json:"text"`
}

type quickReplyButton struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	ID    string `json:"id"`
}

type listRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listSection struct {
	Title string    `json:"title"`
	Rows  []listRow `json:"rows"`
}

type textPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type buttonPayload struct {
	To     string  `json:"to"`
	Type   string  `json:"type"`
	Header *header `json:"header,omitempty"`
	Body   body    `json:"body"`
	Footer *header `json:"footer,omitempty"`
	Action struct {
		Buttons []quickReplyButton `json:"buttons"`
	} `json:"action"`
}

type listPayload struct {
	To     string  `json:"to"`
	Type   string  `json:"type"`
	Header *header `json:"header,omitempty"`
	Body   body    `json:"body"`
	Action struct {
		List struct {
			Sections []listSection `json:"sections"`
			Label    string        `json:"label"`
		} `json:"list"`
	} `json:"action"`
}

func newTextPayload(to, text string) textPayload {
	return textPayload{To: to, Body: text}
}

// newConfirmPayload builds the fixed yes/no quick-reply prompt used to
// open a survey.
func newConfirmPayload(to, text string) buttonPayload {
	p := buttonPayload{
		To:     to,
		Type:   "button",
		Header: &header{Text: "Confirmación"},
		Body:   body{Text: text},
		Footer: &header{Text: "Toca un botón para continuar"},
	}
	p.Action.Buttons = []quickReplyButton{
		{Type: "quick_reply", Title: "Sí", ID: "btn_si"},
		{Type: "quick_reply", Title: "No", ID: "btn_no"},
	}
	return p
}

// newButtonsPayload renders up to three options as quick-reply buttons.
func newButtonsPayload(to, text string, options []string) buttonPayload {
	p := buttonPayload{To: to, Type: "button", Body: body{Text: text}}
	for i, opt := range options {
		p.Action.Buttons = append(p.Action.Buttons, quickReplyButton{
			Type:  "quick_reply",
			Title: truncateRunes(opt, maxButtonTitle),
			ID:    fmt.Sprintf("opt_%d", i),
		})
	}
	return p
}

// newListPayload renders options as a single-section selection list.
func newListPayload(to, text string, options []string) listPayload {
	rows := make([]listRow, 0, len(options))
	for i, opt := range options {
		rows = append(rows, listRow{
			ID:    fmt.Sprintf("opt_%d", i),
			Title: truncateRunes(opt, maxRowTitle),
		})
	}
	p := listPayload{To: to, Type: "list", Header: &header{Text: "Pregunta"}, Body: body{Text: text}}
	p.Action.List.Sections = []listSection{{Title: "Opciones", Rows: rows}}
	p.Action.List.Label = "Ver opciones"
	return p
}
