package whatsapp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "corto", truncateRunes("corto", 24))
	assert.Equal(t, "ééééé", truncateRunes("ééééééé", 5), "truncation counts runes, not bytes")
	long := strings.Repeat("x", 30)
	assert.Len(t, truncateRunes(long, maxRowTitle), maxRowTitle)
}

func TestNewConfirmPayload(t *testing.T) {
	t.Parallel()
	p := newConfirmPayload("59171234567", "¿Comenzamos?")

	assert.Equal(t, "button", p.Type)
	assert.Equal(t, "Confirmación", p.Header.Text)
	assert.Equal(t, "¿Comenzamos?", p.Body.Text)
	assert.Equal(t, "Toca un botón para continuar", p.Footer.Text)
	require.Len(t, p.Action.Buttons, 2)
	assert.Equal(t, "btn_si", p.Action.Buttons[0].ID)
	assert.Equal(t, "Sí", p.Action.Buttons[0].Title)
	assert.Equal(t, "btn_no", p.Action.Buttons[1].ID)
}

func TestNewButtonsPayload(t *testing.T) {
	t.Parallel()
	p := newButtonsPayload("59171234567", "¿Qué color prefieres?", []string{"Rojo", "Verde", "Un nombre de opción demasiado largo"})

	require.Len(t, p.Action.Buttons, 3)
	assert.Equal(t, "opt_0", p.Action.Buttons[0].ID)
	assert.Equal(t, "Rojo", p.Action.Buttons[0].Title)
	assert.Equal(t, "opt_2", p.Action.Buttons[2].ID)
	assert.Len(t, []rune(p.Action.Buttons[2].Title), maxButtonTitle)
}

func TestNewListPayload(t *testing.T) {
	t.Parallel()
	opts := []string{"Ropa", "Calzado", "Accesorios", "Una etiqueta larguísima que no cabe"}
	p := newListPayload("59171234567", "¿Qué categorías te interesan?", opts)

	assert.Equal(t, "list", p.Type)
	assert.Equal(t, "Ver opciones", p.Action.List.Label)
	require.Len(t, p.Action.List.Sections, 1)
	rows := p.Action.List.Sections[0].Rows
	require.Len(t, rows, len(opts))
	assert.Equal(t, "opt_0", rows[0].ID)
	assert.Equal(t, "Ropa", rows[0].Title)
	assert.Len(t, []rune(rows[3].Title), maxRowTitle)
}
