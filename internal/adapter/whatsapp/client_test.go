package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsohq/pulso/internal/config"
)

type capturedRequest struct {
	Path string
	Body map[string]any
}

func newTestGateway(t *testing.T, status int) (*Client, *[]capturedRequest) {
	t.Helper()
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		reqs = append(reqs, capturedRequest{Path: r.URL.Path, Body: body})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return New(config.Config{
		WhapiBaseURL:     srv.URL,
		WhapiToken:       "test-token",
		WhapiSendTimeout: 5 * time.Second,
	}), &reqs
}

func TestSendTextNormalizesPhone(t *testing.T) {
	t.Parallel()
	c, reqs := newTestGateway(t, http.StatusOK)

	require.NoError(t, c.SendText(context.Background(), "59171234567@c.us", "hola"))
	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/messages/text", got.Path)
	assert.Equal(t, "59171234567", got.Body["to"])
	assert.Equal(t, "hola", got.Body["body"])
}

func TestSendOptionListChoosesButtonsForFewOptions(t *testing.T) {
	t.Parallel()
	c, reqs := newTestGateway(t, http.StatusOK)

	require.NoError(t, c.SendOptionList(context.Background(), "59171234567", "¿Color?", []string{"Rojo", "Verde", "Azul"}))
	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/messages/interactive", got.Path)
	assert.Equal(t, "button", got.Body["type"])
}

func TestSendOptionListChoosesListForManyOptions(t *testing.T) {
	t.Parallel()
	c, reqs := newTestGateway(t, http.StatusOK)

	require.NoError(t, c.SendOptionList(context.Background(), "59171234567", "¿Categorías?", []string{"Ropa", "Calzado", "Accesorios", "Hogar"}))
	require.Len(t, *reqs, 1)
	assert.Equal(t, "list", (*reqs)[0].Body["type"])
}

func TestSendConfirmUsesInteractiveEndpoint(t *testing.T) {
	t.Parallel()
	c, reqs := newTestGateway(t, http.StatusOK)

	require.NoError(t, c.SendConfirm(context.Background(), "59171234567", "¿Comenzamos?"))
	require.Len(t, *reqs, 1)
	assert.Equal(t, "/messages/interactive", (*reqs)[0].Path)
	assert.Equal(t, "button", (*reqs)[0].Body["type"])
}

func TestSendTextGatewayRejection(t *testing.T) {
	t.Parallel()
	c, _ := newTestGateway(t, http.StatusUnauthorized)

	err := c.SendText(context.Background(), "59171234567", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}
