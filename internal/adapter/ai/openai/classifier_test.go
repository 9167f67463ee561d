package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.Config{
		OpenAIAPIKey:          "test-key",
		OpenAIBaseURL:         srv.URL,
		ChatModel:             "gpt-4o-mini",
		ClassifyTimeout:       5 * time.Second,
		RephraseEnabled:       true,
		RephraseHistoryTokens: 1024,
	})
}

func chatReply(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}
}

func TestClassifyOptionResolvesIndex(t *testing.T) {
	t.Parallel()
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		assert.Zero(t, body.Temperature, "classification must be deterministic")
		chatReply("2")(w, r)
	})

	cls, err := c.ClassifyOption(context.Background(), "¿Color?", []string{"Rojo", "Verde", "Azul"}, "el de las plantas", false)
	require.NoError(t, err)
	assert.False(t, cls.Undetermined)
	assert.Equal(t, []int{1}, cls.Indices)
	assert.Equal(t, 1, calls, "exactly one upstream call")
}

func TestClassifyOptionRefusal(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, chatReply("ERROR"))

	cls, err := c.ClassifyOption(context.Background(), "¿Color?", []string{"Rojo", "Verde"}, "ni idea", false)
	require.NoError(t, err)
	assert.True(t, cls.Undetermined)
}

func TestClassifyOptionUpstreamFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	})

	_, err := c.ClassifyOption(context.Background(), "¿Color?", []string{"Rojo"}, "rojo oscuro", false)
	assert.ErrorIs(t, err, domain.ErrUpstreamAI)
}

func TestClassifyOptionMissingAPIKey(t *testing.T) {
	t.Parallel()
	c := New(config.Config{OpenAIBaseURL: "http://localhost:0", ClassifyTimeout: time.Second})

	_, err := c.ClassifyOption(context.Background(), "¿Color?", []string{"Rojo"}, "rojo", false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestParseClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name         string
		reply        string
		optionCount  int
		wantIndices  []int
		undetermined bool
	}{
		{"single", "2", 3, []int{1}, false},
		{"single with period", "2.", 3, []int{1}, false},
		{"single padded", "  3\n", 3, []int{2}, false},
		{"multi comma", "1, 3", 3, []int{0, 2}, false},
		{"multi spaces", "1 2", 3, []int{0, 1}, false},
		{"refusal", "ERROR", 3, nil, true},
		{"refusal embedded", "Lo siento, ERROR", 3, nil, true},
		{"empty", "   ", 3, nil, true},
		{"zero is out of range", "0", 3, nil, true},
		{"above range", "4", 3, nil, true},
		{"one bad token spoils all", "1, cuatro", 3, nil, true},
		{"prose", "la opción verde", 3, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cls := parseClassification(tc.reply, tc.optionCount)
			assert.Equal(t, tc.undetermined, cls.Undetermined)
			if !tc.undetermined {
				assert.Equal(t, tc.wantIndices, cls.Indices)
			}
		})
	}
}

func TestParseClassificationKeepsRationale(t *testing.T) {
	t.Parallel()
	cls := parseClassification("no corresponde ERROR", 2)
	assert.True(t, cls.Undetermined)
	assert.Equal(t, "no corresponde ERROR", cls.Rationale)
}

func TestClassifyPromptNumbersOptionsFromOne(t *testing.T) {
	t.Parallel()
	var prompt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		prompt = body.Messages[1].Content
		chatReply("1")(w, r)
	})

	_, err := c.ClassifyOption(context.Background(), "¿Color?", []string{"Rojo", "Verde"}, "rojizo", true)
	require.NoError(t, err)
	assert.Contains(t, prompt, "1. Rojo")
	assert.Contains(t, prompt, "2. Verde")
	assert.Contains(t, prompt, "Se permiten varias opciones.")
	assert.Contains(t, prompt, fmt.Sprintf("Respuesta de la persona: %s", "rojizo"))
}
