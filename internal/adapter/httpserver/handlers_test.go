package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
	"github.com/pulsohq/pulso/internal/usecase"
)

type stubSessionStore struct {
	stages map[string]domain.SessionStage
}

func (s *stubSessionStore) Get(_ domain.Context, phone string) (domain.SessionStage, error) {
	return s.stages[phone], nil
}

func (s *stubSessionStore) Set(_ domain.Context, phone string, stage domain.SessionStage) error {
	s.stages[phone] = stage
	return nil
}

func (s *stubSessionStore) Clear(_ domain.Context, phone string) error {
	delete(s.stages, phone)
	return nil
}

type stubMessenger struct {
	texts []string
	err   error
}

func (m *stubMessenger) SendText(_ domain.Context, _ string, body string) error {
	if m.err != nil {
		return m.err
	}
	m.texts = append(m.texts, body)
	return nil
}

func (m *stubMessenger) SendConfirm(_ domain.Context, _, _ string) error { return m.err }

func (m *stubMessenger) SendOptionList(_ domain.Context, _, _ string, _ []string) error {
	return m.err
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(_ domain.Context, _ string) bool { return false }

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["status"]
}

func TestWebhookVerifyHandshake(t *testing.T) {
	t.Parallel()
	srv := &Server{Cfg: config.Config{WebhookVerifyToken: "tok"}}
	h := srv.WebhookVerifyHandler()

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/v1/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/v1/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookVerifyRequiresConfiguredToken(t *testing.T) {
	t.Parallel()
	srv := &Server{}
	rec := httptest.NewRecorder()
	srv.WebhookVerifyHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookAcksStatusEvents(t *testing.T) {
	t.Parallel()
	srv := &Server{Inbound: &usecase.InboundService{}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/whatsapp/webhook",
		strings.NewReader(`{"statuses":[{"id":"wamid.1","status":"delivered"}]}`))

	srv.WebhookHandler()(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "status_ignored", decodeStatus(t, rec))
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	srv := &Server{Inbound: &usecase.InboundService{}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/whatsapp/webhook", strings.NewReader(`{"messages": [`))

	srv.WebhookHandler()(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRateLimitedStillAcks(t *testing.T) {
	t.Parallel()
	srv := &Server{Inbound: &usecase.InboundService{}, Limiter: denyAllLimiter{}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/whatsapp/webhook",
		strings.NewReader(`{"messages":[{"id":"m","from":"591712","type":"text","text":{"body":"hola"}}]}`))

	srv.WebhookHandler()(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rate_limited", decodeStatus(t, rec))
}

func TestWebhookRoutesMessageThroughInbound(t *testing.T) {
	t.Parallel()
	msgs := &stubMessenger{}
	sessions := &stubSessionStore{stages: map[string]domain.SessionStage{}}
	inbound := usecase.NewInboundService(sessions, failingDeliveryRepo{}, nil, nil, msgs)
	srv := &Server{Inbound: inbound}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/whatsapp/webhook",
		strings.NewReader(`{"messages":[{"id":"m","from":"591712","type":"text","text":{"body":"hola"}}]}`))

	srv.WebhookHandler()(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prompt_start", decodeStatus(t, rec))
	require.Len(t, msgs.texts, 1)
}

// failingDeliveryRepo reports no awaiting delivery for any phone.
type failingDeliveryRepo struct{}

func (failingDeliveryRepo) Get(_ domain.Context, _ string) (domain.Delivery, error) {
	return domain.Delivery{}, domain.ErrNotFound
}

func (failingDeliveryRepo) FindAwaitingByPhone(_ domain.Context, _ string, _ domain.Channel) (domain.Delivery, error) {
	return domain.Delivery{}, domain.ErrNotFound
}

func (failingDeliveryRepo) ListPendingByCampaign(_ domain.Context, _ string) ([]domain.Delivery, error) {
	return nil, nil
}

func (failingDeliveryRepo) MarkSent(_ domain.Context, _ string) error   { return nil }
func (failingDeliveryRepo) MarkFailed(_ domain.Context, _ string) error { return nil }

func TestSendMessageHandlerValidation(t *testing.T) {
	t.Parallel()
	srv := &Server{Messenger: &stubMessenger{}}
	h := srv.SendMessageHandler()

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"phone":"591","text":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
}

func TestSendMessageHandlerSends(t *testing.T) {
	t.Parallel()
	msgs := &stubMessenger{}
	srv := &Server{Messenger: msgs}

	rec := httptest.NewRecorder()
	srv.SendMessageHandler()(rec, httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"phone":"59171234567","text":"hola"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hola"}, msgs.texts)
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()
	srv := &Server{
		DBCheck:    func(context.Context) error { return nil },
		RedisCheck: func(context.Context) error { return errors.New("connection refused") },
	}

	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestReadyzHealthy(t *testing.T) {
	t.Parallel()
	srv := &Server{
		DBCheck:    func(context.Context) error { return nil },
		RedisCheck: func(context.Context) error { return nil },
	}

	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpsGuard(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("ops-pass", defaultArgon2Params)
	require.NoError(t, err)
	srv := &Server{Cfg: config.Config{OpsUsername: "ops", OpsPasswordHash: hash}}

	guarded := srv.OpsGuard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/591", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="ops"`, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/591", nil)
	req.SetBasicAuth("ops", "wrong")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/591", nil)
	req.SetBasicAuth("ops", "ops-pass")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionHandlers(t *testing.T) {
	t.Parallel()
	sessions := &stubSessionStore{stages: map[string]domain.SessionStage{
		"59171234567": domain.StageSurveyInProgress,
	}}
	srv := &Server{Sessions: sessions}

	r := chi.NewRouter()
	r.Get("/v1/sessions/{phone}", srv.SessionGetHandler())
	r.Delete("/v1/sessions/{phone}", srv.SessionDeleteHandler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/59171234567@c.us", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "59171234567", body["phone"], "phone is normalized before lookup")
	assert.Equal(t, string(domain.StageSurveyInProgress), body["stage"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/59171234567", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sessions.stages)
}

func TestWriteErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrAlreadyCompleted, http.StatusConflict, "ALREADY_COMPLETED"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"},
		{domain.ErrUpstreamAI, http.StatusServiceUnavailable, "UPSTREAM_AI"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err, nil)
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, tc.code, env.Error.Code)
	}
}
