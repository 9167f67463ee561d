package httpserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsohq/pulso/internal/adapter/whatsapp"
	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
	"github.com/pulsohq/pulso/internal/usecase"
)

// PhoneLimiter throttles inbound messages per respondent phone. A nil
// limiter admits everything.
type PhoneLimiter interface {
	Allow(ctx domain.Context, phone string) bool
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Inbound    *usecase.InboundService
	Dispatch   usecase.DispatchService
	Sessions   domain.SessionStore
	Messenger  domain.Messenger
	Limiter    PhoneLimiter
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, inbound *usecase.InboundService, dispatch usecase.DispatchService, sessions domain.SessionStore, messenger domain.Messenger, limiter PhoneLimiter, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Inbound:    inbound,
		Dispatch:   dispatch,
		Sessions:   sessions,
		Messenger:  messenger,
		Limiter:    limiter,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// WebhookVerifyHandler answers the gateway's GET verification
// handshake: echo hub.challenge when the verify token matches.
func (s *Server) WebhookVerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.Cfg.WebhookVerifyToken || s.Cfg.WebhookVerifyToken == "" {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
	}
}

// WebhookHandler ingests one webhook POST. It always acknowledges with
// 200 once the body parses: gateways retry non-2xx responses, and every
// downstream step tolerates replays, so retry storms are the only thing
// a 5xx here would buy.
func (s *Server) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: body read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		ev, err := whatsapp.ParseWebhook(raw)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		if ev.Kind == domain.InboundMessage && s.Limiter != nil && !s.Limiter.Allow(r.Context(), ev.Phone) {
			LoggerFrom(r).Warn("inbound message rate limited", "phone", ev.Phone)
			writeJSON(w, http.StatusOK, map[string]string{"status": "rate_limited"})
			return
		}

		tag, err := s.Inbound.Handle(r.Context(), ev)
		if err != nil {
			LoggerFrom(r).Error("inbound handling failed",
				"phone", ev.Phone, "message_id", ev.MessageID, "error", err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": tag})
	}
}

// DispatchCampaignHandler enqueues one dispatch task per pending
// delivery of the campaign.
func (s *Server) DispatchCampaignHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: campaign id missing", domain.ErrInvalidArgument), nil)
			return
		}
		n, err := s.Dispatch.EnqueueCampaign(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"campaign_id": id, "enqueued": n})
	}
}

// SendMessageHandler sends an ad-hoc text message through the gateway.
func (s *Server) SendMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Phone string `json:"phone" validate:"required,min=5"`
			Text  string `json:"text" validate:"required,max=4096"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		if err := s.Messenger.SendText(r.Context(), req.Phone, req.Text); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	}
}

// SessionGetHandler returns the advisory session flag for a phone.
func (s *Server) SessionGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := whatsapp.NormalizePhone(chi.URLParam(r, "phone"))
		if phone == "" {
			writeError(w, r, fmt.Errorf("%w: phone missing", domain.ErrInvalidArgument), nil)
			return
		}
		stage, err := s.Sessions.Get(r.Context(), phone)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"phone": phone, "stage": string(stage)})
	}
}

// SessionDeleteHandler drops the advisory session flag for a phone. The
// durable conversation state is untouched and the flag rebuilds from it.
func (s *Server) SessionDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := whatsapp.NormalizePhone(chi.URLParam(r, "phone"))
		if phone == "" {
			writeError(w, r, fmt.Errorf("%w: phone missing", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.Sessions.Clear(r.Context(), phone); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"phone": phone, "stage": string(domain.StageNone)})
	}
}

// HealthzHandler is the liveness probe.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the Postgres and Redis dependencies.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
