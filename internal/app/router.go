// Package app wires application components and startup helpers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/pulsohq/pulso/internal/adapter/httpserver"
	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces.
// An empty input means every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Webhook intake. Rate limited per IP; the gateway retries on 429 so
	// bursts degrade to delayed processing, not loss.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Get("/v1/whatsapp/webhook", srv.WebhookVerifyHandler())
		wr.Post("/v1/whatsapp/webhook", srv.WebhookHandler())
	})

	// Operational endpoints, mounted only with credentials configured.
	if cfg.OpsEnabled() {
		r.Group(func(or chi.Router) {
			or.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			or.Use(srv.OpsGuard)
			or.Post("/v1/campaigns/{id}/dispatch", srv.DispatchCampaignHandler())
			or.Post("/v1/messages", srv.SendMessageHandler())
			or.Get("/v1/sessions/{phone}", srv.SessionGetHandler())
			or.Delete("/v1/sessions/{phone}", srv.SessionDeleteHandler())
		})
	}

	r.Get("/healthz", httpserver.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
