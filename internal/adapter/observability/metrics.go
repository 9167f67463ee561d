// Package observability provides logging, metrics, and tracing setup
// plus the instrumentation helpers the usecases call.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ClassifierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_requests_total",
			Help: "Total number of AI classifier calls by outcome",
		},
		[]string{"outcome"},
	)
	ClassifierRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_request_duration_seconds",
			Help:    "AI classifier call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Inbound respondent messages routed by session stage",
		},
		[]string{"stage"},
	)
	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answers_total",
			Help: "Matched answers by question type and result",
		},
		[]string{"question_type", "result"},
	)
	ConversationsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_started_total",
			Help: "Conversations created at the first question",
		},
	)
	ConversationsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_completed_total",
			Help: "Conversations that reached the terminal state",
		},
	)
	ConversationConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_conflicts_total",
			Help: "Optimistic concurrency conflicts detected on save",
		},
	)

	OutboundSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_sends_total",
			Help: "Outbound gateway sends by kind and status",
		},
		[]string{"kind", "status"},
	)
	DispatchTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_total",
			Help: "Campaign dispatch tasks by lifecycle event",
		},
		[]string{"event"},
	)
)

// InitMetrics registers all metrics once per process.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ClassifierRequestsTotal,
		ClassifierRequestDuration,
		InboundMessagesTotal,
		AnswersTotal,
		ConversationsStartedTotal,
		ConversationsCompletedTotal,
		ConversationConflictsTotal,
		OutboundSendsTotal,
		DispatchTasksTotal,
	)
}

// Helpers used by the usecases so call sites stay one-liners.

func InboundMessageRouted(stage string) {
	if stage == "" {
		stage = "none"
	}
	InboundMessagesTotal.WithLabelValues(stage).Inc()
}

func AnswerAccepted(questionType string) {
	AnswersTotal.WithLabelValues(questionType, "accepted").Inc()
}

func AnswerRejected(questionType string) {
	AnswersTotal.WithLabelValues(questionType, "rejected").Inc()
}

func ConversationStarted()   { ConversationsStartedTotal.Inc() }
func ConversationCompleted() { ConversationsCompletedTotal.Inc() }
func ConversationConflict()  { ConversationConflictsTotal.Inc() }

func OutboundSendOK(kind string)  { OutboundSendsTotal.WithLabelValues(kind, "ok").Inc() }
func OutboundSendFailed()         { OutboundSendsTotal.WithLabelValues("any", "error").Inc() }
func DispatchEnqueued()           { DispatchTasksTotal.WithLabelValues("enqueued").Inc() }
func DispatchSent()               { DispatchTasksTotal.WithLabelValues("sent").Inc() }
func DispatchFailed()             { DispatchTasksTotal.WithLabelValues("failed").Inc() }

// HTTPMetricsMiddleware records request counts and latency per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
