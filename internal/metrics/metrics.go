package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealflow_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_actions_total",
			Help: "Actions invoked, by action and result",
		},
		[]string{"action", "result"},
	)

	proposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_proposals_resolved_total",
			Help: "Proposals reaching a terminal state",
		},
		[]string{"kind", "state", "reason"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_notifications_total",
			Help: "Notifications emitted, by severity",
		},
		[]string{"severity"},
	)

	observerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_observer_errors_total",
			Help: "Notification observer delivery failures",
		},
		[]string{"observer"},
	)

	persistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealflow_persist_errors_total",
			Help: "Pipeline saves that failed after the in-memory update",
		},
	)

	pipelineDeals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealflow_pipeline_deals",
			Help: "Deals currently in the pipeline",
		},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordAction(action, result string) {
	actionsTotal.WithLabelValues(action, result).Inc()
}

func RecordProposal(kind, state, reason string) {
	proposalsTotal.WithLabelValues(kind, state, reason).Inc()
}

func RecordNotification(severity string) {
	notificationsTotal.WithLabelValues(severity).Inc()
}

func RecordObserverError(observer string) {
	observerErrors.WithLabelValues(observer).Inc()
}

func RecordPersistError() {
	persistErrors.Inc()
}

func SetPipelineSize(n int) {
	pipelineDeals.Set(float64(n))
}
