// Package metrics exposes editor and remote backend activity as Prometheus
// metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/application/engine"
	"mindmap/internal/application/reconcile"
)

// Metrics owns a private registry so tests and several binaries in one
// process do not collide on the global one
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal    *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	unsyncedBatches prometheus.Gauge
	savesTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the metric set with Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmap_actions_total",
			Help: "Actions applied, by kind and phase",
		}, []string{"kind", "phase"}),
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmap_batches_total",
			Help: "Action batches applied, by command and phase",
		}, []string{"command", "phase"}),
		unsyncedBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mindmap_unsynced_batches",
			Help: "Batches kept in memory while their storage write is pending retry",
		}),
		savesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mindmap_saves_total",
			Help: "Save attempts by outcome",
		}, []string{"outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindmap_remote_request_duration_seconds",
			Help:    "Duration of remote backend HTTP requests",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server returns an HTTP server exposing /metrics on addr, for binaries
// that have no router of their own
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Observe counts every batch an engine applies, once when it reaches
// in-memory state and once when it is stored. The returned function stops
// observing.
func (m *Metrics) Observe(e *engine.Engine) func() {
	record := func(phase engine.Phase) engine.PostSubscriberFunc {
		label := phase.String()
		return func(_ context.Context, ev engine.BatchEvent) error {
			m.batchesTotal.WithLabelValues(ev.CommandID, label).Inc()
			for kind, batch := range ev.Actions {
				m.actionsTotal.WithLabelValues(kind.String(), label).Add(float64(len(batch)))
			}
			m.unsyncedBatches.Set(float64(e.Unsynced()))
			return nil
		}
	}

	stopSync := e.SubscribePost("metrics", actions.Kinds(), engine.PhaseSync, record(engine.PhaseSync))
	stopAsync := e.SubscribePost("metrics", actions.Kinds(), engine.PhaseAsync, record(engine.PhaseAsync))
	return func() {
		stopSync()
		stopAsync()
	}
}

// ObserveSave counts the outcome of a save
func (m *Metrics) ObserveSave(res *reconcile.Result, err error) {
	m.savesTotal.WithLabelValues(SaveOutcome(res, err)).Inc()
}

// SaveOutcome classifies a save result for labelling
func SaveOutcome(res *reconcile.Result, err error) string {
	switch {
	case errors.Is(err, application.ErrConflict):
		return "conflict"
	case errors.Is(err, application.ErrSaveInProgress):
		return "busy"
	case err != nil:
		return "error"
	case res.Discarded:
		return "discarded"
	case res.Skipped:
		return "skipped"
	default:
		return "uploaded"
	}
}

// Middleware records the duration of every request handled by a gin router
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
