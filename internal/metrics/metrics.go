// Package metrics exposes Prometheus counters for the dispatch engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command sources used as the "source" label.
const (
	SourceTriggers = "triggers"
	SourceConsole  = "console"
	SourceSignal   = "signal"
)

// Metrics holds the wrapper's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	linesRead         prometheus.Counter
	triggerMatches    prometheus.Counter
	callbackErrors    *prometheus.CounterVec
	commandsSubmitted *prometheus.CounterVec
	commandsDropped   *prometheus.CounterVec
	commandsWritten   prometheus.Counter
	serverExits       *prometheus.CounterVec
	queueDepth        prometheus.GaugeFunc
}

// New creates the collectors on a private registry. depth, if non-nil,
// reports the number of queued commands.
func New(depth func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "output_lines_total",
			Help:      "Lines read from the server's standard output.",
		}),
		triggerMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "trigger_matches_total",
			Help:      "Trigger patterns that matched an output line.",
		}),
		callbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "callback_errors_total",
			Help:      "Plugin callbacks and hooks that failed.",
		}, []string{"plugin"}),
		commandsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "commands_submitted_total",
			Help:      "Commands accepted by the command queue.",
		}, []string{"source"}),
		commandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "commands_dropped_total",
			Help:      "Commands rejected because the queue was closed.",
		}, []string{"source"}),
		commandsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "commands_written_total",
			Help:      "Commands written to the server's standard input.",
		}),
		serverExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcwrap",
			Name:      "server_exits_total",
			Help:      "Server process exits by final state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.linesRead,
		m.triggerMatches,
		m.callbackErrors,
		m.commandsSubmitted,
		m.commandsDropped,
		m.commandsWritten,
		m.serverExits,
	)

	if depth != nil {
		m.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mcwrap",
			Name:      "command_queue_depth",
			Help:      "Commands waiting to be written.",
		}, func() float64 { return float64(depth()) })
		m.registry.MustRegister(m.queueDepth)
	}

	return m
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// LineRead records one output line.
func (m *Metrics) LineRead() {
	if m != nil {
		m.linesRead.Inc()
	}
}

// TriggersMatched records n matching triggers.
func (m *Metrics) TriggersMatched(n int) {
	if m != nil && n > 0 {
		m.triggerMatches.Add(float64(n))
	}
}

// CallbackFailed records a failed callback owned by plugin.
func (m *Metrics) CallbackFailed(plugin string) {
	if m != nil {
		m.callbackErrors.WithLabelValues(plugin).Inc()
	}
}

// CommandSubmitted records a queued command.
func (m *Metrics) CommandSubmitted(source string) {
	if m != nil {
		m.commandsSubmitted.WithLabelValues(source).Inc()
	}
}

// CommandDropped records a command that could not be queued.
func (m *Metrics) CommandDropped(source string) {
	if m != nil {
		m.commandsDropped.WithLabelValues(source).Inc()
	}
}

// CommandWritten records a command delivered to the server.
func (m *Metrics) CommandWritten() {
	if m != nil {
		m.commandsWritten.Inc()
	}
}

// ServerExited records a server exit in the given final state.
func (m *Metrics) ServerExited(state string) {
	if m != nil {
		m.serverExits.WithLabelValues(state).Inc()
	}
}

// Handler returns an HTTP handler serving the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
