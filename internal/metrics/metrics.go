package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hexanator"

// Result label values.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultFailed  = "failed"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultStuck   = "stuck"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "starts_total",
			Help:      "EnsureStarted calls by result.",
		}, []string{"result"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "stops_total",
			Help:      "EnsureStopped calls by result.",
		}, []string{"result"},
	)
	startDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "start_duration_seconds",
			Help:      "Time from EnsureStarted until the server answered its health check.",
			Buckets:   []float64{0.0625, 0.125, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)
	staleRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "stale_records_total",
			Help:      "Ledger records discarded because their process was gone.",
		},
	)
	knownServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "known_servers",
			Help:      "Names present in the ledger at the last listing.",
		},
	)
	probeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "state_transitions_total",
			Help:      "Startup probe state transitions.",
		}, []string{"from", "to"},
	)
	recorderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "requests_total",
			Help:      "Requests recorded as artifacts.",
		}, []string{"name", "method"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{starts, stops, startDuration, staleRecords, knownServers, probeTransitions, recorderRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncStart(result string) {
	if regOK.Load() {
		starts.WithLabelValues(result).Inc()
	}
}

func IncStop(result string) {
	if regOK.Load() {
		stops.WithLabelValues(result).Inc()
	}
}

func ObserveStartDuration(seconds float64) {
	if regOK.Load() {
		startDuration.Observe(seconds)
	}
}

func IncStale() {
	if regOK.Load() {
		staleRecords.Inc()
	}
}

func SetKnownServers(n int) {
	if regOK.Load() {
		knownServers.Set(float64(n))
	}
}

func RecordProbeTransition(from, to string) {
	if regOK.Load() {
		probeTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncRecorderRequest(name, method string) {
	if regOK.Load() {
		recorderRequests.WithLabelValues(name, method).Inc()
	}
}
