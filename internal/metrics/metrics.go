package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name", "kind"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or forced).",
		}, []string{"name", "kind"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of failed start attempts by failure class.",
		}, []string{"name", "reason"},
	)
	serviceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "crashes_total",
			Help:      "Number of unprompted exits observed while running.",
		}, []string{"name"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "start_duration_seconds",
			Help:      "Wall time from start request to healthy, per service.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"name"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcpilot",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Duration of individual readiness probes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name", "type"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	runningServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "svcpilot",
			Subsystem: "service",
			Name:      "running",
			Help:      "Number of services currently in the running state.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStops, serviceStartFailures, serviceCrashes,
		startDuration, probeDuration, stateTransitions, currentStates, runningServices,
	}
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

// Handler serves Prometheus metrics for the DefaultGatherer. The caller
// wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name, kind string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name, kind).Inc()
	}
}

func IncStop(name, kind string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name, kind).Inc()
	}
}

func IncStartFailure(name, reason string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		serviceCrashes.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(name).Observe(seconds)
	}
}

func ObserveProbeDuration(name, probeType string, seconds float64) {
	if regOK.Load() {
		probeDuration.WithLabelValues(name, probeType).Observe(seconds)
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		currentStates.WithLabelValues(name, state).Set(v)
	}
}

func SetRunningServices(n int) {
	if regOK.Load() {
		runningServices.Set(float64(n))
	}
}
