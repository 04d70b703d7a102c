// Package observability exposes Prometheus metrics for dispatch commands,
// backing-store writes and sync ticks.
package observability

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// Collector holds the dispatch metrics. All methods are no-ops on a nil
// receiver so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Commands        *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	PersistFailures prometheus.Counter
	SyncTicks       *prometheus.CounterVec
	SyncDuration    prometheus.Histogram
	SyncRecords     *prometheus.CounterVec
	SyncLastSuccess prometheus.Gauge
}

// NewCollector registers dispatch metrics against reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_commands_total",
		Help: "Dispatch commands handled, labeled by operation and outcome.",
	}, []string{"op", "outcome"}), "dispatch_commands_total")
	if err != nil {
		return nil, err
	}

	persistDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_persist_duration_seconds",
		Help:    "Time spent writing committed changes to the backing store.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}), "dispatch_persist_duration_seconds")
	if err != nil {
		return nil, err
	}

	persistFailures, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_persist_failures_total",
		Help: "Committed changes that could not be written to the backing store.",
	}), "dispatch_persist_failures_total")
	if err != nil {
		return nil, err
	}

	syncTicks, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sync_ticks_total",
		Help: "Registry refreshes from the backing store, labeled by trigger and outcome.",
	}, []string{"trigger", "outcome"}), "dispatch_sync_ticks_total")
	if err != nil {
		return nil, err
	}

	syncDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_sync_duration_seconds",
		Help:    "Duration of registry refreshes.",
		Buckets: prometheus.DefBuckets,
	}), "dispatch_sync_duration_seconds")
	if err != nil {
		return nil, err
	}

	syncRecords, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sync_records_total",
		Help: "Fetched records applied, skipped, or removed by the registry.",
	}, []string{"result"}), "dispatch_sync_records_total")
	if err != nil {
		return nil, err
	}

	lastSuccess, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_sync_last_success_timestamp_seconds",
		Help: "Unix time of the last successful registry refresh.",
	}), "dispatch_sync_last_success_timestamp_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Commands:        commands,
		PersistDuration: persistDuration,
		PersistFailures: persistFailures,
		SyncTicks:       syncTicks,
		SyncDuration:    syncDuration,
		SyncRecords:     syncRecords,
		SyncLastSuccess: lastSuccess,
	}, nil
}

// Gatherer returns the gatherer the collector was registered with.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveCommand counts one dispatch command.
func (c *Collector) ObserveCommand(op string, err error) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(op, Outcome(err)).Inc()
}

// ObservePersist records one backing-store write batch.
func (c *Collector) ObservePersist(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.PersistDuration.Observe(d.Seconds())
	if err != nil {
		c.PersistFailures.Inc()
	}
}

// ObserveSync records one refresh.
func (c *Collector) ObserveSync(trigger string, d time.Duration, applied, skipped, removed int, err error, at time.Time) {
	if c == nil {
		return
	}
	c.SyncTicks.WithLabelValues(trigger, Outcome(err)).Inc()
	c.SyncDuration.Observe(d.Seconds())
	if err != nil {
		return
	}
	c.SyncRecords.WithLabelValues("applied").Add(float64(applied))
	c.SyncRecords.WithLabelValues("skipped").Add(float64(skipped))
	c.SyncRecords.WithLabelValues("removed").Add(float64(removed))
	c.SyncLastSuccess.Set(float64(at.Unix()))
}

// Outcome maps an error onto a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return c, nil
}
