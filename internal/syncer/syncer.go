// Package syncer keeps the registry in step with the backing store by
// re-reading both collections on an interval and whenever a local command
// marks the registry dirty.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/models"
	"github.com/ukydev/ambulance-dispatch/internal/observability"
	"github.com/ukydev/ambulance-dispatch/internal/registry"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the periodic refresh cadence.
const DefaultInterval = 30 * time.Second

// Source lists the records held by the backing store.
type Source interface {
	ListAmbulances(ctx context.Context) ([]models.Ambulance, error)
	ListIncidents(ctx context.Context) ([]models.Incident, error)
}

// Status describes the most recent refresh attempts.
type Status struct {
	LastAttempt time.Time `json:"lastAttempt"`
	LastSuccess time.Time `json:"lastSuccess"`
	LastError   string    `json:"lastError,omitempty"`
	Applied     int       `json:"applied"`
	Skipped     int       `json:"skipped"`
	Removed     int       `json:"removed"`
}

// Scheduler runs refreshes.
type Scheduler struct {
	reg      *registry.Registry
	src      Source
	interval time.Duration
	timeout  time.Duration
	dirty    chan string
	metrics  *observability.Collector
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.RWMutex
	status Status
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithFetchTimeout bounds a single refresh.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithMetrics(m *observability.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a scheduler that reconciles src into reg.
func New(reg *registry.Registry, src Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:      reg,
		src:      src,
		interval: DefaultInterval,
		timeout:  10 * time.Second,
		dirty:    make(chan string, 1),
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkDirty requests a refresh soon. It never blocks; requests made while one
// is already queued are coalesced.
func (s *Scheduler) MarkDirty(reason string) {
	select {
	case s.dirty <- reason:
	default:
	}
}

// Run refreshes once at start and then on every tick or dirty mark until ctx
// is cancelled. Refresh failures are logged and retried on the next trigger.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithField("interval", s.interval).Info("Starting store sync")
	_, _ = s.Refresh(ctx, "startup")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Store sync stopped")
			return nil
		case <-ticker.C:
			_, _ = s.Refresh(ctx, "interval")
		case reason := <-s.dirty:
			s.log.WithField("reason", reason).Debug("Refreshing after local change")
			_, _ = s.Refresh(ctx, "dirty")
		}
	}
}

// Refresh fetches both collections concurrently and reconciles them into the
// registry. Nothing is applied unless both fetches succeed.
func (s *Scheduler) Refresh(ctx context.Context, trigger string) (registry.ReconcileResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	fetchStart := s.reg.Now()
	var (
		ambulances []models.Ambulance
		incidents  []models.Incident
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ambulances, err = s.src.ListAmbulances(gctx)
		if err != nil {
			return fmt.Errorf("list ambulances: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		incidents, err = s.src.ListIncidents(gctx)
		if err != nil {
			return fmt.Errorf("list incidents: %w", err)
		}
		return nil
	})

	err := g.Wait()
	var res registry.ReconcileResult
	if err == nil {
		res = s.reg.Reconcile(fetchStart, ambulances, incidents)
	}
	end := s.now()
	s.metrics.ObserveSync(trigger, end.Sub(start), res.Applied, res.Skipped, res.Removed, err, end)

	s.mu.Lock()
	s.status.LastAttempt = end
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastSuccess = end
		s.status.LastError = ""
		s.status.Applied = res.Applied
		s.status.Skipped = res.Skipped
		s.status.Removed = res.Removed
	}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).WithField("trigger", trigger).Warn("Store sync failed, keeping local state")
		return res, err
	}
	s.log.WithFields(logrus.Fields{
		"trigger": trigger,
		"applied": res.Applied,
		"skipped": res.Skipped,
		"removed": res.Removed,
	}).Debug("Store sync complete")
	return res, nil
}

// Status returns a copy of the last refresh outcome.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
