package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

func TestObserveCommand(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveCommand("assign_ambulance", nil)
	c.ObserveCommand("assign_ambulance", fmt.Errorf("ambulance 1 is BUSY: %w", models.ErrInvalidState))
	c.ObserveCommand("assign_ambulance", fmt.Errorf("ambulance 2 is BUSY: %w", models.ErrInvalidState))

	if got := testutil.ToFloat64(c.Commands.WithLabelValues("assign_ambulance", "ok")); got != 1 {
		t.Fatalf("ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Commands.WithLabelValues("assign_ambulance", "invalid_state")); got != 2 {
		t.Fatalf("invalid_state count = %v, want 2", got)
	}
}

func TestObserveSync(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	at := time.Unix(1_700_000_000, 0)

	c.ObserveSync("interval", 20*time.Millisecond, 4, 1, 2, nil, at)
	c.ObserveSync("interval", time.Second, 0, 0, 0, models.ErrStoreUnavailable, at.Add(time.Minute))

	if got := testutil.ToFloat64(c.SyncTicks.WithLabelValues("interval", "store_unavailable")); got != 1 {
		t.Fatalf("failed ticks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SyncRecords.WithLabelValues("applied")); got != 4 {
		t.Fatalf("applied = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.SyncRecords.WithLabelValues("removed")); got != 2 {
		t.Fatalf("removed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.SyncLastSuccess); got != float64(at.Unix()) {
		t.Fatalf("last success = %v, want %v", got, at.Unix())
	}
}

func TestObservePersist(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObservePersist(time.Millisecond, nil)
	c.ObservePersist(time.Millisecond, errors.New("timeout"))

	if got := testutil.ToFloat64(c.PersistFailures); got != 1 {
		t.Fatalf("persist failures = %v, want 1", got)
	}
}

func TestNewCollector_ReusesExistingRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.ObserveCommand("create_incident", nil)
	if got := testutil.ToFloat64(second.Commands.WithLabelValues("create_incident", "ok")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveCommand("x", nil)
	c.ObservePersist(time.Second, nil)
	c.ObserveSync("x", time.Second, 1, 1, 0, nil, time.Now())
	if c.Gatherer() != nil {
		t.Fatal("nil collector should have no gatherer")
	}
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"ok":                 nil,
		"permission_denied":  &models.PermissionDeniedError{Role: models.RoleFleetChief, Permission: models.PermAssignAmbulance},
		"validation":         models.Validationf("bad"),
		"not_found":          fmt.Errorf("x: %w", models.ErrNotFound),
		"invalid_transition": models.ErrInvalidTransition,
		"conflict":           models.ErrConflict,
		"error":              errors.New("other"),
	}
	for want, err := range tests {
		if got := Outcome(err); got != want {
			t.Errorf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}
