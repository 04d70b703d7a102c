package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// newTestRegistry returns a registry with a fixed clock and sequential ids.
func newTestRegistry() *Registry {
	var mu sync.Mutex
	n := 0
	return New(
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(func() models.ID {
			mu.Lock()
			defer mu.Unlock()
			n++
			return models.ID(fmt.Sprintf("id-%02d", n))
		}),
	)
}

func seedAmbulance(t *testing.T, r *Registry, id models.ID, status models.AmbulanceStatus) models.Ambulance {
	t.Helper()
	a := models.Ambulance{ID: id, Name: "Unit " + string(id), Type: models.AmbulanceTypeA, Status: status, LastUpdate: t0}
	require.NoError(t, r.Fleet().Upsert(a))
	return a
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)
	boom := errors.New("boom")

	cs, err := r.Update(func(tx *Tx) error {
		a, err := tx.Ambulance("a1")
		require.NoError(t, err)
		a.Status = models.AmbulanceMaintenance
		tx.PutAmbulance(a)
		tx.PutIncident(models.Incident{ID: "i1", Status: models.IncidentPending})
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, cs.Empty())
	a, err := r.Fleet().Get("a1")
	require.NoError(t, err)
	assert.Equal(t, models.AmbulanceAvailable, a.Status)
	_, err = r.Incidents().Get("i1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdate_ReportsFinalStateOnce(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)

	cs, err := r.Update(func(tx *Tx) error {
		a, _ := tx.Ambulance("a1")
		a.Name = "first"
		tx.PutAmbulance(a)
		a.Name = "second"
		tx.PutAmbulance(a)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, cs.Ambulances, 1)
	assert.Equal(t, "second", cs.Ambulances[0].Name)
}

func TestUpdate_SequencesCommits(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)

	touch := func(tx *Tx) error {
		a, err := tx.Ambulance("a1")
		if err != nil {
			return err
		}
		tx.PutAmbulance(a)
		return nil
	}
	first, err := r.Update(touch)
	require.NoError(t, err)
	failed, err := r.Update(func(*Tx) error { return errors.New("boom") })
	require.Error(t, err)
	second, err := r.Update(touch)
	require.NoError(t, err)

	assert.Zero(t, failed.Seq)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestUpdate_RemoveThenReadIsNotFound(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)

	cs, err := r.Update(func(tx *Tx) error {
		tx.RemoveAmbulance("a1")
		_, err := tx.Ambulance("a1")
		assert.ErrorIs(t, err, models.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []models.ID{"a1"}, cs.RemovedAmbulances)
	assert.Empty(t, cs.Ambulances)
}

func TestSnapshot_IsDetachedAndOrdered(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "b", models.AmbulanceAvailable)
	seedAmbulance(t, r, "a", models.AmbulanceMaintenance)

	snap := r.Snapshot()
	require.Len(t, snap.Ambulances, 2)
	assert.Equal(t, models.ID("a"), snap.Ambulances[0].ID)

	snap.Ambulances[0].Status = models.AmbulanceAvailable
	a, _ := r.Fleet().Get("a")
	assert.Equal(t, models.AmbulanceMaintenance, a.Status)
}

func TestReconcile_NewerWins(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)
	local := models.Ambulance{ID: "a2", Status: models.AmbulanceMaintenance, LastUpdate: t0.Add(time.Minute)}
	require.NoError(t, r.Fleet().Upsert(local))

	res := r.Reconcile(t0, []models.Ambulance{
		{ID: "a1", Status: models.AmbulanceMaintenance, LastUpdate: t0.Add(time.Second)},
		{ID: "a2", Status: models.AmbulanceAvailable, LastUpdate: t0},
		{ID: "a3", Status: models.AmbulanceAvailable, LastUpdate: t0},
		{ID: "", Status: models.AmbulanceAvailable},
	}, []models.Incident{
		{ID: "i1", Status: models.IncidentPending, CreatedAt: t0},
	})

	assert.Equal(t, ReconcileResult{Applied: 3, Skipped: 2}, res)

	a1, _ := r.Fleet().Get("a1")
	assert.Equal(t, models.AmbulanceMaintenance, a1.Status, "newer remote record overwrites")
	a2, _ := r.Fleet().Get("a2")
	assert.Equal(t, models.AmbulanceMaintenance, a2.Status, "older remote record is skipped")
	_, err := r.Fleet().Get("a3")
	assert.NoError(t, err)
	_, err = r.Incidents().Get("i1")
	assert.NoError(t, err)
}

func TestReconcile_DropsRecordsDeletedUpstream(t *testing.T) {
	r := newTestRegistry()
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)
	require.NoError(t, r.Incidents().Upsert(models.Incident{ID: "i1", Type: "Fall", Address: "2 Rue Haute",
		Severity: models.SeverityLow, Status: models.IncidentPending, CreatedAt: t0}))

	res := r.Reconcile(t0.Add(time.Second), nil, nil)
	assert.Equal(t, 2, res.Removed)

	_, err := r.Fleet().Get("a1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.Incidents().Get("i1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, r.Fleet().Available())

	_, err = r.Update(func(tx *Tx) error {
		_, err := tx.Ambulance("a1")
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound, "a deleted vehicle cannot be assigned")
}

func TestReconcile_KeepsRecordsWrittenDuringFetch(t *testing.T) {
	r := newTestRegistry()
	fetchStart := t0.Add(-time.Second)
	seedAmbulance(t, r, "a1", models.AmbulanceAvailable)

	res := r.Reconcile(fetchStart, nil, nil)
	assert.Zero(t, res.Removed)

	_, err := r.Fleet().Get("a1")
	assert.NoError(t, err)
}

func TestReconcile_IncidentUsesUpdatedAt(t *testing.T) {
	r := newTestRegistry()
	updated := t0.Add(time.Hour)
	amb := models.ID("a1")
	require.NoError(t, r.Incidents().Upsert(models.Incident{
		ID: "i1", Status: models.IncidentInProgress, AssignedAmbulanceID: &amb,
		CreatedAt: t0, UpdatedAt: &updated,
	}))

	res := r.Reconcile(t0, nil, []models.Incident{{ID: "i1", Status: models.IncidentPending, CreatedAt: t0}})
	assert.Equal(t, 1, res.Skipped)

	inc, _ := r.Incidents().Get("i1")
	assert.Equal(t, models.IncidentInProgress, inc.Status)
}
