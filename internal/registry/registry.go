// Package registry keeps the in-memory incident and ambulance records that are
// the source of truth for a dispatch session.
//
// Both registries share one lock. Every mutation runs inside Update, which
// buffers writes in a Tx and applies them together only when the callback
// succeeds, so readers never see half of an assignment.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// Registry owns the ambulance and incident snapshots.
type Registry struct {
	mu         sync.RWMutex
	ambulances map[models.ID]models.Ambulance
	incidents  map[models.ID]models.Incident
	seq        uint64

	now   func() time.Time
	newID func() models.ID
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides how new record ids are minted.
func WithIDGenerator(gen func() models.ID) Option {
	return func(r *Registry) { r.newID = gen }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		ambulances: make(map[models.ID]models.Ambulance),
		incidents:  make(map[models.ID]models.Incident),
		now:        time.Now,
		newID:      func() models.ID { return models.ID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fleet returns the ambulance view of the registry.
func (r *Registry) Fleet() *Fleet { return &Fleet{r: r} }

// Incidents returns the incident view of the registry.
func (r *Registry) Incidents() *Incidents { return &Incidents{r: r} }

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time { return r.now() }

// ChangeSet lists the records written by one committed transaction. Seq
// increases with every commit, so a later ChangeSet always carries a larger Seq.
type ChangeSet struct {
	Seq               uint64
	Ambulances        []models.Ambulance
	Incidents         []models.Incident
	RemovedAmbulances []models.ID
}

// Empty reports whether the transaction wrote nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Ambulances) == 0 && len(c.Incidents) == 0 && len(c.RemovedAmbulances) == 0
}

// Update runs fn under the registry's single write lock. Writes made through
// tx become visible only if fn returns nil; otherwise nothing changes.
func (r *Registry) Update(fn func(tx *Tx) error) (ChangeSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := newTx(r)
	if err := fn(tx); err != nil {
		return ChangeSet{}, err
	}
	cs := tx.commit()
	r.seq++
	cs.Seq = r.seq
	return cs, nil
}

// Snapshot is a consistent copy of both registries taken under one read lock.
type Snapshot struct {
	Ambulances []models.Ambulance
	Incidents  []models.Incident
	TakenAt    time.Time
}

// Snapshot copies every record. Results are ordered by id.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Ambulances: make([]models.Ambulance, 0, len(r.ambulances)),
		Incidents:  make([]models.Incident, 0, len(r.incidents)),
		TakenAt:    r.now(),
	}
	for _, a := range r.ambulances {
		s.Ambulances = append(s.Ambulances, a.Clone())
	}
	for _, i := range r.incidents {
		s.Incidents = append(s.Incidents, i.Clone())
	}
	sort.Slice(s.Ambulances, func(i, j int) bool { return s.Ambulances[i].ID < s.Ambulances[j].ID })
	sort.Slice(s.Incidents, func(i, j int) bool { return s.Incidents[i].ID < s.Incidents[j].ID })
	return s
}

// ReconcileResult counts what a reconciliation pass did.
type ReconcileResult struct {
	Applied int
	Skipped int
	Removed int
}

// Reconcile merges a complete snapshot fetched from the backing store.
// fetchStart is the registry time at which the fetch began.
//
// A fetched record overwrites the local one unless the local copy was modified
// more recently, which means a local mutation the store has not observed yet.
// A local record missing from the snapshot was deleted upstream and is dropped,
// unless it was written at or after fetchStart and so may simply be newer than
// the snapshot.
func (r *Registry) Reconcile(fetchStart time.Time, ambulances []models.Ambulance, incidents []models.Incident) ReconcileResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res ReconcileResult
	seenAmb := make(map[models.ID]bool, len(ambulances))
	for _, remote := range ambulances {
		if remote.ID == "" {
			res.Skipped++
			continue
		}
		seenAmb[remote.ID] = true
		if local, ok := r.ambulances[remote.ID]; ok && local.LastUpdate.After(remote.LastUpdate) {
			res.Skipped++
			continue
		}
		r.ambulances[remote.ID] = remote.Clone()
		res.Applied++
	}
	for id, local := range r.ambulances {
		if !seenAmb[id] && local.LastUpdate.Before(fetchStart) {
			delete(r.ambulances, id)
			res.Removed++
		}
	}

	seenInc := make(map[models.ID]bool, len(incidents))
	for _, remote := range incidents {
		if remote.ID == "" {
			res.Skipped++
			continue
		}
		seenInc[remote.ID] = true
		if local, ok := r.incidents[remote.ID]; ok && local.LastModified().After(remote.LastModified()) {
			res.Skipped++
			continue
		}
		r.incidents[remote.ID] = remote.Clone()
		res.Applied++
	}
	for id, local := range r.incidents {
		if !seenInc[id] && local.LastModified().Before(fetchStart) {
			delete(r.incidents, id)
			res.Removed++
		}
	}
	return res
}
