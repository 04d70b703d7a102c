package registry

import (
	"fmt"
	"time"

	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// Tx is a buffered view over the registry used inside Update.
type Tx struct {
	r          *Registry
	now        time.Time
	ambulances map[models.ID]models.Ambulance
	incidents  map[models.ID]models.Incident
	removed    map[models.ID]struct{}
	order      []txWrite
}

type txKind int

const (
	writeAmbulance txKind = iota
	writeIncident
	removeAmbulance
)

type txWrite struct {
	kind txKind
	id   models.ID
}

func newTx(r *Registry) *Tx {
	return &Tx{
		r:          r,
		now:        r.now(),
		ambulances: make(map[models.ID]models.Ambulance),
		incidents:  make(map[models.ID]models.Incident),
		removed:    make(map[models.ID]struct{}),
	}
}

// Now is the timestamp stamped on every record written by this transaction.
func (tx *Tx) Now() time.Time { return tx.now }

// NewID mints a record id.
func (tx *Tx) NewID() models.ID { return tx.r.newID() }

// Ambulance returns the ambulance as this transaction sees it.
func (tx *Tx) Ambulance(id models.ID) (models.Ambulance, error) {
	if _, gone := tx.removed[id]; gone {
		return models.Ambulance{}, fmt.Errorf("ambulance %s: %w", id, models.ErrNotFound)
	}
	if a, ok := tx.ambulances[id]; ok {
		return a.Clone(), nil
	}
	if a, ok := tx.r.ambulances[id]; ok {
		return a.Clone(), nil
	}
	return models.Ambulance{}, fmt.Errorf("ambulance %s: %w", id, models.ErrNotFound)
}

// Incident returns the incident as this transaction sees it.
func (tx *Tx) Incident(id models.ID) (models.Incident, error) {
	if i, ok := tx.incidents[id]; ok {
		return i.Clone(), nil
	}
	if i, ok := tx.r.incidents[id]; ok {
		return i.Clone(), nil
	}
	return models.Incident{}, fmt.Errorf("incident %s: %w", id, models.ErrNotFound)
}

// PutAmbulance buffers an insert or overwrite.
func (tx *Tx) PutAmbulance(a models.Ambulance) {
	delete(tx.removed, a.ID)
	tx.ambulances[a.ID] = a.Clone()
	tx.order = append(tx.order, txWrite{kind: writeAmbulance, id: a.ID})
}

// PutIncident buffers an insert or overwrite.
func (tx *Tx) PutIncident(i models.Incident) {
	tx.incidents[i.ID] = i.Clone()
	tx.order = append(tx.order, txWrite{kind: writeIncident, id: i.ID})
}

// RemoveAmbulance buffers a delete.
func (tx *Tx) RemoveAmbulance(id models.ID) {
	delete(tx.ambulances, id)
	tx.removed[id] = struct{}{}
	tx.order = append(tx.order, txWrite{kind: removeAmbulance, id: id})
}

// ActiveIncidentFor returns the non-resolved incident holding ambulanceID.
func (tx *Tx) ActiveIncidentFor(ambulanceID models.ID) (models.Incident, bool) {
	for _, inc := range tx.incidents {
		if inc.References(ambulanceID) {
			return inc.Clone(), true
		}
	}
	for id, inc := range tx.r.incidents {
		if _, shadowed := tx.incidents[id]; shadowed {
			continue
		}
		if inc.References(ambulanceID) {
			return inc.Clone(), true
		}
	}
	return models.Incident{}, false
}

func (tx *Tx) commit() ChangeSet {
	var cs ChangeSet
	seen := make(map[txWrite]bool, len(tx.order))
	// Walk backwards so each record is reported once, in its final state.
	for i := len(tx.order) - 1; i >= 0; i-- {
		w := tx.order[i]
		key := w
		if w.kind == removeAmbulance {
			key.kind = writeAmbulance
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		switch w.kind {
		case writeAmbulance:
			a := tx.ambulances[w.id]
			tx.r.ambulances[w.id] = a
			cs.Ambulances = append(cs.Ambulances, a.Clone())
		case writeIncident:
			inc := tx.incidents[w.id]
			tx.r.incidents[w.id] = inc
			cs.Incidents = append(cs.Incidents, inc.Clone())
		case removeAmbulance:
			delete(tx.r.ambulances, w.id)
			cs.RemovedAmbulances = append(cs.RemovedAmbulances, w.id)
		}
	}
	return cs
}

// AvailableAmbulances lists every AVAILABLE ambulance as this transaction sees it.
func (tx *Tx) AvailableAmbulances() []models.Ambulance {
	out := make([]models.Ambulance, 0)
	for id, a := range tx.ambulances {
		if _, gone := tx.removed[id]; !gone && a.Status == models.AmbulanceAvailable {
			out = append(out, a.Clone())
		}
	}
	for id, a := range tx.r.ambulances {
		if _, shadowed := tx.ambulances[id]; shadowed {
			continue
		}
		if _, gone := tx.removed[id]; gone {
			continue
		}
		if a.Status == models.AmbulanceAvailable {
			out = append(out, a.Clone())
		}
	}
	return out
}
