package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// Fleet is the ambulance side of the registry.
type Fleet struct {
	r *Registry
}

// Get returns one ambulance.
func (f *Fleet) Get(id models.ID) (models.Ambulance, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	a, ok := f.r.ambulances[id]
	if !ok {
		return models.Ambulance{}, fmt.Errorf("ambulance %s: %w", id, models.ErrNotFound)
	}
	return a.Clone(), nil
}

// List returns ambulances ordered by id. An empty status returns all of them.
func (f *Fleet) List(status models.AmbulanceStatus) []models.Ambulance {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	out := make([]models.Ambulance, 0, len(f.r.ambulances))
	for _, a := range f.r.ambulances {
		if status == "" || a.Status == status {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Available returns every AVAILABLE ambulance in no particular order.
func (f *Fleet) Available() []models.Ambulance {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()
	out := make([]models.Ambulance, 0)
	for _, a := range f.r.ambulances {
		if a.Status == models.AmbulanceAvailable {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Upsert inserts or overwrites a by id.
func (f *Fleet) Upsert(a models.Ambulance) error {
	if a.ID == "" {
		return models.Validationf("ambulance id is required")
	}
	_, err := f.r.Update(func(tx *Tx) error {
		tx.PutAmbulance(a)
		return nil
	})
	return err
}

// Create registers a new AVAILABLE ambulance.
func (f *Fleet) Create(req models.CreateAmbulanceRequest) (models.Ambulance, ChangeSet, error) {
	var created models.Ambulance
	cs, err := f.r.Update(func(tx *Tx) error {
		a, err := CreateAmbulance(tx, req)
		created = a
		return err
	})
	return created, cs, err
}

// SetStatus changes an ambulance's availability.
func (f *Fleet) SetStatus(id models.ID, status models.AmbulanceStatus) (models.Ambulance, ChangeSet, error) {
	var updated models.Ambulance
	cs, err := f.r.Update(func(tx *Tx) error {
		a, err := SetAmbulanceStatus(tx, id, status)
		updated = a
		return err
	})
	return updated, cs, err
}

// UpdateLocation moves an ambulance.
func (f *Fleet) UpdateLocation(id models.ID, loc models.Location) (models.Ambulance, ChangeSet, error) {
	var updated models.Ambulance
	cs, err := f.r.Update(func(tx *Tx) error {
		a, err := tx.Ambulance(id)
		if err != nil {
			return err
		}
		a.Location = loc
		a.LastUpdate = tx.Now()
		tx.PutAmbulance(a)
		updated = a
		return nil
	})
	return updated, cs, err
}

// Remove deletes an ambulance unless a non-resolved incident holds it.
// Resolved incidents keep the removed id as history.
func (f *Fleet) Remove(id models.ID) (ChangeSet, error) {
	return f.r.Update(func(tx *Tx) error {
		return RemoveAmbulance(tx, id)
	})
}

// CreateAmbulance validates req and buffers a new AVAILABLE ambulance in tx.
func CreateAmbulance(tx *Tx, req models.CreateAmbulanceRequest) (models.Ambulance, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Ambulance{}, models.Validationf("ambulance name is required")
	}
	if !req.Type.IsValid() {
		return models.Ambulance{}, models.Validationf("unknown ambulance type %q", req.Type)
	}
	a := models.Ambulance{
		ID:         tx.NewID(),
		Name:       name,
		Type:       req.Type,
		Status:     models.AmbulanceAvailable,
		Location:   models.Location{Lat: req.Lat, Lng: req.Lng},
		Crew:       append([]string(nil), req.Crew...),
		LastUpdate: tx.Now(),
	}
	tx.PutAmbulance(a)
	return a, nil
}

// SetAmbulanceStatus applies a manual status change. BUSY is reserved for
// assignments, and a vehicle held by an open incident only leaves BUSY when
// that incident is resolved.
func SetAmbulanceStatus(tx *Tx, id models.ID, status models.AmbulanceStatus) (models.Ambulance, error) {
	if !status.IsValid() {
		return models.Ambulance{}, models.Validationf("unknown ambulance status %q", status)
	}
	a, err := tx.Ambulance(id)
	if err != nil {
		return models.Ambulance{}, err
	}
	if status == models.AmbulanceBusy && a.Status != models.AmbulanceBusy {
		return models.Ambulance{}, fmt.Errorf("ambulance %s: only an assignment can set %s: %w", id, status, models.ErrInvalidTransition)
	}
	if a.Status == models.AmbulanceBusy && status != models.AmbulanceBusy {
		if inc, held := tx.ActiveIncidentFor(id); held {
			return models.Ambulance{}, fmt.Errorf("ambulance %s is assigned to incident %s: %w", id, inc.ID, models.ErrInvalidState)
		}
	}
	a.Status = status
	a.LastUpdate = tx.Now()
	tx.PutAmbulance(a)
	return a, nil
}

// RemoveAmbulance buffers a delete, refusing vehicles held by open incidents.
func RemoveAmbulance(tx *Tx, id models.ID) error {
	if _, err := tx.Ambulance(id); err != nil {
		return err
	}
	if inc, held := tx.ActiveIncidentFor(id); held {
		return fmt.Errorf("ambulance %s is referenced by incident %s: %w", id, inc.ID, models.ErrConflict)
	}
	tx.RemoveAmbulance(id)
	return nil
}
