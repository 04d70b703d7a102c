package registry

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// Incidents is the incident side of the registry.
type Incidents struct {
	r *Registry
}

// NewIncident holds the validated fields of an incident to create.
type NewIncident struct {
	Type        string
	Severity    models.Severity
	Address     string
	Position    models.Location
	Description string
}

// Get returns one incident.
func (s *Incidents) Get(id models.ID) (models.Incident, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	inc, ok := s.r.incidents[id]
	if !ok {
		return models.Incident{}, fmt.Errorf("incident %s: %w", id, models.ErrNotFound)
	}
	return inc.Clone(), nil
}

// List returns incidents matching keep, most urgent first then oldest first.
// A nil keep returns every incident.
func (s *Incidents) List(keep func(models.Incident) bool) []models.Incident {
	s.r.mu.RLock()
	out := make([]models.Incident, 0, len(s.r.incidents))
	for _, inc := range s.r.incidents {
		if keep == nil || keep(inc) {
			out = append(out, inc.Clone())
		}
	}
	s.r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Urgency() != b.Severity.Urgency() {
			return a.Severity.Urgency() < b.Severity.Urgency()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Upsert inserts or overwrites inc by id.
func (s *Incidents) Upsert(inc models.Incident) error {
	if inc.ID == "" {
		return models.Validationf("incident id is required")
	}
	_, err := s.r.Update(func(tx *Tx) error {
		tx.PutIncident(inc)
		return nil
	})
	return err
}

// Create stores a new PENDING incident.
func (s *Incidents) Create(n NewIncident) (models.Incident, ChangeSet, error) {
	var created models.Incident
	cs, err := s.r.Update(func(tx *Tx) error {
		inc, err := CreateIncident(tx, n)
		created = inc
		return err
	})
	return created, cs, err
}

// Resolve moves an IN_PROGRESS incident to RESOLVED. It does not touch the
// assigned ambulance; dispatch.Planner.ResolveAndRelease does both.
func (s *Incidents) Resolve(id models.ID) (models.Incident, error) {
	var resolved models.Incident
	_, err := s.r.Update(func(tx *Tx) error {
		inc, err := ResolveIncident(tx, id)
		resolved = inc
		return err
	})
	return resolved, err
}

// Describe replaces the description of a non-resolved incident.
func (s *Incidents) Describe(id models.ID, description string) (models.Incident, ChangeSet, error) {
	var updated models.Incident
	cs, err := s.r.Update(func(tx *Tx) error {
		inc, err := tx.Incident(id)
		if err != nil {
			return err
		}
		if inc.Status == models.IncidentResolved {
			return fmt.Errorf("incident %s is resolved: %w", id, models.ErrInvalidState)
		}
		now := tx.Now()
		inc.Description = strings.TrimSpace(description)
		inc.UpdatedAt = &now
		tx.PutIncident(inc)
		updated = inc
		return nil
	})
	return updated, cs, err
}

// Minimum lengths, in characters, of an incident's type and address.
const (
	MinIncidentTypeLen    = 3
	MinIncidentAddressLen = 5
)

// CreateIncident validates n and buffers a new PENDING incident in tx.
func CreateIncident(tx *Tx, n NewIncident) (models.Incident, error) {
	typ := strings.TrimSpace(n.Type)
	addr := strings.TrimSpace(n.Address)
	if utf8.RuneCountInString(typ) < MinIncidentTypeLen {
		return models.Incident{}, models.Validationf("incident type must be at least %d characters", MinIncidentTypeLen)
	}
	if utf8.RuneCountInString(addr) < MinIncidentAddressLen {
		return models.Incident{}, models.Validationf("incident address must be at least %d characters", MinIncidentAddressLen)
	}
	if !n.Severity.IsValid() {
		return models.Incident{}, models.Validationf("unknown severity %q", n.Severity)
	}
	inc := models.Incident{
		ID:          tx.NewID(),
		Type:        typ,
		Severity:    n.Severity,
		Address:     addr,
		Location:    n.Position,
		Status:      models.IncidentPending,
		CreatedAt:   tx.Now(),
		Description: strings.TrimSpace(n.Description),
	}
	tx.PutIncident(inc)
	return inc, nil
}

// ResolveIncident buffers the IN_PROGRESS to RESOLVED transition. The
// assigned ambulance id is kept as history.
func ResolveIncident(tx *Tx, id models.ID) (models.Incident, error) {
	inc, err := tx.Incident(id)
	if err != nil {
		return models.Incident{}, err
	}
	if inc.Status != models.IncidentInProgress {
		return models.Incident{}, fmt.Errorf("incident %s is %s, want %s: %w",
			id, inc.Status, models.IncidentInProgress, models.ErrInvalidTransition)
	}
	now := tx.Now()
	inc.Status = models.IncidentResolved
	inc.UpdatedAt = &now
	tx.PutIncident(inc)
	return inc, nil
}
