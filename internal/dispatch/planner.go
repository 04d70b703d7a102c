// Package dispatch ranks vehicles for incidents and commits assignments.
package dispatch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ukydev/ambulance-dispatch/internal/geo"
	"github.com/ukydev/ambulance-dispatch/internal/models"
	"github.com/ukydev/ambulance-dispatch/internal/registry"
)

// Candidate is one ranked vehicle for an incident.
type Candidate struct {
	Ambulance  models.Ambulance `json:"ambulance"`
	DistanceKm float64          `json:"distanceKm"`
	ETAMinutes int              `json:"etaMinutes"`
}

// Assignment is a committed incident/ambulance pairing.
type Assignment struct {
	Incident   models.Incident  `json:"incident"`
	Ambulance  models.Ambulance `json:"ambulance"`
	DistanceKm float64          `json:"distanceKm"`
	ETAMinutes int              `json:"etaMinutes"`
}

// Release is the outcome of resolving an incident.
type Release struct {
	Incident models.Incident `json:"incident"`
	// Ambulance is nil when the assigned vehicle no longer exists locally.
	Ambulance *models.Ambulance `json:"ambulance,omitempty"`
}

// RankCandidates orders available by distance from the incident, nearest
// first, with ties broken by ambulance id.
func RankCandidates(incident models.Incident, available []models.Ambulance) []Candidate {
	out := make([]Candidate, 0, len(available))
	for _, a := range available {
		d := geo.DistanceKm(incident.Position(), a.Position())
		out = append(out, Candidate{
			Ambulance:  a,
			DistanceKm: d,
			ETAMinutes: geo.EstimateETAMinutes(d),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Ambulance.ID < out[j].Ambulance.ID
	})
	return out
}

// Planner commits assignments against a registry. Every commit runs inside
// registry.Update, so the check-then-write sequence is serialized with all
// other mutations.
type Planner struct {
	reg *registry.Registry
}

// NewPlanner creates a planner over reg.
func NewPlanner(reg *registry.Registry) *Planner {
	return &Planner{reg: reg}
}

// Candidates ranks the currently available vehicles for an incident.
func (p *Planner) Candidates(incidentID models.ID) ([]Candidate, error) {
	inc, err := p.reg.Incidents().Get(incidentID)
	if err != nil {
		return nil, err
	}
	return RankCandidates(inc, p.reg.Fleet().Available()), nil
}

// CommitAssignment pairs a PENDING incident with an AVAILABLE ambulance.
// Either both records change or neither does.
func (p *Planner) CommitAssignment(incidentID, ambulanceID models.ID) (Assignment, registry.ChangeSet, error) {
	var out Assignment
	cs, err := p.reg.Update(func(tx *registry.Tx) error {
		inc, err := tx.Incident(incidentID)
		if err != nil {
			return err
		}
		amb, err := tx.Ambulance(ambulanceID)
		if err != nil {
			return err
		}
		out, err = assign(tx, inc, amb)
		return err
	})
	return out, cs, err
}

// AutoAssign commits the nearest available ambulance to a PENDING incident.
func (p *Planner) AutoAssign(incidentID models.ID) (Assignment, registry.ChangeSet, error) {
	var out Assignment
	cs, err := p.reg.Update(func(tx *registry.Tx) error {
		inc, err := tx.Incident(incidentID)
		if err != nil {
			return err
		}
		ranked := RankCandidates(inc, tx.AvailableAmbulances())
		if len(ranked) == 0 {
			return fmt.Errorf("incident %s: no ambulance available: %w", incidentID, models.ErrInvalidState)
		}
		out, err = assign(tx, inc, ranked[0].Ambulance)
		return err
	})
	return out, cs, err
}

func assign(tx *registry.Tx, inc models.Incident, amb models.Ambulance) (Assignment, error) {
	if inc.Status != models.IncidentPending {
		return Assignment{}, fmt.Errorf("incident %s is %s: %w", inc.ID, inc.Status, models.ErrInvalidState)
	}
	if amb.Status != models.AmbulanceAvailable {
		return Assignment{}, fmt.Errorf("ambulance %s is %s: %w", amb.ID, amb.Status, models.ErrInvalidState)
	}

	now := tx.Now()
	ambID := amb.ID
	inc.Status = models.IncidentInProgress
	inc.AssignedAmbulanceID = &ambID
	inc.UpdatedAt = &now
	amb.Status = models.AmbulanceBusy
	amb.LastUpdate = now
	tx.PutIncident(inc)
	tx.PutAmbulance(amb)

	d := geo.DistanceKm(inc.Position(), amb.Position())
	return Assignment{
		Incident:   inc,
		Ambulance:  amb,
		DistanceKm: d,
		ETAMinutes: geo.EstimateETAMinutes(d),
	}, nil
}

// ResolveAndRelease closes an IN_PROGRESS incident and returns its ambulance
// to AVAILABLE. Resolving an incident in any other status fails with an error
// matching both models.ErrInvalidState and models.ErrInvalidTransition.
func (p *Planner) ResolveAndRelease(incidentID models.ID) (Release, registry.ChangeSet, error) {
	var out Release
	cs, err := p.reg.Update(func(tx *registry.Tx) error {
		inc, err := tx.Incident(incidentID)
		if err != nil {
			return err
		}
		if inc.Status != models.IncidentInProgress {
			return fmt.Errorf("incident %s is %s: %w: %w", incidentID, inc.Status, models.ErrInvalidState, models.ErrInvalidTransition)
		}
		resolved, err := registry.ResolveIncident(tx, incidentID)
		if err != nil {
			return err
		}
		out.Incident = resolved

		if resolved.AssignedAmbulanceID == nil {
			return nil
		}
		amb, err := tx.Ambulance(*resolved.AssignedAmbulanceID)
		if errors.Is(err, models.ErrNotFound) {
			// The vehicle was removed upstream; the incident still closes.
			return nil
		}
		if err != nil {
			return err
		}
		amb.Status = models.AmbulanceAvailable
		amb.LastUpdate = tx.Now()
		tx.PutAmbulance(amb)
		out.Ambulance = &amb
		return nil
	})
	return out, cs, err
}
