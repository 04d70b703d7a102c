package dispatch

import (
	"fmt"

	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// IncidentView selects which incidents a listing returns.
type IncidentView string

const (
	ViewActive   IncidentView = "active"
	ViewCritical IncidentView = "critical"
	ViewResolved IncidentView = "resolved"
	ViewAll      IncidentView = "all"
)

// Stats is the dashboard summary.
type Stats struct {
	Incidents models.IncidentStats `json:"incidents"`
	Fleet     models.FleetStats    `json:"fleet"`
}

// ListAmbulances returns vehicles, optionally filtered by status.
func (s *Service) ListAmbulances(actor models.Actor, status models.AmbulanceStatus) ([]models.Ambulance, error) {
	if err := s.gate.CheckAny(actor.Role, models.PermViewAmbulanceMap, models.PermViewFleetStatus); err != nil {
		return nil, err
	}
	if status != "" {
		if !status.IsValid() {
			return nil, models.Validationf("unknown ambulance status %q", status)
		}
		if err := s.gate.CheckAny(actor.Role, models.PermFilterAmbulances, models.PermViewFleetStatus); err != nil {
			return nil, err
		}
	}
	return s.reg.Fleet().List(status), nil
}

// GetAmbulance returns one vehicle.
func (s *Service) GetAmbulance(actor models.Actor, id models.ID) (models.Ambulance, error) {
	if err := s.gate.CheckAny(actor.Role, models.PermViewAmbulanceMap, models.PermViewFleetStatus); err != nil {
		return models.Ambulance{}, err
	}
	return s.reg.Fleet().Get(id)
}

// ListIncidents returns incidents for a view, most urgent first. Views that
// include resolved incidents need VIEW_INCIDENT_HISTORY.
func (s *Service) ListIncidents(actor models.Actor, view IncidentView) ([]models.Incident, error) {
	var keep func(models.Incident) bool
	perm := models.PermViewAmbulanceMap
	switch view {
	case ViewActive, "":
		keep = models.Incident.Active
	case ViewCritical:
		keep = func(i models.Incident) bool { return i.Active() && i.Severity == models.SeverityCritical }
	case ViewResolved:
		keep = func(i models.Incident) bool { return !i.Active() }
		perm = models.PermViewIncidentHistory
	case ViewAll:
		perm = models.PermViewIncidentHistory
	default:
		return nil, models.Validationf("unknown incident view %q", view)
	}
	if err := s.gate.CheckAny(actor.Role, perm, models.PermViewIncidentHistory); err != nil {
		return nil, err
	}
	return s.reg.Incidents().List(keep), nil
}

// GetIncident returns one incident.
func (s *Service) GetIncident(actor models.Actor, id models.ID) (models.Incident, error) {
	if err := s.gate.CheckAny(actor.Role, models.PermViewAmbulanceMap, models.PermViewIncidentHistory); err != nil {
		return models.Incident{}, err
	}
	inc, err := s.reg.Incidents().Get(id)
	if err != nil {
		return models.Incident{}, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// Stats summarises incidents and the fleet from one consistent snapshot.
func (s *Service) Stats(actor models.Actor) (Stats, error) {
	if err := s.gate.CheckAny(actor.Role, models.PermViewAmbulanceMap, models.PermViewFleetStatus); err != nil {
		return Stats{}, err
	}
	snap := s.reg.Snapshot()
	return Stats{
		Incidents: models.ComputeIncidentStats(snap.Incidents),
		Fleet:     models.ComputeFleetStats(snap.Ambulances),
	}, nil
}
