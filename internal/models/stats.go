package models

// IncidentStats summarises a set of incidents.
type IncidentStats struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Critical   int              `json:"critical"`
	Resolved   int              `json:"resolved"`
	BySeverity map[Severity]int `json:"bySeverity"`
}

// FleetStats summarises a set of ambulances.
type FleetStats struct {
	Total       int                   `json:"total"`
	Available   int                   `json:"available"`
	Busy        int                   `json:"busy"`
	Maintenance int                   `json:"maintenance"`
	ByType      map[AmbulanceType]int `json:"byType"`
}

// ComputeIncidentStats tallies incidents. Critical counts only unresolved
// CRITICAL incidents.
func ComputeIncidentStats(incidents []Incident) IncidentStats {
	s := IncidentStats{BySeverity: make(map[Severity]int, len(Severities))}
	for _, sev := range Severities {
		s.BySeverity[sev] = 0
	}
	for _, inc := range incidents {
		s.Total++
		s.BySeverity[inc.Severity]++
		if inc.Active() {
			s.Active++
			if inc.Severity == SeverityCritical {
				s.Critical++
			}
		} else {
			s.Resolved++
		}
	}
	return s
}

func ComputeFleetStats(ambulances []Ambulance) FleetStats {
	s := FleetStats{ByType: map[AmbulanceType]int{
		AmbulanceTypeA: 0,
		AmbulanceTypeB: 0,
		AmbulanceTypeC: 0,
	}}
	for _, a := range ambulances {
		s.Total++
		s.ByType[a.Type]++
		switch a.Status {
		case AmbulanceAvailable:
			s.Available++
		case AmbulanceBusy:
			s.Busy++
		case AmbulanceMaintenance:
			s.Maintenance++
		}
	}
	return s
}
