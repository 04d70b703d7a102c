package models

import "time"

// Severity is the urgency of an incident.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityModerate Severity = "MODERATE"
	SeverityLow      Severity = "LOW"
)

// Severities lists every severity from most to least urgent.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityModerate, SeverityLow}

// Urgency orders severities; lower is more urgent. Unknown severities sort last.
func (s Severity) Urgency() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	return s.Urgency() < len(Severities)
}

// IncidentStatus moves strictly forward: PENDING, IN_PROGRESS, RESOLVED.
type IncidentStatus string

const (
	IncidentPending    IncidentStatus = "PENDING"
	IncidentInProgress IncidentStatus = "IN_PROGRESS"
	IncidentResolved   IncidentStatus = "RESOLVED"
)

// Incident represents a reported emergency.
type Incident struct {
	ID                  ID             `bson:"id" json:"id"`
	Type                string         `bson:"type" json:"type"`
	Severity            Severity       `bson:"severity" json:"severity"`
	Address             string         `bson:"address" json:"address"`
	Location            `bson:",inline"`
	Status              IncidentStatus `bson:"status" json:"status"`
	AssignedAmbulanceID *ID            `bson:"assigned_ambulance_id,omitempty" json:"assignedAmbulanceId,omitempty"`
	CreatedAt           time.Time      `bson:"created_at" json:"createdAt"`
	UpdatedAt           *time.Time     `bson:"updated_at,omitempty" json:"updatedAt,omitempty"`
	Description         string         `bson:"description,omitempty" json:"description,omitempty"`
}

// Position returns the incident location.
func (i Incident) Position() Location {
	return i.Location
}

// Active reports whether the incident still needs or holds a responder.
func (i Incident) Active() bool {
	return i.Status != IncidentResolved
}

// References reports whether a non-resolved incident holds the given ambulance.
func (i Incident) References(ambulanceID ID) bool {
	return i.Active() && i.AssignedAmbulanceID != nil && *i.AssignedAmbulanceID == ambulanceID
}

// LastModified is UpdatedAt when set, CreatedAt otherwise.
func (i Incident) LastModified() time.Time {
	if i.UpdatedAt != nil {
		return *i.UpdatedAt
	}
	return i.CreatedAt
}

// Clone returns a copy that shares no pointers with i.
func (i Incident) Clone() Incident {
	if i.AssignedAmbulanceID != nil {
		id := *i.AssignedAmbulanceID
		i.AssignedAmbulanceID = &id
	}
	if i.UpdatedAt != nil {
		t := *i.UpdatedAt
		i.UpdatedAt = &t
	}
	return i
}

// CreateIncidentRequest carries the dispatcher-entered fields of a new incident.
// Lat/Lng are optional; when both are nil a position in the service area is chosen.
type CreateIncidentRequest struct {
	Type        string   `json:"type" validate:"required,min=3"`
	Address     string   `json:"address" validate:"required,min=5"`
	Severity    Severity `json:"severity" validate:"required,oneof=CRITICAL HIGH MODERATE LOW"`
	Lat         *float64 `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lng         *float64 `json:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Description string   `json:"description,omitempty"`
}

// AssignAmbulanceRequest pairs an incident with a vehicle.
type AssignAmbulanceRequest struct {
	AmbulanceID ID `json:"ambulanceId" validate:"required"`
}

// UpdateIncidentRequest edits the free-text description of an open incident.
type UpdateIncidentRequest struct {
	Description string `json:"description"`
}
