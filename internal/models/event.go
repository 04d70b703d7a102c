package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventKind names a committed dispatch command.
type EventKind string

const (
	EventIncidentCreated   EventKind = "incident.created"
	EventIncidentUpdated   EventKind = "incident.updated"
	EventAmbulanceAssigned EventKind = "incident.assigned"
	EventIncidentResolved  EventKind = "incident.resolved"
	EventAmbulanceCreated  EventKind = "ambulance.created"
	EventAmbulanceStatus   EventKind = "ambulance.status"
	EventAmbulanceMoved    EventKind = "ambulance.moved"
	EventAmbulanceRemoved  EventKind = "ambulance.removed"
)

// DispatchEvent is one entry of the dispatch journal.
type DispatchEvent struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind        EventKind          `bson:"kind" json:"kind"`
	IncidentID  ID                 `bson:"incident_id,omitempty" json:"incidentId,omitempty"`
	AmbulanceID ID                 `bson:"ambulance_id,omitempty" json:"ambulanceId,omitempty"`
	Severity    Severity           `bson:"severity,omitempty" json:"severity,omitempty"`
	Status      string             `bson:"status,omitempty" json:"status,omitempty"`
	ActorID     string             `bson:"actor_id" json:"actorId"`
	Role        Role               `bson:"role" json:"role"`
	At          time.Time          `bson:"at" json:"at"`
}

// Critical reports whether the event announces a new CRITICAL incident.
func (e DispatchEvent) Critical() bool {
	return e.Kind == EventIncidentCreated && e.Severity == SeverityCritical
}

// Actor is the authenticated user issuing a command.
type Actor struct {
	ID   string
	Role Role
}
