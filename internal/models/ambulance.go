package models

import "time"

// AmbulanceStatus is the dispatch state of a vehicle.
type AmbulanceStatus string

const (
	AmbulanceAvailable   AmbulanceStatus = "AVAILABLE"
	AmbulanceBusy        AmbulanceStatus = "BUSY"
	AmbulanceMaintenance AmbulanceStatus = "MAINTENANCE"
)

// IsValid reports whether s is one of the known statuses.
func (s AmbulanceStatus) IsValid() bool {
	switch s {
	case AmbulanceAvailable, AmbulanceBusy, AmbulanceMaintenance:
		return true
	default:
		return false
	}
}

// AmbulanceType is the capability class of a vehicle.
type AmbulanceType string

const (
	AmbulanceTypeA AmbulanceType = "A" // medical
	AmbulanceTypeB AmbulanceType = "B" // transport
	AmbulanceTypeC AmbulanceType = "C" // light
)

// IsValid reports whether t is one of the known capability classes.
func (t AmbulanceType) IsValid() bool {
	switch t {
	case AmbulanceTypeA, AmbulanceTypeB, AmbulanceTypeC:
		return true
	default:
		return false
	}
}

// Ambulance represents a dispatchable vehicle.
type Ambulance struct {
	ID         ID              `bson:"id" json:"id"`
	Name       string          `bson:"name" json:"name"`
	Type       AmbulanceType   `bson:"type" json:"type"`
	Status     AmbulanceStatus `bson:"status" json:"status"`
	Location   `bson:",inline"`
	Crew       []string        `bson:"crew,omitempty" json:"crew,omitempty"`
	LastUpdate time.Time       `bson:"last_update" json:"lastUpdate"`
}

// Position returns the vehicle's last reported location.
func (a Ambulance) Position() Location {
	return a.Location
}

// Clone returns a copy that shares no slices with a.
func (a Ambulance) Clone() Ambulance {
	if a.Crew != nil {
		a.Crew = append([]string(nil), a.Crew...)
	}
	return a
}

// CreateAmbulanceRequest carries the fields needed to register a vehicle.
type CreateAmbulanceRequest struct {
	Name string        `json:"name" validate:"required,min=2"`
	Type AmbulanceType `json:"type" validate:"required,oneof=A B C"`
	Lat  float64       `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64       `json:"lng" validate:"gte=-180,lte=180"`
	Crew []string      `json:"crew,omitempty"`
}

// UpdateAmbulanceStatusRequest changes a vehicle's availability.
type UpdateAmbulanceStatusRequest struct {
	Status AmbulanceStatus `json:"status" validate:"required,oneof=AVAILABLE BUSY MAINTENANCE"`
}

// UpdateAmbulanceLocationRequest moves a vehicle.
type UpdateAmbulanceLocationRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}
