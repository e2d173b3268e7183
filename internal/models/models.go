package models

import "time"

// Coord is a WGS84 point. JSON names follow the records written by the
// browser clients, which share the same database.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type AmbulanceStatus string

const (
	AmbulanceAvailable AmbulanceStatus = "available"
	AmbulanceBusy      AmbulanceStatus = "busy"
)

// TripStatus values keep the mixed casing used on the wire.
type TripStatus string

const (
	TripRequested TripStatus = "requested"
	TripAccepted  TripStatus = "Accepted"
	TripPickedUp  TripStatus = "PickedUp"
	TripCompleted TripStatus = "Completed"
	TripRejected  TripStatus = "rejected"
)

const (
	PriorityNormal   = "normal"
	PriorityCritical = "critical"
)

// Ambulance is keyed by plate under "ambulances/".
type Ambulance struct {
	Plate       string          `json:"plate"`
	Driver      string          `json:"driver"`
	Hospital    string          `json:"hospital,omitempty"`
	Status      AmbulanceStatus `json:"status"`
	Lat         *float64        `json:"lat"`
	Lng         *float64        `json:"lng"`
	LastUpdated *time.Time      `json:"lastUpdated"`
	DeviceToken string          `json:"deviceToken,omitempty"`
}

// Position reports the last known location, if any fix has been written yet.
func (a Ambulance) Position() (Coord, bool) {
	if a.Lat == nil || a.Lng == nil {
		return Coord{}, false
	}
	return Coord{Lat: *a.Lat, Lng: *a.Lng}, true
}

// Trip is keyed by a generated id under "requests/".
type Trip struct {
	ID              string     `json:"id,omitempty"`
	PatientName     string     `json:"patientName"`
	Pickup          Coord      `json:"pickup"`
	Address         string     `json:"address"`
	HospitalID      string     `json:"hospitalId"`
	HospitalLat     float64    `json:"hospitalLat"`
	HospitalLng     float64    `json:"hospitalLng"`
	Priority        string     `json:"priority"`
	Notes           string     `json:"notes,omitempty"`
	AmbulanceID     string     `json:"ambulanceId"`
	AmbulancePlate  string     `json:"ambulancePlate"`
	AmbulanceDriver string     `json:"ambulanceDriver"`
	AmbulanceLat    *float64   `json:"ambulanceLat,omitempty"`
	AmbulanceLng    *float64   `json:"ambulanceLng,omitempty"`
	CreatedAt       int64      `json:"createdAt"` // unix millis
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Status          TripStatus `json:"status"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	PaymentIntentID string     `json:"paymentIntentId,omitempty"`
}

func (t Trip) Hospital() Coord { return Coord{Lat: t.HospitalLat, Lng: t.HospitalLng} }

// HasHospital mirrors the truthiness check the viewers apply before routing.
func (t Trip) HasHospital() bool { return t.HospitalLat != 0 && t.HospitalLng != 0 }

func (t Trip) HasPickup() bool { return t.Pickup.Lat != 0 && t.Pickup.Lng != 0 }

func (t Trip) AmbulancePosition() (Coord, bool) {
	if t.AmbulanceLat == nil || t.AmbulanceLng == nil {
		return Coord{}, false
	}
	return Coord{Lat: *t.AmbulanceLat, Lng: *t.AmbulanceLng}, true
}

// Hospital is one entry of the hospital directory.
type Hospital struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (h Hospital) Coord() Coord { return Coord{Lat: h.Lat, Lng: h.Lng} }

// Route is a driving route as an ordered polyline.
type Route struct {
	Points          []Coord `json:"points"`
	DurationSeconds float64 `json:"duration_seconds"`
	DistanceMeters  float64 `json:"distance_meters"`
}

// Fix is a single device position report.
type Fix struct {
	Coord
	At        time.Time `json:"at"`
	Simulated bool      `json:"simulated,omitempty"`
}

// LocationEvent is what the publisher streams for each written fix.
type LocationEvent struct {
	Plate     string          `json:"plate"`
	Driver    string          `json:"driver"`
	Loc       Coord           `json:"loc"`
	Status    AmbulanceStatus `json:"status"`
	TripID    string          `json:"trip_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TripEvent is emitted for every observed status change of a trip.
type TripEvent struct {
	TripID    string     `json:"trip_id"`
	Plate     string     `json:"plate"`
	From      TripStatus `json:"from,omitempty"`
	To        TripStatus `json:"to"`
	Timestamp time.Time  `json:"timestamp"`
}
