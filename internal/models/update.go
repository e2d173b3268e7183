package models

import "time"

// AmbulanceUpdate is a merge-update: nil fields are left untouched.
type AmbulanceUpdate struct {
	Driver      *string
	Plate       *string
	Hospital    *string
	Status      *AmbulanceStatus
	Loc         *Coord
	LastUpdated *time.Time
	DeviceToken *string
}

// Fields renders the update as a path->value map for document stores.
func (u AmbulanceUpdate) Fields() map[string]interface{} {
	f := make(map[string]interface{})
	if u.Driver != nil {
		f["driver"] = *u.Driver
	}
	if u.Plate != nil {
		f["plate"] = *u.Plate
	}
	if u.Hospital != nil {
		f["hospital"] = *u.Hospital
	}
	if u.Status != nil {
		f["status"] = string(*u.Status)
	}
	if u.Loc != nil {
		f["lat"] = u.Loc.Lat
		f["lng"] = u.Loc.Lng
	}
	if u.LastUpdated != nil {
		f["lastUpdated"] = u.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	if u.DeviceToken != nil {
		f["deviceToken"] = *u.DeviceToken
	}
	return f
}

func (u AmbulanceUpdate) ApplyTo(a *Ambulance) {
	if u.Driver != nil {
		a.Driver = *u.Driver
	}
	if u.Plate != nil {
		a.Plate = *u.Plate
	}
	if u.Hospital != nil {
		a.Hospital = *u.Hospital
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Loc != nil {
		lat, lng := u.Loc.Lat, u.Loc.Lng
		a.Lat, a.Lng = &lat, &lng
	}
	if u.LastUpdated != nil {
		ts := *u.LastUpdated
		a.LastUpdated = &ts
	}
	if u.DeviceToken != nil {
		a.DeviceToken = *u.DeviceToken
	}
}

// TripUpdate is a merge-update of a trip record.
type TripUpdate struct {
	Status          *TripStatus
	AmbulanceID     *string
	AmbulancePlate  *string
	AmbulanceDriver *string
	AmbulanceLoc    *Coord
	CompletedAt     *time.Time
	RejectedBy      *string
	RejectedAt      *time.Time
	PaymentIntentID *string
}

func (u TripUpdate) Fields() map[string]interface{} {
	f := make(map[string]interface{})
	if u.Status != nil {
		f["status"] = string(*u.Status)
	}
	if u.AmbulanceID != nil {
		f["ambulanceId"] = *u.AmbulanceID
	}
	if u.AmbulancePlate != nil {
		f["ambulancePlate"] = *u.AmbulancePlate
	}
	if u.AmbulanceDriver != nil {
		f["ambulanceDriver"] = *u.AmbulanceDriver
	}
	if u.AmbulanceLoc != nil {
		f["ambulanceLat"] = u.AmbulanceLoc.Lat
		f["ambulanceLng"] = u.AmbulanceLoc.Lng
	}
	if u.CompletedAt != nil {
		f["completedAt"] = u.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.RejectedBy != nil {
		f["rejectedBy"] = *u.RejectedBy
	}
	if u.RejectedAt != nil {
		f["rejectedAt"] = u.RejectedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.PaymentIntentID != nil {
		f["paymentIntentId"] = *u.PaymentIntentID
	}
	return f
}

func (u TripUpdate) ApplyTo(t *Trip) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.AmbulanceID != nil {
		t.AmbulanceID = *u.AmbulanceID
	}
	if u.AmbulancePlate != nil {
		t.AmbulancePlate = *u.AmbulancePlate
	}
	if u.AmbulanceDriver != nil {
		t.AmbulanceDriver = *u.AmbulanceDriver
	}
	if u.AmbulanceLoc != nil {
		lat, lng := u.AmbulanceLoc.Lat, u.AmbulanceLoc.Lng
		t.AmbulanceLat, t.AmbulanceLng = &lat, &lng
	}
	if u.CompletedAt != nil {
		ts := *u.CompletedAt
		t.CompletedAt = &ts
	}
	if u.RejectedBy != nil {
		t.RejectedBy = *u.RejectedBy
	}
	if u.RejectedAt != nil {
		ts := *u.RejectedAt
		t.RejectedAt = &ts
	}
	if u.PaymentIntentID != nil {
		t.PaymentIntentID = *u.PaymentIntentID
	}
}

// Ptr is a small helper for building updates.
func Ptr[T any](v T) *T { return &v }
