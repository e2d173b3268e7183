// Package booking creates trip requests, either for an ambulance the
// requester picked or for the cheapest one in an emergency.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/apperr"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/matcher"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/payments"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
	"github.com/example/ambulance-dispatch/internal/validation"
)

const EmergencyNotes = "Emergency auto booking"

// Notifier alerts the booked ambulance's device.
type Notifier interface {
	TripRequested(ctx context.Context, a models.Ambulance, t models.Trip) error
}

// Request is what the requester has selected. Pickup and Hospital are
// required; AmbulanceID is only used for manual bookings.
type Request struct {
	PatientName string        `json:"patientName"`
	Pickup      *models.Coord `json:"pickup"`
	Address     string        `json:"address"`
	Hospital    string        `json:"hospital"`
	Priority    string        `json:"priority"`
	Notes       string        `json:"notes"`
	AmbulanceID string        `json:"ambulanceId,omitempty"`
}

// Result is a confirmed booking.
type Result struct {
	Trip models.Trip `json:"trip"`
	Fare float64     `json:"fare"`
}

type Service struct {
	Store     storage.Store
	Hospitals *hospitals.Directory
	Selector  matcher.Selector
	Payments  payments.FareHolder
	Notifier  Notifier
	Events    ingest.Publisher
	Log       *zap.Logger
}

func (s *Service) resolve(r Request) (models.Coord, models.Hospital, error) {
	if r.Pickup == nil || strings.TrimSpace(r.Hospital) == "" {
		return models.Coord{}, models.Hospital{}, apperr.Validation("select hospital and pickup location first")
	}
	if !validation.ValidateCoordinates(r.Pickup.Lat, r.Pickup.Lng) {
		return models.Coord{}, models.Hospital{}, apperr.Validation("pickup coordinates out of range")
	}
	h, err := s.Hospitals.Find(r.Hospital)
	if err != nil {
		return models.Coord{}, models.Hospital{}, apperr.Validation("%v", err)
	}
	return *r.Pickup, h, nil
}

// Available lists bookable ambulances for the manual flow, closest to the
// pickup first, each with its estimated fare.
func (s *Service) Available(ctx context.Context, r Request) ([]matcher.Candidate, error) {
	pickup, h, err := s.resolve(r)
	if err != nil {
		return nil, err
	}
	ambs, err := s.Store.Ambulances(ctx)
	if err != nil {
		return nil, apperr.External("list ambulances", err)
	}
	return s.Selector.Rank(ambs, pickup, h.Coord()), nil
}

// Book creates a trip for the ambulance the requester chose. The ambulance
// must still be in the available list.
func (s *Service) Book(ctx context.Context, r Request) (Result, error) {
	pickup, h, err := s.resolve(r)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(r.AmbulanceID) == "" {
		return Result{}, apperr.Validation("choose an ambulance")
	}
	ambs, err := s.Store.Ambulances(ctx)
	if err != nil {
		return Result{}, apperr.External("list ambulances", err)
	}
	for _, c := range s.Selector.Rank(ambs, pickup, h.Coord()) {
		if c.Ambulance.Plate == r.AmbulanceID {
			return s.create(ctx, "manual", r, pickup, h, c)
		}
	}
	return Result{}, apperr.Unavailable("selected ambulance %s is not available", r.AmbulanceID)
}

// Emergency books the cheapest available ambulance with critical priority.
func (s *Service) Emergency(ctx context.Context, r Request) (Result, error) {
	pickup, h, err := s.resolve(r)
	if err != nil {
		return Result{}, err
	}
	ambs, err := s.Store.Ambulances(ctx)
	if err != nil {
		return Result{}, apperr.External("list ambulances", err)
	}
	c, ok := s.Selector.Select(ambs, pickup, h.Coord())
	if !ok {
		return Result{}, apperr.Unavailable("no ambulances available for emergency booking")
	}
	r.Priority = models.PriorityCritical
	r.Notes = EmergencyNotes
	return s.create(ctx, "emergency", r, pickup, h, c)
}

// Reassign books a new trip with the details of a rejected one. With an
// empty ambulanceID the cheapest ambulance other than the one that
// rejected is chosen. The rejected trip is left as history.
func (s *Service) Reassign(ctx context.Context, tripID, ambulanceID string) (Result, error) {
	old, err := s.Store.Trip(ctx, tripID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, err
		}
		return Result{}, apperr.External("load trip", err)
	}
	if old.Status != models.TripRejected {
		return Result{}, fmt.Errorf("%w: trip %s is %q", trip.ErrInvalidTransition, tripID, old.Status)
	}
	r := Request{
		PatientName: old.PatientName,
		Pickup:      &old.Pickup,
		Address:     old.Address,
		Hospital:    old.HospitalID,
		Priority:    old.Priority,
		Notes:       old.Notes,
		AmbulanceID: ambulanceID,
	}
	if ambulanceID != "" {
		return s.Book(ctx, r)
	}
	pickup, h, err := s.resolve(r)
	if err != nil {
		return Result{}, err
	}
	ambs, err := s.Store.Ambulances(ctx)
	if err != nil {
		return Result{}, apperr.External("list ambulances", err)
	}
	pool := ambs[:0:0]
	for _, a := range ambs {
		if a.Plate != old.AmbulancePlate && a.Plate != old.RejectedBy {
			pool = append(pool, a)
		}
	}
	c, ok := s.Selector.Select(pool, pickup, h.Coord())
	if !ok {
		return Result{}, apperr.Unavailable("no other ambulance available")
	}
	return s.create(ctx, "reassign", r, pickup, h, c)
}

func (s *Service) create(ctx context.Context, mode string, r Request, pickup models.Coord, h models.Hospital, c matcher.Candidate) (Result, error) {
	t := models.Trip{
		PatientName:     strings.TrimSpace(r.PatientName),
		Pickup:          pickup,
		Address:         r.Address,
		HospitalID:      h.Name,
		HospitalLat:     h.Lat,
		HospitalLng:     h.Lng,
		Priority:        validation.NormalizePriority(r.Priority),
		Notes:           strings.TrimSpace(r.Notes),
		Status:          models.TripRequested,
		AmbulanceID:     c.Ambulance.Plate,
		AmbulancePlate:  c.Ambulance.Plate,
		AmbulanceDriver: c.Ambulance.Driver,
		CreatedAt:       time.Now().UnixMilli(),
	}
	t, err := s.Store.CreateTrip(ctx, t)
	if err != nil {
		return Result{}, apperr.External("create trip", err)
	}
	observability.BookingsTotal.WithLabelValues(mode).Inc()
	s.Log.Info("trip booked",
		zap.String("trip_id", t.ID),
		zap.String("mode", mode),
		zap.String("plate", t.AmbulancePlate),
		zap.String("priority", t.Priority),
		zap.Float64("fare", c.Cost))

	s.hold(ctx, &t, c.Cost)
	if s.Notifier != nil {
		if err := s.Notifier.TripRequested(ctx, c.Ambulance, t); err != nil {
			s.Log.Warn("trip push failed", zap.String("trip_id", t.ID), zap.Error(err))
		}
	}
	if s.Events != nil {
		ev := models.TripEvent{TripID: t.ID, Plate: t.AmbulancePlate, To: t.Status, Timestamp: time.Now().UTC()}
		if err := s.Events.PublishTripEvent(ctx, ev); err != nil {
			s.Log.Warn("trip event publish failed", zap.String("trip_id", t.ID), zap.Error(err))
		}
	}
	return Result{Trip: t, Fare: c.Cost}, nil
}

// hold places the fare authorization; failures leave the trip unpaid but
// booked.
func (s *Service) hold(ctx context.Context, t *models.Trip, fare float64) {
	if s.Payments == nil {
		return
	}
	id, err := s.Payments.Hold(ctx, fare, t.ID)
	if errors.Is(err, payments.ErrDisabled) {
		return
	}
	if err != nil {
		s.Log.Warn("fare hold failed", zap.String("trip_id", t.ID), zap.Error(err))
		return
	}
	if err := s.Store.UpdateTrip(ctx, t.ID, models.TripUpdate{PaymentIntentID: &id}); err != nil {
		s.Log.Warn("store payment intent failed", zap.String("trip_id", t.ID), zap.Error(err))
		return
	}
	t.PaymentIntentID = id
}
