// Package driver is the ambulance-side client: registration, the trip
// session that answers prompts and advances the active trip, and the
// location publisher.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/apperr"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/payments"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
)

var ErrNoActiveTrip = errors.New("no active trip")

// Options are the optional collaborators of a Session.
type Options struct {
	Events   ingest.Publisher
	Payments payments.FareHolder
	Router   routing.Router
	Log      *zap.Logger
}

// Session holds one driver's view of the trip lifecycle. It holds at most
// one active trip; prompts for other trips are suppressed while it does.
type Session struct {
	store storage.Store
	id    Identity
	opts  Options

	observer *trip.Observer

	mu       sync.Mutex
	activeID string
	lastFix  *models.Coord
	prompted map[string]bool
}

func NewSession(st storage.Store, id Identity, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Events == nil {
		opts.Events = ingest.Discard{}
	}
	return &Session{
		store:    st,
		id:       id,
		opts:     opts,
		observer: trip.NewObserver(),
		prompted: make(map[string]bool),
	}
}

func (s *Session) Identity() Identity { return s.id }

// Resume restores the active trip from the store, for a client that
// restarted mid-trip.
func (s *Session) Resume(ctx context.Context) error {
	trips, err := s.store.Trips(ctx)
	if err != nil {
		return apperr.External("list trips", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trips {
		if t.AmbulancePlate != s.id.Plate {
			continue
		}
		if t.Status == models.TripAccepted || t.Status == models.TripPickedUp {
			s.activeID = t.ID
			return nil
		}
	}
	return nil
}

func (s *Session) ActiveTrip() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Session) Position() (models.Coord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFix == nil {
		return models.Coord{}, false
	}
	return *s.lastFix, true
}

// SetPosition seeds the last known position, e.g. from the stored record.
func (s *Session) SetPosition(c models.Coord) { s.recordFix(c) }

func (s *Session) recordFix(c models.Coord) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFix = &c
	return s.activeID
}

// HandleTrips consumes one trips snapshot. It returns the trips to prompt
// the driver with (each at most once) and the status changes observed.
// An active trip that reached a terminal status elsewhere is released.
func (s *Session) HandleTrips(snapshot []models.Trip) (prompts []models.Trip, changes []trip.Change) {
	changes = s.observer.Observe(snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if c.Trip.ID == s.activeID && trip.IsTerminal(c.Trip.Status) {
			s.activeID = ""
		}
	}
	offerable := make(map[string]bool, len(s.prompted))
	for _, t := range snapshot {
		if t.Status == models.TripRequested {
			offerable[t.ID] = true
		}
		if s.prompted[t.ID] || !trip.CanOffer(t, s.id.Plate, s.activeID) {
			continue
		}
		s.prompted[t.ID] = true
		prompts = append(prompts, t)
	}
	// a trip that left Requested can never be offered again
	for id := range s.prompted {
		if !offerable[id] {
			delete(s.prompted, id)
		}
	}
	return prompts, changes
}

// Watch runs HandleTrips over the store's trip stream until ctx ends.
func (s *Session) Watch(ctx context.Context, onPrompt func(models.Trip), onChange func(trip.Change)) {
	for snap := range s.store.WatchTrips(ctx) {
		prompts, changes := s.HandleTrips(snap)
		for _, c := range changes {
			if c.Trip.AmbulancePlate == s.id.Plate && onChange != nil {
				onChange(c)
			}
		}
		for _, p := range prompts {
			if onPrompt != nil {
				onPrompt(p)
			}
		}
	}
}

// Accept claims a requested trip. The claim is conditional on the trip
// still being requested; losing the race returns storage.ErrConflict.
func (s *Session) Accept(ctx context.Context, tripID string) (models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.load(ctx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	next, err := trip.CheckAdvance(t, s.id.Plate, s.activeID, trip.EventAccept)
	if err != nil {
		return t, err
	}
	u := models.TripUpdate{Status: &next, AmbulanceDriver: &s.id.Name}
	if s.lastFix != nil {
		loc := *s.lastFix
		u.AmbulanceLoc = &loc
	}
	t, err = s.transition(ctx, t, u)
	if err != nil {
		return t, err
	}
	s.activeID = t.ID
	busy := models.AmbulanceBusy
	if err := s.store.UpdateAmbulance(ctx, s.id.Plate, models.AmbulanceUpdate{Status: &busy}); err != nil {
		s.opts.Log.Warn("ambulance status write failed", zap.String("plate", s.id.Plate), zap.Error(err))
	}
	return t, nil
}

// Reject declines a requested trip and records who declined it so a
// dispatcher can reassign.
func (s *Session) Reject(ctx context.Context, tripID string) (models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.load(ctx, tripID)
	if err != nil {
		return models.Trip{}, err
	}
	next, err := trip.CheckAdvance(t, s.id.Plate, s.activeID, trip.EventReject)
	if err != nil {
		return t, err
	}
	now := time.Now().UTC()
	t, err = s.transition(ctx, t, models.TripUpdate{Status: &next, RejectedBy: &s.id.Plate, RejectedAt: &now})
	if err != nil {
		return t, err
	}
	s.settle(ctx, t, false)
	return t, nil
}

// PickUp marks the patient as on board.
func (s *Session) PickUp(ctx context.Context) (models.Trip, error) {
	return s.advance(ctx, trip.EventPickUp)
}

// Complete closes the active trip, frees the ambulance and releases the
// session for new prompts.
func (s *Session) Complete(ctx context.Context) (models.Trip, error) {
	return s.advance(ctx, trip.EventComplete)
}

func (s *Session) advance(ctx context.Context, ev trip.Event) (models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return models.Trip{}, ErrNoActiveTrip
	}
	t, err := s.load(ctx, s.activeID)
	if err != nil {
		return models.Trip{}, err
	}
	next, err := trip.CheckAdvance(t, s.id.Plate, s.activeID, ev)
	if err != nil {
		return t, err
	}
	u := models.TripUpdate{Status: &next}
	if next == models.TripCompleted {
		now := time.Now().UTC()
		u.CompletedAt = &now
	}
	t, err = s.transition(ctx, t, u)
	if err != nil {
		return t, err
	}
	if next == models.TripCompleted {
		avail := models.AmbulanceAvailable
		if err := s.store.UpdateAmbulance(ctx, s.id.Plate, models.AmbulanceUpdate{Status: &avail}); err != nil {
			s.opts.Log.Warn("ambulance status write failed", zap.String("plate", s.id.Plate), zap.Error(err))
		}
		s.activeID = ""
		s.settle(ctx, t, true)
	}
	return t, nil
}

func (s *Session) load(ctx context.Context, id string) (models.Trip, error) {
	t, err := s.store.Trip(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Trip{}, err
	}
	if err != nil {
		return models.Trip{}, apperr.External("load trip", err)
	}
	t.ID = id
	return t, nil
}

func (s *Session) transition(ctx context.Context, t models.Trip, u models.TripUpdate) (models.Trip, error) {
	from := t.Status
	out, err := s.store.Transition(ctx, t.ID, from, u)
	if errors.Is(err, storage.ErrConflict) {
		observability.ClaimConflicts.Inc()
		return out, err
	}
	if err != nil {
		return t, apperr.External(fmt.Sprintf("update trip %s", t.ID), err)
	}
	out.ID = t.ID
	observability.TransitionsTotal.WithLabelValues(string(out.Status)).Inc()
	s.opts.Log.Info("trip status changed",
		zap.String("trip_id", t.ID),
		zap.String("plate", s.id.Plate),
		zap.String("from", string(from)),
		zap.String("to", string(out.Status)))
	ev := models.TripEvent{TripID: t.ID, Plate: s.id.Plate, From: from, To: out.Status, Timestamp: time.Now().UTC()}
	if err := s.opts.Events.PublishTripEvent(ctx, ev); err != nil {
		s.opts.Log.Warn("trip event publish failed", zap.String("trip_id", t.ID), zap.Error(err))
	}
	return out, nil
}

// settle captures the fare hold on completion and releases it otherwise.
func (s *Session) settle(ctx context.Context, t models.Trip, capture bool) {
	if s.opts.Payments == nil || t.PaymentIntentID == "" {
		return
	}
	var err error
	if capture {
		err = s.opts.Payments.Capture(ctx, t.PaymentIntentID)
	} else {
		err = s.opts.Payments.Cancel(ctx, t.PaymentIntentID)
	}
	if err != nil {
		s.opts.Log.Warn("fare settlement failed", zap.String("trip_id", t.ID), zap.Bool("capture", capture), zap.Error(err))
	}
}

// Guidance is what the driver screen shows for a trip.
type Guidance struct {
	Reaction trip.Reaction
	Route    *models.Route
}

// Guide derives the reaction for t and, when it calls for a route and the
// ambulance position is known, asks the router. Routing failures leave
// Route nil.
func (s *Session) Guide(ctx context.Context, t models.Trip) Guidance {
	g := Guidance{Reaction: trip.ReactionFor(t.Status)}
	dest, ok := g.Reaction.Destination(t)
	if !ok || s.opts.Router == nil {
		return g
	}
	from, ok := t.AmbulancePosition()
	if !ok {
		if from, ok = s.Position(); !ok {
			return g
		}
	}
	r, err := s.opts.Router.Route(ctx, from, dest)
	if err != nil {
		s.opts.Log.Warn("route lookup failed", zap.String("trip_id", t.ID), zap.Stringer("target", g.Reaction.Route), zap.Error(err))
		return g
	}
	g.Route = &r
	return g
}
