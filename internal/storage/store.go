package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/example/ambulance-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by Transition when the trip is no longer in the
	// expected status.
	ErrConflict = errors.New("trip status changed concurrently")
)

// Store is the realtime document store holding the "ambulances" and
// "requests" collections. Watch channels deliver full snapshots ordered by
// key; the first value is the current state.
type Store interface {
	PutAmbulance(ctx context.Context, a models.Ambulance) error
	UpdateAmbulance(ctx context.Context, plate string, u models.AmbulanceUpdate) error
	Ambulance(ctx context.Context, plate string) (models.Ambulance, error)
	Ambulances(ctx context.Context) ([]models.Ambulance, error)

	CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error)
	UpdateTrip(ctx context.Context, id string, u models.TripUpdate) error
	// Transition applies u only if the trip is still in status from.
	Transition(ctx context.Context, id string, from models.TripStatus, u models.TripUpdate) (models.Trip, error)
	Trip(ctx context.Context, id string) (models.Trip, error)
	Trips(ctx context.Context) ([]models.Trip, error)

	WatchAmbulances(ctx context.Context) <-chan []models.Ambulance
	WatchTrips(ctx context.Context) <-chan []models.Trip
}

func sortAmbulances(in []models.Ambulance) {
	sort.Slice(in, func(i, j int) bool { return in[i].Plate < in[j].Plate })
}

func sortTrips(in []models.Trip) {
	sort.Slice(in, func(i, j int) bool { return in[i].ID < in[j].ID })
}

func ambulancesFromMap(m map[string]models.Ambulance) []models.Ambulance {
	out := make([]models.Ambulance, 0, len(m))
	for k, a := range m {
		if a.Plate == "" {
			a.Plate = k
		}
		out = append(out, a)
	}
	sortAmbulances(out)
	return out
}

func tripsFromMap(m map[string]models.Trip) []models.Trip {
	out := make([]models.Trip, 0, len(m))
	for k, t := range m {
		t.ID = k
		out = append(out, t)
	}
	sortTrips(out)
	return out
}
