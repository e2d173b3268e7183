package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/example/ambulance-dispatch/internal/models"
)

const (
	ambulancesPath = "ambulances"
	requestsPath   = "requests"
)

// FirebaseStore keeps both collections in a Firebase Realtime Database, the
// same tree the browser clients read and write.
type FirebaseStore struct {
	client       *db.Client
	log          *zap.Logger
	pollInterval time.Duration
}

// NewFirebaseApp initializes the Firebase app from a credentials file or from
// raw JSON credentials; the app is shared with push messaging.
func NewFirebaseApp(ctx context.Context, databaseURL, credentialsFile string, credentialsJSON []byte) (*firebase.App, error) {
	var opts []option.ClientOption
	switch {
	case len(credentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	return app, nil
}

func NewFirebaseStore(ctx context.Context, app *firebase.App, pollInterval time.Duration, log *zap.Logger) (*FirebaseStore, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &FirebaseStore{client: client, log: log, pollInterval: pollInterval}, nil
}

func (f *FirebaseStore) ambulance(plate string) *db.Ref {
	return f.client.NewRef(ambulancesPath).Child(plate)
}

func (f *FirebaseStore) request(id string) *db.Ref {
	return f.client.NewRef(requestsPath).Child(id)
}

func (f *FirebaseStore) PutAmbulance(ctx context.Context, a models.Ambulance) error {
	if err := f.ambulance(a.Plate).Set(ctx, a); err != nil {
		return fmt.Errorf("set ambulance %s: %w", a.Plate, err)
	}
	return nil
}

func (f *FirebaseStore) UpdateAmbulance(ctx context.Context, plate string, u models.AmbulanceUpdate) error {
	fields := u.Fields()
	if len(fields) == 0 {
		return nil
	}
	if err := f.ambulance(plate).Update(ctx, fields); err != nil {
		return fmt.Errorf("update ambulance %s: %w", plate, err)
	}
	return nil
}

func (f *FirebaseStore) Ambulance(ctx context.Context, plate string) (models.Ambulance, error) {
	var a *models.Ambulance
	if err := f.ambulance(plate).Get(ctx, &a); err != nil {
		return models.Ambulance{}, fmt.Errorf("get ambulance %s: %w", plate, err)
	}
	if a == nil {
		return models.Ambulance{}, fmt.Errorf("ambulance %s: %w", plate, ErrNotFound)
	}
	if a.Plate == "" {
		a.Plate = plate
	}
	return *a, nil
}

func (f *FirebaseStore) Ambulances(ctx context.Context) ([]models.Ambulance, error) {
	var m map[string]models.Ambulance
	if err := f.client.NewRef(ambulancesPath).Get(ctx, &m); err != nil {
		return nil, fmt.Errorf("get ambulances: %w", err)
	}
	return ambulancesFromMap(m), nil
}

func (f *FirebaseStore) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	t.ID = ""
	ref, err := f.client.NewRef(requestsPath).Push(ctx, t)
	if err != nil {
		return models.Trip{}, fmt.Errorf("push request: %w", err)
	}
	t.ID = ref.Key
	return t, nil
}

func (f *FirebaseStore) UpdateTrip(ctx context.Context, id string, u models.TripUpdate) error {
	fields := u.Fields()
	if len(fields) == 0 {
		return nil
	}
	if err := f.request(id).Update(ctx, fields); err != nil {
		return fmt.Errorf("update request %s: %w", id, err)
	}
	return nil
}

// Transition runs as a database transaction so that two drivers racing on the
// same request cannot both win.
func (f *FirebaseStore) Transition(ctx context.Context, id string, from models.TripStatus, u models.TripUpdate) (models.Trip, error) {
	var result models.Trip
	err := f.request(id).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var cur *models.Trip
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, fmt.Errorf("trip %s: %w", id, ErrNotFound)
		}
		if cur.Status != from {
			return nil, fmt.Errorf("trip %s is %q, want %q: %w", id, cur.Status, from, ErrConflict)
		}
		u.ApplyTo(cur)
		cur.ID = ""
		result = *cur
		return cur, nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return models.Trip{}, err
		}
		return models.Trip{}, fmt.Errorf("transition request %s: %w", id, err)
	}
	result.ID = id
	return result, nil
}

func (f *FirebaseStore) Trip(ctx context.Context, id string) (models.Trip, error) {
	var t *models.Trip
	if err := f.request(id).Get(ctx, &t); err != nil {
		return models.Trip{}, fmt.Errorf("get request %s: %w", id, err)
	}
	if t == nil {
		return models.Trip{}, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	t.ID = id
	return *t, nil
}

func (f *FirebaseStore) Trips(ctx context.Context) ([]models.Trip, error) {
	var m map[string]models.Trip
	if err := f.client.NewRef(requestsPath).Get(ctx, &m); err != nil {
		return nil, fmt.Errorf("get requests: %w", err)
	}
	return tripsFromMap(m), nil
}

// The admin SDK has no listeners; snapshots are polled with ETags so an
// unchanged tree costs a 304.
func (f *FirebaseStore) WatchAmbulances(ctx context.Context) <-chan []models.Ambulance {
	ref := f.client.NewRef(ambulancesPath)
	etag := ""
	return poll(ctx, f.pollInterval, f.log, ambulancesPath, func(ctx context.Context) ([]models.Ambulance, bool, error) {
		var m map[string]models.Ambulance
		changed, next, err := ref.GetIfChanged(ctx, etag, &m)
		if err != nil || !changed {
			return nil, false, err
		}
		etag = next
		return ambulancesFromMap(m), true, nil
	})
}

func (f *FirebaseStore) WatchTrips(ctx context.Context) <-chan []models.Trip {
	ref := f.client.NewRef(requestsPath)
	etag := ""
	return poll(ctx, f.pollInterval, f.log, requestsPath, func(ctx context.Context) ([]models.Trip, bool, error) {
		var m map[string]models.Trip
		changed, next, err := ref.GetIfChanged(ctx, etag, &m)
		if err != nil || !changed {
			return nil, false, err
		}
		etag = next
		return tripsFromMap(m), true, nil
	})
}
