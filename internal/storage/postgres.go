package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps documents as JSONB rows and records every status
// change in trip_events for audit.
type PostgresStore struct {
	db           *sqlx.DB
	log          *zap.Logger
	pollInterval time.Duration
}

type docRow struct {
	Key string `db:"key"`
	Doc []byte `db:"doc"`
}

func NewPostgresStore(dsn string, pollInterval time.Duration, log *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &PostgresStore{db: db, log: log, pollInterval: pollInterval}, nil
}

// Migrate applies the embedded schema; statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	b, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migration 001_init.sql: %w", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) PutAmbulance(ctx context.Context, a models.Ambulance) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO ambulances (plate, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (plate) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, a.Plate, doc)
	return err
}

func (p *PostgresStore) UpdateAmbulance(ctx context.Context, plate string, u models.AmbulanceUpdate) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a := models.Ambulance{Plate: plate}
	var doc []byte
	err = tx.GetContext(ctx, &doc, `SELECT doc FROM ambulances WHERE plate = $1 FOR UPDATE`, plate)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(doc, &a); err != nil {
			return err
		}
	}
	u.ApplyTo(&a)
	out, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO ambulances (plate, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (plate) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, plate, out); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Ambulance(ctx context.Context, plate string) (models.Ambulance, error) {
	var doc []byte
	err := p.db.GetContext(ctx, &doc, `SELECT doc FROM ambulances WHERE plate = $1`, plate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ambulance{}, fmt.Errorf("ambulance %s: %w", plate, ErrNotFound)
	}
	if err != nil {
		return models.Ambulance{}, err
	}
	var a models.Ambulance
	if err := json.Unmarshal(doc, &a); err != nil {
		return models.Ambulance{}, err
	}
	return a, nil
}

func (p *PostgresStore) Ambulances(ctx context.Context) ([]models.Ambulance, error) {
	var rows []docRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT plate AS key, doc FROM ambulances ORDER BY plate`); err != nil {
		return nil, err
	}
	out := make([]models.Ambulance, 0, len(rows))
	for _, r := range rows {
		var a models.Ambulance
		if err := json.Unmarshal(r.Doc, &a); err != nil {
			return nil, fmt.Errorf("ambulance %s: %w", r.Key, err)
		}
		if a.Plate == "" {
			a.Plate = r.Key
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *PostgresStore) CreateTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	t.ID = uuid.Must(uuid.NewV7()).String()
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return models.Trip{}, err
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Trip{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO trips (id, status, plate, doc) VALUES ($1, $2, $3, $4)`,
		t.ID, string(t.Status), t.AmbulancePlate, doc); err != nil {
		return models.Trip{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trip_events (trip_id, from_status, to_status) VALUES ($1, NULL, $2)`,
		t.ID, string(t.Status)); err != nil {
		return models.Trip{}, err
	}
	return t, tx.Commit()
}

func (p *PostgresStore) UpdateTrip(ctx context.Context, id string, u models.TripUpdate) error {
	_, err := p.updateTrip(ctx, id, nil, u)
	return err
}

func (p *PostgresStore) Transition(ctx context.Context, id string, from models.TripStatus, u models.TripUpdate) (models.Trip, error) {
	return p.updateTrip(ctx, id, &from, u)
}

// updateTrip is a row-locked read-modify-write; with from set it only
// commits when the stored status still matches.
func (p *PostgresStore) updateTrip(ctx context.Context, id string, from *models.TripStatus, u models.TripUpdate) (models.Trip, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Trip{}, err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.GetContext(ctx, &doc, `SELECT doc FROM trips WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Trip{}, err
	}
	var t models.Trip
	if err := json.Unmarshal(doc, &t); err != nil {
		return models.Trip{}, err
	}
	t.ID = id
	if from != nil && t.Status != *from {
		return t, fmt.Errorf("trip %s is %q, want %q: %w", id, t.Status, *from, ErrConflict)
	}
	prev := t.Status
	u.ApplyTo(&t)
	out, err := json.Marshal(t)
	if err != nil {
		return models.Trip{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE trips SET status = $1, plate = $2, doc = $3, updated_at = now() WHERE id = $4`,
		string(t.Status), t.AmbulancePlate, out, id); err != nil {
		return models.Trip{}, err
	}
	if t.Status != prev {
		if _, err := tx.ExecContext(ctx, `INSERT INTO trip_events (trip_id, from_status, to_status) VALUES ($1, $2, $3)`,
			id, string(prev), string(t.Status)); err != nil {
			return models.Trip{}, err
		}
	}
	return t, tx.Commit()
}

func (p *PostgresStore) Trip(ctx context.Context, id string) (models.Trip, error) {
	var doc []byte
	err := p.db.GetContext(ctx, &doc, `SELECT doc FROM trips WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Trip{}, err
	}
	var t models.Trip
	if err := json.Unmarshal(doc, &t); err != nil {
		return models.Trip{}, err
	}
	t.ID = id
	return t, nil
}

func (p *PostgresStore) Trips(ctx context.Context) ([]models.Trip, error) {
	var rows []docRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT id AS key, doc FROM trips ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]models.Trip, 0, len(rows))
	for _, r := range rows {
		var t models.Trip
		if err := json.Unmarshal(r.Doc, &t); err != nil {
			return nil, fmt.Errorf("trip %s: %w", r.Key, err)
		}
		t.ID = r.Key
		out = append(out, t)
	}
	return out, nil
}

func (p *PostgresStore) WatchAmbulances(ctx context.Context) <-chan []models.Ambulance {
	var last []models.Ambulance
	first := true
	return poll(ctx, p.pollInterval, p.log, "ambulances", func(ctx context.Context) ([]models.Ambulance, bool, error) {
		snap, err := p.Ambulances(ctx)
		if err != nil {
			return nil, false, err
		}
		if !first && reflect.DeepEqual(snap, last) {
			return nil, false, nil
		}
		first, last = false, snap
		return snap, true, nil
	})
}

func (p *PostgresStore) WatchTrips(ctx context.Context) <-chan []models.Trip {
	var last []models.Trip
	first := true
	return poll(ctx, p.pollInterval, p.log, "trips", func(ctx context.Context) ([]models.Trip, bool, error) {
		snap, err := p.Trips(ctx)
		if err != nil {
			return nil, false, err
		}
		if !first && reflect.DeepEqual(snap, last) {
			return nil, false, nil
		}
		first, last = false, snap
		return snap, true, nil
	})
}
