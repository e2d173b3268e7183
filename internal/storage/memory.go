package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ambulance-dispatch/internal/models"
)

// MemoryStore is an in-process Store. Every write fans a fresh snapshot out
// to all watchers; a slow watcher only ever misses intermediate snapshots.
type MemoryStore struct {
	mu         sync.RWMutex
	ambulances map[string]models.Ambulance
	trips      map[string]models.Trip

	subMu   sync.Mutex
	ambSubs map[chan []models.Ambulance]struct{}
	tripSub map[chan []models.Trip]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ambulances: make(map[string]models.Ambulance),
		trips:      make(map[string]models.Trip),
		ambSubs:    make(map[chan []models.Ambulance]struct{}),
		tripSub:    make(map[chan []models.Trip]struct{}),
	}
}

func (m *MemoryStore) PutAmbulance(_ context.Context, a models.Ambulance) error {
	m.mu.Lock()
	m.ambulances[a.Plate] = a
	m.mu.Unlock()
	m.publishAmbulances()
	return nil
}

func (m *MemoryStore) UpdateAmbulance(_ context.Context, plate string, u models.AmbulanceUpdate) error {
	m.mu.Lock()
	a, ok := m.ambulances[plate]
	if !ok {
		a = models.Ambulance{Plate: plate}
	}
	u.ApplyTo(&a)
	m.ambulances[plate] = a
	m.mu.Unlock()
	m.publishAmbulances()
	return nil
}

func (m *MemoryStore) Ambulance(_ context.Context, plate string) (models.Ambulance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.ambulances[plate]
	if !ok {
		return models.Ambulance{}, fmt.Errorf("ambulance %s: %w", plate, ErrNotFound)
	}
	return a, nil
}

func (m *MemoryStore) Ambulances(context.Context) ([]models.Ambulance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ambulancesFromMap(m.ambulances), nil
}

func (m *MemoryStore) CreateTrip(_ context.Context, t models.Trip) (models.Trip, error) {
	// v7 ids sort in creation order, like push keys
	t.ID = uuid.Must(uuid.NewV7()).String()
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().UnixMilli()
	}
	m.mu.Lock()
	m.trips[t.ID] = t
	m.mu.Unlock()
	m.publishTrips()
	return t, nil
}

func (m *MemoryStore) UpdateTrip(_ context.Context, id string, u models.TripUpdate) error {
	m.mu.Lock()
	t, ok := m.trips[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	u.ApplyTo(&t)
	m.trips[id] = t
	m.mu.Unlock()
	m.publishTrips()
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from models.TripStatus, u models.TripUpdate) (models.Trip, error) {
	m.mu.Lock()
	t, ok := m.trips[id]
	if !ok {
		m.mu.Unlock()
		return models.Trip{}, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	if t.Status != from {
		m.mu.Unlock()
		return t, fmt.Errorf("trip %s is %q, want %q: %w", id, t.Status, from, ErrConflict)
	}
	u.ApplyTo(&t)
	m.trips[id] = t
	m.mu.Unlock()
	m.publishTrips()
	return t, nil
}

func (m *MemoryStore) Trip(_ context.Context, id string) (models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, fmt.Errorf("trip %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) Trips(context.Context) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tripsFromMap(m.trips), nil
}

func (m *MemoryStore) WatchAmbulances(ctx context.Context) <-chan []models.Ambulance {
	ch := make(chan []models.Ambulance, 1)
	m.subMu.Lock()
	m.ambSubs[ch] = struct{}{}
	snap, _ := m.Ambulances(ctx)
	offerLatest(ch, snap)
	m.subMu.Unlock()
	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.ambSubs, ch)
		close(ch)
		m.subMu.Unlock()
	}()
	return ch
}

func (m *MemoryStore) WatchTrips(ctx context.Context) <-chan []models.Trip {
	ch := make(chan []models.Trip, 1)
	m.subMu.Lock()
	m.tripSub[ch] = struct{}{}
	snap, _ := m.Trips(ctx)
	offerLatest(ch, snap)
	m.subMu.Unlock()
	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.tripSub, ch)
		close(ch)
		m.subMu.Unlock()
	}()
	return ch
}

// Snapshots are taken under subMu so deliveries never go backwards in time.
func (m *MemoryStore) publishAmbulances() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if len(m.ambSubs) == 0 {
		return
	}
	snap, _ := m.Ambulances(context.Background())
	for ch := range m.ambSubs {
		offerLatest(ch, snap)
	}
}

func (m *MemoryStore) publishTrips() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if len(m.tripSub) == 0 {
		return
	}
	snap, _ := m.Trips(context.Background())
	for ch := range m.tripSub {
		offerLatest(ch, snap)
	}
}

// offerLatest replaces a pending snapshot with v instead of blocking the writer.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
