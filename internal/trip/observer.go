package trip

import (
	"sync"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Change is one observed status change of a trip.
type Change struct {
	Trip models.Trip
	From models.TripStatus // empty on first sighting
}

// Observer turns repeated full snapshots into status changes, emitting each
// (trip, status) pair once. A trip seen in a terminal status is sealed.
// Trips that drop out of the snapshot are forgotten, so memory stays
// bounded by the size of the latest snapshot.
type Observer struct {
	mu   sync.Mutex
	last map[string]models.TripStatus
}

func NewObserver() *Observer {
	return &Observer{last: make(map[string]models.TripStatus)}
}

// Observe returns the changes carried by snapshot, in snapshot order.
func (o *Observer) Observe(snapshot []models.Trip) []Change {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Change
	present := make(map[string]bool, len(snapshot))
	for _, t := range snapshot {
		present[t.ID] = true
		prev, seen := o.last[t.ID]
		if seen && (prev == t.Status || IsTerminal(prev)) {
			continue
		}
		o.last[t.ID] = t.Status
		out = append(out, Change{Trip: t, From: prev})
	}
	for id := range o.last {
		if !present[id] {
			delete(o.last, id)
		}
	}
	return out
}

// Status returns the last status observed for id.
func (o *Observer) Status(id string) (models.TripStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.last[id]
	return s, ok
}

// Sealed reports whether id has reached a terminal status.
func (o *Observer) Sealed(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.last[id]
	return ok && IsTerminal(s)
}
