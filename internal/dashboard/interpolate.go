package dashboard

import (
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

// MoveDuration is how long a marker takes to glide to a new fix.
const MoveDuration = 2 * time.Second

// Interpolator moves a marker linearly from where it is drawn now to the
// newest fix over a fixed duration.
type Interpolator struct {
	mu       sync.Mutex
	from, to models.Coord
	start    time.Time
	duration time.Duration
	set      bool
}

func NewInterpolator(d time.Duration) *Interpolator {
	if d <= 0 {
		d = MoveDuration
	}
	return &Interpolator{duration: d}
}

// Set starts a move towards c at now. The first point is placed directly.
func (i *Interpolator) Set(c models.Coord, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.set {
		i.from, i.to, i.start, i.set = c, c, now, true
		return
	}
	if c == i.to {
		return
	}
	i.from = i.at(now)
	i.to = c
	i.start = now
}

// At returns the drawn position at t.
func (i *Interpolator) At(t time.Time) models.Coord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.at(t)
}

func (i *Interpolator) Target() models.Coord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.to
}

func (i *Interpolator) at(t time.Time) models.Coord {
	f := float64(t.Sub(i.start)) / float64(i.duration)
	return geo.Lerp(i.from, i.to, f)
}
