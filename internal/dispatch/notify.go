package dispatch

import (
	"context"
	"errors"

	"github.com/example/ambulance-dispatch/internal/models"
)

// TripNotifier tells a driver device about a new trip.
type TripNotifier interface {
	TripRequested(ctx context.Context, a models.Ambulance, t models.Trip) error
}

// Fanout tries each notifier in order and stops at the first success, so
// a driver with no open socket is still reached by push.
type Fanout []TripNotifier

func (f Fanout) TripRequested(ctx context.Context, a models.Ambulance, t models.Trip) error {
	var errs []error
	for _, n := range f {
		if err := n.TripRequested(ctx, a, t); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}
