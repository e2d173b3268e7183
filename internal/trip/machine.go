// Package trip holds the trip lifecycle shared by every viewer: the
// transition table, the guards a driver client applies before acting, and
// the reaction each status triggers locally.
package trip

import (
	"errors"
	"fmt"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Event is a driver action that moves a trip forward.
type Event string

const (
	EventAccept   Event = "accept"
	EventReject   Event = "reject"
	EventPickUp   Event = "pickup"
	EventComplete Event = "complete"
)

var (
	ErrInvalidTransition = errors.New("invalid trip transition")
	ErrNotAssigned       = errors.New("trip is assigned to another ambulance")
	ErrBusy              = errors.New("driver already holds an active trip")
	ErrNotActive         = errors.New("trip is not the driver's active trip")
)

var transitions = map[models.TripStatus]map[Event]models.TripStatus{
	models.TripRequested: {
		EventAccept: models.TripAccepted,
		EventReject: models.TripRejected,
	},
	models.TripAccepted: {
		EventPickUp: models.TripPickedUp,
	},
	models.TripPickedUp: {
		EventComplete: models.TripCompleted,
	},
}

// Next returns the status reached from `from` by `ev`.
func Next(from models.TripStatus, ev Event) (models.TripStatus, error) {
	byEvent, ok := transitions[from]
	if !ok {
		return from, fmt.Errorf("%w: status %q has no outgoing transitions", ErrInvalidTransition, from)
	}
	next, ok := byEvent[ev]
	if !ok {
		return from, fmt.Errorf("%w: status %q does not allow %q", ErrInvalidTransition, from, ev)
	}
	return next, nil
}

// IsTerminal reports whether no further transitions or side effects follow.
func IsTerminal(s models.TripStatus) bool {
	return s == models.TripCompleted || s == models.TripRejected
}

// Known reports whether s is one of the lifecycle statuses.
func Known(s models.TripStatus) bool {
	switch s {
	case models.TripRequested, models.TripAccepted, models.TripPickedUp, models.TripCompleted, models.TripRejected:
		return true
	}
	return false
}

// CanOffer decides whether a driver client should prompt for t.
func CanOffer(t models.Trip, plate, activeID string) bool {
	return t.Status == models.TripRequested && t.AmbulancePlate == plate && activeID == ""
}

// CheckOffer is CanOffer with a reason.
func CheckOffer(t models.Trip, plate, activeID string) error {
	if t.AmbulancePlate != plate {
		return ErrNotAssigned
	}
	if activeID != "" && activeID != t.ID {
		return ErrBusy
	}
	if t.Status != models.TripRequested {
		return fmt.Errorf("%w: trip %s is %q", ErrInvalidTransition, t.ID, t.Status)
	}
	return nil
}

// CheckAdvance validates that the holder of activeID may apply ev to t and
// returns the resulting status. Accept and reject go through CheckOffer.
func CheckAdvance(t models.Trip, plate, activeID string, ev Event) (models.TripStatus, error) {
	switch ev {
	case EventAccept, EventReject:
		if err := CheckOffer(t, plate, activeID); err != nil {
			return t.Status, err
		}
	default:
		if t.AmbulancePlate != plate {
			return t.Status, ErrNotAssigned
		}
		if activeID == "" || activeID != t.ID {
			return t.Status, ErrNotActive
		}
	}
	return Next(t.Status, ev)
}
