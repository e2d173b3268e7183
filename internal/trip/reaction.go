package trip

import "github.com/example/ambulance-dispatch/internal/models"

type RouteTarget int

const (
	RouteNone RouteTarget = iota
	RouteToPickup
	RouteToHospital
)

func (r RouteTarget) String() string {
	switch r {
	case RouteToPickup:
		return "pickup"
	case RouteToHospital:
		return "hospital"
	default:
		return "none"
	}
}

// Control is the single action button a driver UI offers.
type Control int

const (
	ControlNone Control = iota
	ControlPickup
	ControlComplete
)

// Reaction is what a viewer does locally when it observes a status.
type Reaction struct {
	Route        RouteTarget
	ShowHospital bool
	Control      Control
	Clear        bool
}

func ReactionFor(s models.TripStatus) Reaction {
	switch s {
	case models.TripAccepted:
		return Reaction{Route: RouteToPickup, Control: ControlPickup}
	case models.TripPickedUp:
		return Reaction{Route: RouteToHospital, ShowHospital: true, Control: ControlComplete}
	case models.TripCompleted, models.TripRejected:
		return Reaction{Clear: true}
	default:
		return Reaction{}
	}
}

// Destination resolves the route end point for t, if it has one.
func (r Reaction) Destination(t models.Trip) (models.Coord, bool) {
	switch r.Route {
	case RouteToPickup:
		return t.Pickup, t.HasPickup()
	case RouteToHospital:
		return t.Hospital(), t.HasHospital()
	}
	return models.Coord{}, false
}
