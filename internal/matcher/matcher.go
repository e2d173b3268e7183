// Package matcher picks an ambulance for an automatic booking by estimated
// fare.
package matcher

import (
	"math"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

// Pricing is the fare heuristic: Base plus PerKm for every straight-line
// kilometre, rounded to whole currency units. Without IncludeApproach only
// the pickup-to-hospital leg is priced, so every ambulance costs the same
// and the first one wins.
type Pricing struct {
	Base            float64
	PerKm           float64
	IncludeApproach bool
}

var DefaultPricing = Pricing{Base: 50, PerKm: 15}

// Fare estimates the cost of serving a trip with a.
func (p Pricing) Fare(a models.Ambulance, pickup, hospital models.Coord) float64 {
	meters := geo.Distance(pickup, hospital)
	if p.IncludeApproach {
		if pos, ok := a.Position(); ok {
			meters += geo.Distance(pos, pickup)
		}
	}
	return math.Round(p.Base + p.PerKm*meters/1000)
}

type Candidate struct {
	Ambulance models.Ambulance `json:"ambulance"`
	Cost      float64          `json:"cost"`
}

// Cheapest returns the minimum-cost ambulance; on equal cost the earlier
// one in ambs wins.
func Cheapest(ambs []models.Ambulance, cost func(models.Ambulance) float64) (Candidate, bool) {
	var best Candidate
	found := false
	for _, a := range ambs {
		c := cost(a)
		if !found || c < best.Cost {
			best = Candidate{Ambulance: a, Cost: c}
			found = true
		}
	}
	return best, found
}

// Selector filters the fleet snapshot down to bookable ambulances and
// prices them.
type Selector struct {
	Pricing Pricing
}

func eligible(a models.Ambulance) bool {
	_, ok := a.Position()
	return ok && a.Status == models.AmbulanceAvailable
}

// Select picks the cheapest available ambulance with a known position.
func (s Selector) Select(ambs []models.Ambulance, pickup, hospital models.Coord) (Candidate, bool) {
	pool := make([]models.Ambulance, 0, len(ambs))
	for _, a := range ambs {
		if eligible(a) {
			pool = append(pool, a)
		}
	}
	return Cheapest(pool, func(a models.Ambulance) float64 {
		return s.Pricing.Fare(a, pickup, hospital)
	})
}

// Rank lists available ambulances closest to pickup first, each with its
// fare; used for manual booking.
func (s Selector) Rank(ambs []models.Ambulance, pickup, hospital models.Coord) []Candidate {
	out := make([]Candidate, 0, len(ambs))
	for _, a := range geo.SortByDistance(pickup, ambs) {
		if !eligible(a) {
			continue
		}
		out = append(out, Candidate{Ambulance: a, Cost: s.Pricing.Fare(a, pickup, hospital)})
	}
	return out
}
