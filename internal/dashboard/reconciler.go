// Package dashboard keeps the fleet dashboard's view of active trips in
// step with the store: one marker, route and table row per active trip.
package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
)

const HospitalRadiusMeters = 1000

type Row struct {
	Patient  string `json:"patient"`
	Hospital string `json:"hospital"`
	Plate    string `json:"plate"`
	Driver   string `json:"driver"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

type Circle struct {
	Center       models.Coord `json:"center"`
	RadiusMeters float64      `json:"radius_meters"`
}

type Marker struct {
	Plate    string                 `json:"plate"`
	Driver   string                 `json:"driver"`
	Status   models.AmbulanceStatus `json:"status"`
	Position models.Coord           `json:"position"`
}

// View is everything the dashboard draws for one trip.
type View struct {
	TripID      string        `json:"trip_id"`
	Row         Row           `json:"row"`
	Marker      *Marker       `json:"marker,omitempty"`
	Route       *models.Route `json:"route,omitempty"`
	RouteTarget string        `json:"route_target,omitempty"`
	Hospital    *Circle       `json:"hospital,omitempty"`
}

// Diff lists trip ids whose view appeared, changed or went away.
type Diff struct {
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

func (d Diff) Empty() bool { return len(d.Added)+len(d.Updated)+len(d.Removed) == 0 }

// fetched is the outcome of one route lookup for a trip.
type fetched struct {
	route  *models.Route
	target string
}

type Reconciler struct {
	router routing.Router
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	views   map[string]*View
	markers map[string]*Interpolator
}

func NewReconciler(router routing.Router, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		router:  router,
		log:     log,
		now:     time.Now,
		views:   make(map[string]*View),
		markers: make(map[string]*Interpolator),
	}
}

func displayed(t models.Trip) bool {
	return t.AmbulancePlate != "" && !trip.IsTerminal(t.Status)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// locate returns the trip's ambulance and its best known position: the
// ambulance record first, then the position mirrored on the trip.
func locate(t models.Trip, byPlate map[string]models.Ambulance) (models.Ambulance, models.Coord, bool) {
	a := byPlate[t.AmbulancePlate]
	if pos, ok := a.Position(); ok {
		return a, pos, true
	}
	pos, ok := t.AmbulancePosition()
	return a, pos, ok
}

// Apply reconciles the views with the latest snapshots of both collections.
// Routes are looked up before the views are locked so a slow router never
// holds up Views.
func (r *Reconciler) Apply(ctx context.Context, ambulances []models.Ambulance, trips []models.Trip) Diff {
	byPlate := make(map[string]models.Ambulance, len(ambulances))
	available := 0
	for _, a := range ambulances {
		byPlate[a.Plate] = a
		if a.Status == models.AmbulanceAvailable {
			available++
		}
	}
	observability.AmbulancesAvailable.Set(float64(available))

	routes := r.fetchRoutes(ctx, trips, byPlate)

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var diff Diff
	seen := make(map[string]bool, len(trips))

	for _, t := range trips {
		if !displayed(t) {
			continue
		}
		seen[t.ID] = true
		prev, existed := r.views[t.ID]
		v := &View{TripID: t.ID}
		if existed {
			cp := *prev
			v = &cp
		}
		v.Row = Row{
			Patient:  dash(t.PatientName),
			Hospital: dash(t.HospitalID),
			Plate:    dash(t.AmbulancePlate),
			Driver:   dash(t.AmbulanceDriver),
			Priority: dash(t.Priority),
			Status:   dash(string(t.Status)),
		}

		a, pos, ok := locate(t, byPlate)
		if ok {
			ip := r.markers[t.ID]
			if ip == nil {
				ip = NewInterpolator(MoveDuration)
				r.markers[t.ID] = ip
			}
			ip.Set(pos, now)
			driver := a.Driver
			if driver == "" {
				driver = t.AmbulanceDriver
			}
			v.Marker = &Marker{Plate: t.AmbulancePlate, Driver: dash(driver), Status: a.Status, Position: pos}
		}

		if v.Hospital == nil && t.HasHospital() {
			v.Hospital = &Circle{Center: t.Hospital(), RadiusMeters: HospitalRadiusMeters}
		}

		if f, got := routes[t.ID]; got {
			v.Route, v.RouteTarget = f.route, f.target
		} else if trip.ReactionFor(t.Status).Route == trip.RouteNone {
			v.Route, v.RouteTarget = nil, ""
		}

		switch {
		case !existed:
			diff.Added = append(diff.Added, t.ID)
		case changed(prev, v):
			diff.Updated = append(diff.Updated, t.ID)
		}
		r.views[t.ID] = v
	}

	for id := range r.views {
		if seen[id] {
			continue
		}
		delete(r.views, id)
		delete(r.markers, id)
		diff.Removed = append(diff.Removed, id)
	}
	sort.Strings(diff.Removed)
	observability.ActiveTrips.Set(float64(len(r.views)))
	return diff
}

// fetchRoutes asks the router for a route on every pass for each Accepted
// (to pickup) and PickedUp (to hospital) trip with a known position.
// Repeated identical lookups are absorbed by the router's cache. A failed
// lookup leaves the trip out so its previous route stays on screen.
func (r *Reconciler) fetchRoutes(ctx context.Context, trips []models.Trip, byPlate map[string]models.Ambulance) map[string]fetched {
	out := make(map[string]fetched)
	if r.router == nil {
		return out
	}
	for _, t := range trips {
		if !displayed(t) {
			continue
		}
		react := trip.ReactionFor(t.Status)
		dest, ok := react.Destination(t)
		if !ok {
			continue
		}
		_, pos, ok := locate(t, byPlate)
		if !ok {
			continue
		}
		route, err := r.router.Route(ctx, pos, dest)
		if err != nil {
			r.log.Warn("dashboard route failed", zap.String("trip_id", t.ID), zap.Stringer("target", react.Route), zap.Error(err))
			continue
		}
		out[t.ID] = fetched{route: &route, target: react.Route.String()}
	}
	return out
}

func sameRoute(a, b *models.Route) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.DurationSeconds != b.DurationSeconds || a.DistanceMeters != b.DistanceMeters || len(a.Points) != len(b.Points) {
		return false
	}
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			return false
		}
	}
	return true
}

func changed(a, b *View) bool {
	if a.Row != b.Row || a.RouteTarget != b.RouteTarget || !sameRoute(a.Route, b.Route) {
		return true
	}
	if (a.Marker == nil) != (b.Marker == nil) || (a.Hospital == nil) != (b.Hospital == nil) {
		return true
	}
	return a.Marker != nil && *a.Marker != *b.Marker
}

// Views returns the current views ordered by trip id, with each marker at
// its interpolated position for now.
func (r *Reconciler) Views(now time.Time) []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]View, 0, len(r.views))
	for id, v := range r.views {
		cp := *v
		if cp.Marker != nil {
			if ip := r.markers[id]; ip != nil {
				m := *cp.Marker
				m.Position = ip.At(now)
				cp.Marker = &m
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// Update is one reconciliation pass as pushed to live dashboards.
type Update struct {
	Diff  Diff      `json:"diff"`
	Views []View    `json:"views"`
	At    time.Time `json:"at"`
}

type Sink interface {
	Publish(u Update)
}

// Run reconciles on every snapshot of either collection until ctx ends.
func (r *Reconciler) Run(ctx context.Context, st storage.Store, sink Sink) {
	ambCh := st.WatchAmbulances(ctx)
	tripCh := st.WatchTrips(ctx)
	var ambs []models.Ambulance
	var trips []models.Trip
	for ambCh != nil || tripCh != nil {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-ambCh:
			if !ok {
				ambCh = nil
				continue
			}
			ambs = a
		case t, ok := <-tripCh:
			if !ok {
				tripCh = nil
				continue
			}
			trips = t
		}
		d := r.Apply(ctx, ambs, trips)
		if d.Empty() || sink == nil {
			continue
		}
		now := r.now()
		sink.Publish(Update{Diff: d, Views: r.Views(now), At: now.UTC()})
	}
}
