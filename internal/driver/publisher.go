package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/storage"
)

var (
	SimulationStart = models.Coord{Lat: 20.2961, Lng: 85.8245}
	SimulationStep  = 0.0001
)

const DefaultFallbackInterval = 3 * time.Second

// Publisher writes the ambulance record on every position fix. Until the
// first real fix arrives it writes a synthetic fix on every tick, walking
// north-east from SimulationStart; after that the simulation stops for
// good.
type Publisher struct {
	Store    storage.Store
	Session  *Session
	Events   ingest.Publisher
	Interval time.Duration
	Log      *zap.Logger
}

func (p *Publisher) Run(ctx context.Context, fixes <-chan models.Fix) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultFallbackInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	tick := ticker.C
	sim := SimulationStart

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-fixes:
			if !ok {
				fixes = nil
				continue
			}
			if tick != nil {
				ticker.Stop()
				tick = nil
				p.log().Info("gps fix received, simulation stopped")
			}
			p.Publish(ctx, f)
		case now := <-tick:
			sim.Lat += SimulationStep
			sim.Lng += SimulationStep
			p.Publish(ctx, models.Fix{Coord: sim, At: now, Simulated: true})
		}
	}
}

// Publish merge-writes one fix. Failures are logged and dropped; the next
// fix supersedes this one anyway.
func (p *Publisher) Publish(ctx context.Context, f models.Fix) {
	id := p.Session.Identity()
	active := p.Session.recordFix(f.Coord)
	status := models.AmbulanceAvailable
	if active != "" {
		status = models.AmbulanceBusy
	}
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	loc := f.Coord
	u := models.AmbulanceUpdate{
		Driver:      &id.Name,
		Plate:       &id.Plate,
		Loc:         &loc,
		Status:      &status,
		LastUpdated: &at,
	}
	if err := p.Store.UpdateAmbulance(ctx, id.Plate, u); err != nil {
		observability.LocationWriteErrors.Inc()
		p.log().Warn("location write failed", zap.String("plate", id.Plate), zap.Error(err))
	} else {
		observability.LocationWrites.Inc()
	}
	if active != "" {
		if err := p.Store.UpdateTrip(ctx, active, models.TripUpdate{AmbulanceLoc: &loc}); err != nil {
			p.log().Warn("trip location write failed", zap.String("trip_id", active), zap.Error(err))
		}
	}
	if p.Events != nil {
		ev := models.LocationEvent{Plate: id.Plate, Driver: id.Name, Loc: loc, Status: status, TripID: active, Timestamp: at}
		if err := p.Events.PublishLocation(ctx, ev); err != nil {
			p.log().Debug("location event publish failed", zap.String("plate", id.Plate), zap.Error(err))
		}
	}
}

func (p *Publisher) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
