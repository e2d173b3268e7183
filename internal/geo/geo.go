package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Fleet is the minimal interface the booking path needs to list ambulances
// around a pickup point.
type Fleet interface {
	Upsert(ctx context.Context, a models.Ambulance) error
	Nearby(ctx context.Context, c models.Coord, limit int) ([]models.Ambulance, error)
}

type Index struct {
	mu         sync.RWMutex
	ambulances map[string]models.Ambulance
}

func NewIndex() *Index {
	return &Index{ambulances: make(map[string]models.Ambulance)}
}

func (g *Index) Upsert(_ context.Context, a models.Ambulance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ambulances[a.Plate] = a
	return nil
}

// Nearby returns available ambulances with a known position, closest first.
// naive scan; the fleet is small
func (g *Index) Nearby(_ context.Context, c models.Coord, limit int) ([]models.Ambulance, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		a    models.Ambulance
		dist float64
	}
	arr := make([]pair, 0, len(g.ambulances))
	for _, a := range g.ambulances {
		if a.Status != models.AmbulanceAvailable {
			continue
		}
		pos, ok := a.Position()
		if !ok {
			continue
		}
		arr = append(arr, pair{a, Distance(c, pos)})
	}
	sort.SliceStable(arr, func(i, j int) bool {
		if arr[i].dist == arr[j].dist {
			return arr[i].a.Plate < arr[j].a.Plate
		}
		return arr[i].dist < arr[j].dist
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Ambulance, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.a)
	}
	return out, nil
}

// SortByDistance orders ambulances by distance from c; ambulances without a
// position go last.
func SortByDistance(c models.Coord, in []models.Ambulance) []models.Ambulance {
	out := append([]models.Ambulance(nil), in...)
	dist := func(a models.Ambulance) float64 {
		pos, ok := a.Position()
		if !ok {
			return math.Inf(1)
		}
		return Distance(c, pos)
	}
	sort.SliceStable(out, func(i, j int) bool { return dist(out[i]) < dist(out[j]) })
	return out
}

// Distance in meters between two points.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Lerp interpolates linearly between a and b; f is clamped to [0,1].
func Lerp(a, b models.Coord, f float64) models.Coord {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	return models.Coord{Lat: a.Lat + (b.Lat-a.Lat)*f, Lng: a.Lng + (b.Lng-a.Lng)*f}
}
