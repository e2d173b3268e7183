package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Router computes a driving route between two points.
type Router interface {
	Route(ctx context.Context, from, to models.Coord) (models.Route, error)
}

var ErrNoRoute = errors.New("no route")

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route queries /route with full GeoJSON geometry and returns the first route
// as a polyline in lat,lng order.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	// OSRM expects {lon},{lat} pairs
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.Route{}, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Route{}, fmt.Errorf("osrm returned status %d", resp.StatusCode)
	}
	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, fmt.Errorf("osrm decode: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.Route{}, fmt.Errorf("%w: osrm code %q", ErrNoRoute, out.Code)
	}
	r := out.Routes[0]
	pts := make([]models.Coord, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, models.Coord{Lat: c[1], Lng: c[0]})
	}
	if len(pts) == 0 {
		return models.Route{}, fmt.Errorf("%w: empty geometry", ErrNoRoute)
	}
	return models.Route{Points: pts, DurationSeconds: r.Duration, DistanceMeters: r.Distance}, nil
}
