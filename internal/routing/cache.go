package routing

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

// CachedRouter memoizes routes keyed by rounded end points. Viewers re-query
// on every snapshot while the ambulance is standing still, which is what
// this absorbs.
type CachedRouter struct {
	next  Router
	cache *gocache.Cache
}

func NewCachedRouter(next Router, ttl time.Duration) *CachedRouter {
	return &CachedRouter{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

func (c *CachedRouter) Route(ctx context.Context, from, to models.Coord) (models.Route, error) {
	k := keyFor(from, to)
	if v, ok := c.cache.Get(k); ok {
		observability.RouteCacheHits.Inc()
		return v.(models.Route), nil
	}
	r, err := c.next.Route(ctx, from, to)
	if err != nil {
		observability.RouteErrors.Inc()
		return r, err
	}
	c.cache.SetDefault(k, r)
	return r, nil
}
