package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/models"
)

// RedisGeo implements Fleet using Redis GEO commands.
type RedisGeo struct {
	client   *redis.Client
	key      string
	radiusKm float64
}

func NewRedisGeo(addr, password, key string, radiusKm float64) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisGeoFromClient(c, key, radiusKm)
}

func NewRedisGeoFromClient(c *redis.Client, key string, radiusKm float64) *RedisGeo {
	if radiusKm <= 0 {
		radiusKm = 50
	}
	return &RedisGeo{client: c, key: key, radiusKm: radiusKm}
}

func (r *RedisGeo) Upsert(ctx context.Context, a models.Ambulance) error {
	meta := map[string]interface{}{
		"driver":   a.Driver,
		"status":   string(a.Status),
		"hospital": a.Hospital,
		"updated":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.client.HSet(ctx, metaKey(a.Plate), meta).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", a.Plate, err)
	}
	pos, ok := a.Position()
	if !ok {
		return nil
	}
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: pos.Lng, Latitude: pos.Lat, Name: a.Plate}).Err(); err != nil {
		return fmt.Errorf("redis geoadd %s: %w", a.Plate, err)
	}
	return nil
}

func (r *RedisGeo) Nearby(ctx context.Context, c models.Coord, limit int) ([]models.Ambulance, error) {
	q := &redis.GeoRadiusQuery{Radius: r.radiusKm, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC"}
	if limit > 0 {
		// over-fetch: busy ambulances are filtered after the metadata lookup
		q.Count = limit * 2
	}
	res, err := r.client.GeoRadius(ctx, r.key, c.Lng, c.Lat, q).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius: %w", err)
	}
	out := make([]models.Ambulance, 0, len(res))
	for _, g := range res {
		lat, lng := g.Latitude, g.Longitude
		a := models.Ambulance{Plate: g.Name, Lat: &lat, Lng: &lng}
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		a.Driver = m["driver"]
		a.Hospital = m["hospital"]
		a.Status = models.AmbulanceStatus(m["status"])
		if a.Status != models.AmbulanceAvailable {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(plate string) string { return "ambulance:meta:" + plate }
