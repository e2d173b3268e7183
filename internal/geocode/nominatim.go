// Package geocode resolves addresses through a Nominatim server. Results are
// cached and outgoing requests are throttled to the public server's
// one-request-per-second policy.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

const (
	MinQueryLen  = 3
	SearchLimit  = 5
	defaultAgent = "ambulance-dispatch/1.0"
)

var (
	ErrQueryTooShort = errors.New("query too short")
	ErrNotFound      = errors.New("no geocoding result")
)

type Place struct {
	DisplayName string       `json:"display_name"`
	Loc         models.Coord `json:"loc"`
}

type nominatimPlace struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Error       string `json:"error"`
}

func (p nominatimPlace) place() (Place, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("bad lat %q: %w", p.Lat, err)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("bad lon %q: %w", p.Lon, err)
	}
	return Place{DisplayName: p.DisplayName, Loc: models.Coord{Lat: lat, Lng: lng}}, nil
}

type Client struct {
	Endpoint  string
	UserAgent string
	http      *http.Client
	limiter   *rate.Limiter
	search    *lru.Cache[string, []Place]
	reverse   *lru.Cache[string, Place]
}

// NewClient builds a client; rps <= 0 disables throttling.
func NewClient(endpoint string, timeout time.Duration, rps float64, cacheSize int) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	s, err := lru.New[string, []Place](cacheSize)
	if err != nil {
		return nil, err
	}
	r, err := lru.New[string, Place](cacheSize)
	if err != nil {
		return nil, err
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		UserAgent: defaultAgent,
		http:      &http.Client{Timeout: timeout},
		limiter:   lim,
		search:    s,
		reverse:   r,
	}, nil
}

// Search resolves free text to at most SearchLimit candidate places.
func (c *Client) Search(ctx context.Context, q string) ([]Place, error) {
	q = strings.TrimSpace(q)
	if len(q) < MinQueryLen {
		return nil, ErrQueryTooShort
	}
	key := strings.ToLower(q)
	if v, ok := c.search.Get(key); ok {
		observability.GeocodeRequests.WithLabelValues("search", "cache").Inc()
		return v, nil
	}
	v := url.Values{}
	v.Set("format", "json")
	v.Set("q", q)
	v.Set("limit", strconv.Itoa(SearchLimit))
	var raw []nominatimPlace
	if err := c.get(ctx, "/search", v, &raw); err != nil {
		observability.GeocodeRequests.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	out := make([]Place, 0, len(raw))
	for _, r := range raw {
		p, err := r.place()
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	observability.GeocodeRequests.WithLabelValues("search", "ok").Inc()
	c.search.Add(key, out)
	return out, nil
}

// Reverse resolves a point to an address.
func (c *Client) Reverse(ctx context.Context, loc models.Coord) (Place, error) {
	key := fmt.Sprintf("%.5f,%.5f", loc.Lat, loc.Lng)
	if p, ok := c.reverse.Get(key); ok {
		observability.GeocodeRequests.WithLabelValues("reverse", "cache").Inc()
		return p, nil
	}
	v := url.Values{}
	v.Set("format", "json")
	v.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(loc.Lng, 'f', -1, 64))
	var raw nominatimPlace
	if err := c.get(ctx, "/reverse", v, &raw); err != nil {
		observability.GeocodeRequests.WithLabelValues("reverse", "error").Inc()
		return Place{}, err
	}
	if raw.Error != "" {
		observability.GeocodeRequests.WithLabelValues("reverse", "empty").Inc()
		return Place{}, fmt.Errorf("%w: %s", ErrNotFound, raw.Error)
	}
	p, err := raw.place()
	if err != nil {
		observability.GeocodeRequests.WithLabelValues("reverse", "error").Inc()
		return Place{}, err
	}
	observability.GeocodeRequests.WithLabelValues("reverse", "ok").Inc()
	c.reverse.Add(key, p)
	return p, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, into interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
