package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestSearchParsesAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"display_name":"Master Canteen, Bhubaneswar","lat":"20.2686","lon":"85.8430"},{"display_name":"broken","lat":"x","lon":"1"}]`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 0, 0, 8)
	require.NoError(t, err)
	got, err := c.Search(context.Background(), "Master Canteen")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 20.2686, got[0].Loc.Lat, 1e-9)
	assert.InDelta(t, 85.8430, got[0].Loc.Lng, 1e-9)

	_, err = c.Search(context.Background(), "master canteen")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearchRejectsShortQuery(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", 0, 0, 0)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "ab")
	assert.ErrorIs(t, err, ErrQueryTooShort)
}

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "0" {
			_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
			return
		}
		_, _ = w.Write([]byte(`{"display_name":"Janpath, Bhubaneswar","lat":"20.29","lon":"85.82"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 0, 0, 0)
	require.NoError(t, err)
	p, err := c.Reverse(context.Background(), models.Coord{Lat: 20.29, Lng: 85.82})
	require.NoError(t, err)
	assert.Equal(t, "Janpath, Bhubaneswar", p.DisplayName)

	_, err = c.Reverse(context.Background(), models.Coord{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 0, 0, 0)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "anything")
	assert.Error(t, err)
}
