package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/driver"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
)

func TestParseFix(t *testing.T) {
	c, ok, err := parseFix(" 20.2961, 85.8245 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.Coord{Lat: 20.2961, Lng: 85.8245}, c)

	_, ok, err = parseFix("# depot")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseFix("20.29")
	assert.Error(t, err)
	_, _, err = parseFix("95,10")
	assert.Error(t, err)
}

func TestReplayFixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixes.txt")
	require.NoError(t, os.WriteFile(path, []byte("20.1,85.1\n\n20.2,85.2\n"), 0o600))

	out := make(chan models.Fix, 4)
	require.NoError(t, replayFixes(context.Background(), path, time.Millisecond, out))
	close(out)
	var got []models.Coord
	for f := range out {
		got = append(got, f.Coord)
	}
	assert.Equal(t, []models.Coord{{Lat: 20.1, Lng: 85.1}, {Lat: 20.2, Lng: 85.2}}, got)
}

const plate = "OD-02-AB-1234"

func TestConsoleCommands(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	tr, err := st.CreateTrip(ctx, models.Trip{PatientName: "Asha", AmbulancePlate: plate, Status: models.TripRequested})
	require.NoError(t, err)

	sess := driver.NewSession(st, driver.Identity{Name: "Ravi", Plate: plate}, driver.Options{})
	var out bytes.Buffer
	c := newConsole(sess, strings.NewReader(""), &out, zap.NewNop())

	c.command(ctx, "accept")
	assert.Contains(t, out.String(), "no pending request")

	c.prompt(tr)
	assert.Contains(t, out.String(), "NEW REQUEST "+tr.ID)

	c.command(ctx, "pickup")
	assert.Contains(t, out.String(), "pickup failed")

	c.command(ctx, "a")
	assert.Contains(t, out.String(), "trip "+tr.ID+": Accepted")
	assert.Empty(t, c.pending)

	c.command(ctx, "p")
	c.command(ctx, "c")
	got, err := st.Trip(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCompleted, got.Status)

	out.Reset()
	c.command(ctx, "status")
	assert.Contains(t, out.String(), "active trip: none")
}

func TestConsoleShowsRouteOnAcceptAndPickup(t *testing.T) {
	var paths []string
	osrm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"code":"Ok","routes":[{"duration":600,"distance":2500,"geometry":{"type":"LineString","coordinates":[[85.82,20.29],[85.825,20.295],[85.83,20.30]]}}]}`))
	}))
	defer osrm.Close()

	router := newRouter(config.DriverConfig{OSRMURL: osrm.URL, OSRMTimeout: time.Second, RouteCacheTTL: time.Minute})
	sess := driver.NewSession(storage.NewMemoryStore(), driver.Identity{Name: "Ravi", Plate: plate}, driver.Options{Router: router})
	sess.SetPosition(models.Coord{Lat: 20.29, Lng: 85.82})
	var out bytes.Buffer
	c := newConsole(sess, strings.NewReader(""), &out, zap.NewNop())
	ctx := context.Background()

	tr := models.Trip{
		ID:             "t1",
		AmbulancePlate: plate,
		Pickup:         models.Coord{Lat: 20.30, Lng: 85.83},
		HospitalLat:    20.2315,
		HospitalLng:    85.7760,
		Status:         models.TripAccepted,
	}
	c.showChange(ctx, trip.Change{Trip: tr, From: models.TripRequested})
	assert.Contains(t, out.String(), "trip t1 is now Accepted (navigate to pickup)")
	assert.Contains(t, out.String(), "route: 2.5 km, 10 min, 3 points")
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], "/route/v1/driving/85.820000,20.290000;85.830000,20.300000"), paths[0])

	out.Reset()
	tr.Status = models.TripPickedUp
	c.showChange(ctx, trip.Change{Trip: tr, From: models.TripAccepted})
	assert.Contains(t, out.String(), "(navigate to hospital)")
	assert.Contains(t, out.String(), "route: 2.5 km")
	require.Len(t, paths, 2)
	assert.Contains(t, paths[1], ";85.776000,20.231500")

	out.Reset()
	tr.Status = models.TripCompleted
	c.showChange(ctx, trip.Change{Trip: tr, From: models.TripPickedUp})
	assert.Equal(t, "trip t1 is now Completed\n", out.String())
	assert.Len(t, paths, 2)
}
