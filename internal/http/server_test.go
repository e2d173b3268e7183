package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/geocode"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/matcher"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
)

const plate = "OD-02-AB-1234"

type fakeGeocoder struct{}

func (fakeGeocoder) Search(_ context.Context, q string) ([]geocode.Place, error) {
	if len(q) < 3 {
		return nil, geocode.ErrQueryTooShort
	}
	return []geocode.Place{{DisplayName: "Master Canteen, Bhubaneswar", Loc: models.Coord{Lat: 20.27, Lng: 85.84}}}, nil
}

func (fakeGeocoder) Reverse(context.Context, models.Coord) (geocode.Place, error) {
	return geocode.Place{}, geocode.ErrNotFound
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	dir := hospitals.Default()
	svc := &booking.Service{
		Store:     st,
		Hospitals: dir,
		Selector:  matcher.Selector{Pricing: matcher.DefaultPricing},
		Log:       zap.NewNop(),
	}
	return NewServer(Deps{
		Store:     st,
		Booking:   svc,
		Hospitals: dir,
		Fleet:     geo.NewIndex(),
		Geocoder:  fakeGeocoder{},
	}), st
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestEmergencyTripLifecycle(t *testing.T) {
	s, st := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/ambulances", map[string]string{"name": "Ravi", "plate": plate, "hospital": "AIIMS Bhubaneswar"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, "POST", "/api/v1/ambulances/"+plate+"/location", map[string]float64{"lat": 20.29, "lng": 85.82})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, "GET", "/api/v1/ambulances/nearby?lat=20.29&lng=85.82", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var near []models.Ambulance
	decodeBody(t, rec, &near)
	require.Len(t, near, 1)

	rec = do(t, s, "POST", "/api/v1/bookings/emergency", map[string]interface{}{
		"patientName": "Asha",
		"pickup":      map[string]float64{"lat": 20.30, "lng": 85.83},
		"hospital":    "KIMS Hospital Bhubaneswar",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res booking.Result
	decodeBody(t, rec, &res)
	assert.Equal(t, plate, res.Trip.AmbulancePlate)
	assert.Equal(t, models.PriorityCritical, res.Trip.Priority)
	id := res.Trip.ID

	rec = do(t, s, "POST", "/api/v1/trips/"+id+"/pickup", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pickup before accept")

	rec = do(t, s, "POST", "/api/v1/trips/"+id+"/accept", map[string]string{"plate": plate})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, "POST", "/api/v1/trips/"+id+"/accept", map[string]string{"plate": plate})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, "POST", "/api/v1/trips/"+id+"/pickup", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, "POST", "/api/v1/trips/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, "GET", "/api/v1/trips/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Trip
	decodeBody(t, rec, &got)
	assert.Equal(t, models.TripCompleted, got.Status)

	a, err := st.Ambulance(context.Background(), plate)
	require.NoError(t, err)
	assert.Equal(t, models.AmbulanceAvailable, a.Status)
}

func TestBookingErrors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/bookings/emergency", map[string]string{"hospital": "AIIMS Bhubaneswar"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/api/v1/bookings/emergency", map[string]interface{}{
		"pickup":   map[string]float64{"lat": 20.30, "lng": 85.83},
		"hospital": "AIIMS Bhubaneswar",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, s, "POST", "/api/v1/bookings", map[string]interface{}{
		"pickup":   map[string]float64{"lat": 20.30, "lng": 85.83},
		"hospital": "AIIMS Bhubaneswar",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "manual booking needs an ambulance")

	rec = do(t, s, "GET", "/api/v1/trips/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.RequestID)
}

func TestRegisterRejectsBadPlate(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, "POST", "/api/v1/ambulances", map[string]string{"name": "Ravi", "plate": "OD021234"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailableListsByDistance(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	for _, a := range []struct {
		plate    string
		lat, lng float64
	}{{"OD-02-AB-0002", 20.40, 85.90}, {"OD-02-AB-0001", 20.301, 85.831}} {
		lat, lng := a.lat, a.lng
		require.NoError(t, st.PutAmbulance(ctx, models.Ambulance{Plate: a.plate, Driver: "D", Status: models.AmbulanceAvailable, Lat: &lat, Lng: &lng}))
	}

	rec := do(t, s, "GET", "/api/v1/ambulances/available?lat=20.30&lng=85.83&hospital=AIIMS%20Bhubaneswar", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cands []matcher.Candidate
	decodeBody(t, rec, &cands)
	require.Len(t, cands, 2)
	assert.Equal(t, "OD-02-AB-0001", cands[0].Ambulance.Plate)
	assert.Greater(t, cands[0].Cost, 0.0)
}

func TestHospitalsAndGeocode(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/hospitals?q=cuttack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hs []models.Hospital
	decodeBody(t, rec, &hs)
	assert.Len(t, hs, 2)

	rec = do(t, s, "GET", "/api/v1/geocode/search?q=ma", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, "GET", "/api/v1/geocode/search?q=master%20canteen", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "GET", "/api/v1/geocode/reverse?lat=0.5&lng=0.5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndDashboard(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/readyz", nil).Code)

	rec := do(t, s, "GET", "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	s.Checks = []Check{{Name: "store", Fn: func(context.Context) error { return storage.ErrNotFound }}}
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "GET", "/readyz", nil).Code)
}
