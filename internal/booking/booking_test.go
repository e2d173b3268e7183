package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/apperr"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/matcher"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/payments"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
)

type fakeHolder struct {
	fare float64
	ref  string
	err  error
}

func (f *fakeHolder) Hold(_ context.Context, fare float64, ref string) (string, error) {
	f.fare, f.ref = fare, ref
	if f.err != nil {
		return "", f.err
	}
	return "pi_123", nil
}
func (f *fakeHolder) Capture(context.Context, string) error { return nil }
func (f *fakeHolder) Cancel(context.Context, string) error  { return nil }

type recordingNotifier struct{ plates []string }

func (n *recordingNotifier) TripRequested(_ context.Context, a models.Ambulance, _ models.Trip) error {
	n.plates = append(n.plates, a.Plate)
	return nil
}

func newService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	st := storage.NewMemoryStore()
	return &Service{
		Store:     st,
		Hospitals: hospitals.Default(),
		Selector:  matcher.Selector{Pricing: matcher.DefaultPricing},
		Log:       zap.NewNop(),
	}, st
}

func put(t *testing.T, st storage.Store, plate string, lat, lng float64, status models.AmbulanceStatus) {
	t.Helper()
	require.NoError(t, st.PutAmbulance(context.Background(), models.Ambulance{
		Plate: plate, Driver: "Driver " + plate, Status: status, Lat: &lat, Lng: &lng,
	}))
}

var pickup = &models.Coord{Lat: 20.2961, Lng: 85.8245}

func TestValidationBeforeAnything(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.Emergency(ctx, Request{Hospital: "AIIMS Bhubaneswar"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Emergency(ctx, Request{Pickup: pickup})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Emergency(ctx, Request{Pickup: pickup, Hospital: "Unknown Clinic"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Book(ctx, Request{Pickup: pickup, Hospital: "AIIMS Bhubaneswar"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEmergencyWithNoAmbulances(t *testing.T) {
	s, st := newService(t)
	put(t, st, "OD-02-AB-0001", 20.3, 85.8, models.AmbulanceBusy)

	_, err := s.Emergency(context.Background(), Request{Pickup: pickup, Hospital: "AIIMS Bhubaneswar"})
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	trips, _ := st.Trips(context.Background())
	assert.Empty(t, trips)
}

func TestEmergencyBooksFirstCheapest(t *testing.T) {
	s, st := newService(t)
	n := &recordingNotifier{}
	s.Notifier = n
	put(t, st, "OD-02-AB-0002", 20.40, 85.90, models.AmbulanceAvailable)
	put(t, st, "OD-02-AB-0001", 20.50, 85.95, models.AmbulanceAvailable)

	res, err := s.Emergency(context.Background(), Request{
		PatientName: " Asha ",
		Pickup:      pickup,
		Hospital:    "aiims bhubaneswar",
		Priority:    "normal",
		Notes:       "ignored",
	})
	require.NoError(t, err)

	tr := res.Trip
	// equal fares: snapshot order decides
	assert.Equal(t, "OD-02-AB-0001", tr.AmbulancePlate)
	assert.Equal(t, models.TripRequested, tr.Status)
	assert.Equal(t, models.PriorityCritical, tr.Priority)
	assert.Equal(t, EmergencyNotes, tr.Notes)
	assert.Equal(t, "Asha", tr.PatientName)
	assert.Equal(t, "AIIMS Bhubaneswar", tr.HospitalID)

	h, _ := hospitals.Default().Find("AIIMS Bhubaneswar")
	assert.Equal(t, h.Lat, tr.HospitalLat)
	assert.Equal(t, h.Lng, tr.HospitalLng)
	assert.Equal(t, []string{"OD-02-AB-0001"}, n.plates)

	trips, _ := st.Trips(context.Background())
	assert.Len(t, trips, 1)
}

func TestManualBooking(t *testing.T) {
	s, st := newService(t)
	put(t, st, "OD-02-AB-0001", 20.30, 85.83, models.AmbulanceAvailable)
	put(t, st, "OD-02-AB-0002", 20.31, 85.83, models.AmbulanceBusy)
	ctx := context.Background()

	cands, err := s.Available(ctx, Request{Pickup: pickup, Hospital: "Capital Hospital Bhubaneswar"})
	require.NoError(t, err)
	require.Len(t, cands, 1)

	_, err = s.Book(ctx, Request{Pickup: pickup, Hospital: "Capital Hospital Bhubaneswar", AmbulanceID: "OD-02-AB-0002"})
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	res, err := s.Book(ctx, Request{Pickup: pickup, Hospital: "Capital Hospital Bhubaneswar", AmbulanceID: "OD-02-AB-0001", Priority: ""})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityNormal, res.Trip.Priority)
	assert.Equal(t, "OD-02-AB-0001", res.Trip.AmbulanceID)
	assert.Greater(t, res.Fare, 0.0)
}

func TestFareHoldIsRecorded(t *testing.T) {
	s, st := newService(t)
	h := &fakeHolder{}
	s.Payments = h
	put(t, st, "OD-02-AB-0001", 20.30, 85.83, models.AmbulanceAvailable)

	res, err := s.Emergency(context.Background(), Request{Pickup: pickup, Hospital: "AIIMS Bhubaneswar"})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.Trip.PaymentIntentID)
	assert.Equal(t, res.Trip.ID, h.ref)
	assert.Equal(t, res.Fare, h.fare)

	stored, err := st.Trip(context.Background(), res.Trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", stored.PaymentIntentID)
}

func TestFareHoldFailureStillBooks(t *testing.T) {
	s, st := newService(t)
	s.Payments = &fakeHolder{err: errors.New("card declined")}
	put(t, st, "OD-02-AB-0001", 20.30, 85.83, models.AmbulanceAvailable)

	res, err := s.Emergency(context.Background(), Request{Pickup: pickup, Hospital: "AIIMS Bhubaneswar"})
	require.NoError(t, err)
	assert.Empty(t, res.Trip.PaymentIntentID)

	s.Payments = payments.Noop{}
	_, err = s.Emergency(context.Background(), Request{Pickup: pickup, Hospital: "AIIMS Bhubaneswar"})
	require.NoError(t, err)
}

func TestReassignRejectedTrip(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	put(t, st, "OD-02-AB-0001", 20.30, 85.83, models.AmbulanceAvailable)
	put(t, st, "OD-02-AB-0002", 20.31, 85.84, models.AmbulanceAvailable)

	res, err := s.Emergency(ctx, Request{PatientName: "Ravi", Pickup: pickup, Hospital: "AIIMS Bhubaneswar"})
	require.NoError(t, err)

	_, err = s.Reassign(ctx, res.Trip.ID, "")
	assert.ErrorIs(t, err, trip.ErrInvalidTransition)

	_, err = st.Transition(ctx, res.Trip.ID, models.TripRequested, models.TripUpdate{
		Status:     models.Ptr(models.TripRejected),
		RejectedBy: models.Ptr("OD-02-AB-0001"),
	})
	require.NoError(t, err)

	again, err := s.Reassign(ctx, res.Trip.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, res.Trip.ID, again.Trip.ID)
	assert.Equal(t, "OD-02-AB-0002", again.Trip.AmbulancePlate)
	assert.Equal(t, "Ravi", again.Trip.PatientName)

	old, err := st.Trip(ctx, res.Trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripRejected, old.Status)

	_, err = s.Reassign(ctx, "missing", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
