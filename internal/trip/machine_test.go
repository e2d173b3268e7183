package trip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestNextFollowsLifecycle(t *testing.T) {
	s := models.TripRequested
	for _, ev := range []Event{EventAccept, EventPickUp, EventComplete} {
		next, err := Next(s, ev)
		require.NoError(t, err)
		s = next
	}
	assert.Equal(t, models.TripCompleted, s)
	assert.True(t, IsTerminal(s))
}

func TestNextRejectsOutOfOrder(t *testing.T) {
	_, err := Next(models.TripRequested, EventComplete)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Next(models.TripCompleted, EventPickUp)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	next, err := Next(models.TripRequested, EventReject)
	require.NoError(t, err)
	assert.Equal(t, models.TripRejected, next)
	assert.True(t, IsTerminal(next))
}

func TestCanOfferRequiresPlateAndIdleDriver(t *testing.T) {
	tr := models.Trip{ID: "b", Status: models.TripRequested, AmbulancePlate: "OD-05-AB-1234"}

	assert.True(t, CanOffer(tr, "OD-05-AB-1234", ""))
	assert.False(t, CanOffer(tr, "OD-05-AB-9999", ""))
	assert.False(t, CanOffer(tr, "OD-05-AB-1234", "a"), "driver holding trip a must not be prompted")

	tr.Status = models.TripAccepted
	assert.False(t, CanOffer(tr, "OD-05-AB-1234", ""))
}

func TestCheckAdvanceOnlyActiveHolder(t *testing.T) {
	tr := models.Trip{ID: "a", Status: models.TripAccepted, AmbulancePlate: "P"}

	_, err := CheckAdvance(tr, "P", "", EventPickUp)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = CheckAdvance(tr, "Q", "a", EventPickUp)
	assert.ErrorIs(t, err, ErrNotAssigned)

	next, err := CheckAdvance(tr, "P", "a", EventPickUp)
	require.NoError(t, err)
	assert.Equal(t, models.TripPickedUp, next)

	req := models.Trip{ID: "b", Status: models.TripRequested, AmbulancePlate: "P"}
	_, err = CheckAdvance(req, "P", "a", EventAccept)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestReactionFor(t *testing.T) {
	tr := models.Trip{Pickup: models.Coord{Lat: 1, Lng: 2}, HospitalLat: 3, HospitalLng: 4}

	r := ReactionFor(models.TripAccepted)
	dst, ok := r.Destination(tr)
	require.True(t, ok)
	assert.Equal(t, models.Coord{Lat: 1, Lng: 2}, dst)
	assert.Equal(t, ControlPickup, r.Control)

	r = ReactionFor(models.TripPickedUp)
	dst, ok = r.Destination(tr)
	require.True(t, ok)
	assert.Equal(t, models.Coord{Lat: 3, Lng: 4}, dst)
	assert.True(t, r.ShowHospital)
	assert.Equal(t, ControlComplete, r.Control)

	assert.True(t, ReactionFor(models.TripCompleted).Clear)
	assert.Equal(t, RouteNone, ReactionFor(models.TripRequested).Route)
}
