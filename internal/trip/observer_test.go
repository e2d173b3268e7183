package trip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestObserverEmitsEachTransitionOnce(t *testing.T) {
	o := NewObserver()
	seq := []models.TripStatus{models.TripRequested, models.TripAccepted, models.TripPickedUp, models.TripCompleted}

	var got []models.TripStatus
	for _, s := range seq {
		snap := []models.Trip{{ID: "t1", Status: s}}
		// each snapshot is delivered three times
		for i := 0; i < 3; i++ {
			for _, c := range o.Observe(snap) {
				got = append(got, c.Trip.Status)
			}
		}
	}
	assert.Equal(t, seq, got)
	assert.True(t, o.Sealed("t1"))
}

func TestObserverIgnoresTripAfterTerminal(t *testing.T) {
	o := NewObserver()
	require.Len(t, o.Observe([]models.Trip{{ID: "t1", Status: models.TripCompleted}}), 1)
	assert.Empty(t, o.Observe([]models.Trip{{ID: "t1", Status: models.TripAccepted}}))
}

func TestObserverReportsPreviousStatus(t *testing.T) {
	o := NewObserver()
	first := o.Observe([]models.Trip{{ID: "a", Status: models.TripRequested}, {ID: "b", Status: models.TripAccepted}})
	require.Len(t, first, 2)
	assert.Equal(t, models.TripStatus(""), first[0].From)

	next := o.Observe([]models.Trip{{ID: "a", Status: models.TripAccepted}, {ID: "b", Status: models.TripAccepted}})
	require.Len(t, next, 1)
	assert.Equal(t, "a", next[0].Trip.ID)
	assert.Equal(t, models.TripRequested, next[0].From)
}

func TestObserverForgetsTripsLeavingSnapshot(t *testing.T) {
	o := NewObserver()
	o.Observe([]models.Trip{{ID: "a", Status: models.TripCompleted}, {ID: "b", Status: models.TripRequested}})
	assert.True(t, o.Sealed("a"))

	o.Observe([]models.Trip{{ID: "b", Status: models.TripAccepted}})
	assert.False(t, o.Sealed("a"))
	_, ok := o.Status("a")
	assert.False(t, ok)
	assert.Len(t, o.last, 1)

	o.Observe(nil)
	assert.Empty(t, o.last)
}
