package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ambulance-dispatch/internal/dashboard"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
)

func dial(t *testing.T, h *Hub, topic Topic) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(topic, conn, nil)
	}))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Clients(topic) == 1 }, time.Second, time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestDashboardBroadcast(t *testing.T) {
	h := NewHub(nil)
	conn := dial(t, h, TopicDashboard)

	h.Publish(dashboard.Update{Diff: dashboard.Diff{Added: []string{"t1"}}})
	m := readMessage(t, conn)
	assert.JSONEq(t, `"dashboard"`, string(m["type"]))
	assert.Contains(t, string(m["data"]), `"t1"`)
}

func TestTripRequestedNeedsSession(t *testing.T) {
	h := NewHub(nil)
	a := models.Ambulance{Plate: "OD-02-AB-1234"}
	err := h.TripRequested(context.Background(), a, models.Trip{ID: "t1"})
	assert.ErrorIs(t, err, ErrNoSession)

	conn := dial(t, h, AmbulanceTopic(a.Plate))
	require.NoError(t, h.TripRequested(context.Background(), a, models.Trip{ID: "t1"}))
	m := readMessage(t, conn)
	assert.JSONEq(t, `"trip_requested"`, string(m["type"]))
}

func TestFollowStreamsStatusChanges(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr, err := st.CreateTrip(ctx, models.Trip{AmbulancePlate: "OD-02-AB-1234", Status: models.TripRequested})
	require.NoError(t, err)

	h := NewHub(nil)
	conn := dial(t, h, TripTopic(tr.ID))
	go h.Follow(ctx, st)

	m := readMessage(t, conn)
	assert.Contains(t, string(m["data"]), `"to":"requested"`)

	_, err = st.Transition(ctx, tr.ID, models.TripRequested, models.TripUpdate{Status: models.Ptr(models.TripAccepted)})
	require.NoError(t, err)
	m = readMessage(t, conn)
	assert.Contains(t, string(m["data"]), `"to":"Accepted"`)
	assert.Contains(t, string(m["data"]), `"from":"requested"`)
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) TripRequested(context.Context, models.Ambulance, models.Trip) error {
	s.calls++
	return s.err
}

func TestFanoutStopsAtFirstSuccess(t *testing.T) {
	a := &stubNotifier{err: ErrNoSession}
	b := &stubNotifier{}
	c := &stubNotifier{}
	require.NoError(t, Fanout{a, b, c}.TripRequested(context.Background(), models.Ambulance{}, models.Trip{}))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, c.calls)

	err := Fanout{a, &stubNotifier{err: errors.New("fcm down")}}.TripRequested(context.Background(), models.Ambulance{}, models.Trip{})
	assert.ErrorIs(t, err, ErrNoSession)
}
