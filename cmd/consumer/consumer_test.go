package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/models"
)

// flakyFleet fails the first fail upserts.
type flakyFleet struct {
	mu    sync.Mutex
	fail  int
	calls int
	got   []models.Ambulance
}

func (f *flakyFleet) Upsert(_ context.Context, a models.Ambulance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return errors.New("redis down")
	}
	f.got = append(f.got, a)
	return nil
}

func (f *flakyFleet) Nearby(context.Context, models.Coord, int) ([]models.Ambulance, error) {
	return nil, nil
}

func TestUpsertWithRetrySucceedsAfterRetries(t *testing.T) {
	f := &flakyFleet{fail: 2}
	start := time.Now()
	err := upsertWithRetry(context.Background(), f, models.Ambulance{Plate: "OD-02-AB-1234"}, 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestUpsertWithRetryFailsWhenExhausted(t *testing.T) {
	f := &flakyFleet{fail: 5}
	err := upsertWithRetry(context.Background(), f, models.Ambulance{Plate: "OD-02-AB-1234"}, 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, f.calls)
}

func TestAmbulanceFromEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := ambulanceFromEvent(models.LocationEvent{Plate: "OD-02-AB-1234", Driver: "Ravi", Loc: models.Coord{Lat: 20.3, Lng: 85.8}, Timestamp: ts})
	assert.Equal(t, models.AmbulanceAvailable, a.Status)
	pos, ok := a.Position()
	require.True(t, ok)
	assert.Equal(t, models.Coord{Lat: 20.3, Lng: 85.8}, pos)
	assert.Equal(t, ts, *a.LastUpdated)
}

// sliceReader serves queued messages, then blocks until ctx ends.
type sliceReader struct {
	msgs []kafka.Message
}

func (s *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeSkipsInvalidMessages(t *testing.T) {
	good, err := json.Marshal(models.LocationEvent{Plate: "OD-02-AB-1234", Status: models.AmbulanceBusy, Loc: models.Coord{Lat: 20.3, Lng: 85.8}})
	require.NoError(t, err)
	r := &sliceReader{msgs: []kafka.Message{
		{Value: []byte("not json")},
		{Value: []byte(`{"loc":{"lat":1,"lng":2}}`)},
		{Key: []byte("OD-02-AB-1234"), Value: good},
	}}
	f := &flakyFleet{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	consume(ctx, r, f, zap.NewNop())

	require.Len(t, f.got, 1)
	assert.Equal(t, models.AmbulanceBusy, f.got[0].Status)
}
