// Package dispatch delivers trip activity to connected clients: live
// dashboards and requesters over websocket, drivers over websocket or FCM.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/dashboard"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

var ErrNoSession = errors.New("no websocket session")

// Topic names a stream a client subscribes to.
type Topic string

const TopicDashboard Topic = "dashboard"

func TripTopic(id string) Topic         { return Topic("trip:" + id) }
func AmbulanceTopic(plate string) Topic { return Topic("ambulance:" + plate) }

// Message is the envelope of everything written to a socket.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	topic Topic
	conn  *websocket.Conn
	send  chan []byte
}

// Hub tracks websocket clients by topic. A client whose buffer fills up is
// dropped rather than slowing down the publisher.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[Topic]map[*client]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: make(map[Topic]map[*client]struct{})}
}

// Serve registers conn under topic and pumps messages until the peer goes
// away. It blocks; run it from the upgrade handler.
func (h *Hub) Serve(topic Topic, conn *websocket.Conn, initial interface{}) {
	c := &client{topic: topic, conn: conn, send: make(chan []byte, sendBuffer)}
	if initial != nil {
		if b, err := json.Marshal(initial); err == nil {
			c.send <- b
		}
	}
	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*client]struct{})
	}
	h.clients[topic][c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client connected", zap.String("topic", string(topic)))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.topic]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.topic)
	}
	close(c.send)
}

// readPump only drains control frames; clients never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error", zap.String("topic", string(c.topic)), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends v to every client on topic and reports how many got it.
func (h *Hub) Broadcast(topic Topic, v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("websocket marshal failed", zap.String("topic", string(topic)), zap.Error(err))
		return 0
	}
	h.mu.RLock()
	var slow []*client
	sent := 0
	for c := range h.clients[topic] {
		select {
		case c.send <- b:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("websocket client too slow, dropping", zap.String("topic", string(topic)))
		h.remove(c)
	}
	return sent
}

func (h *Hub) Clients(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Publish implements dashboard.Sink.
func (h *Hub) Publish(u dashboard.Update) {
	h.Broadcast(TopicDashboard, Message{Type: "dashboard", Data: u})
}

// TripRequested offers the trip to a driver app connected over websocket.
func (h *Hub) TripRequested(_ context.Context, a models.Ambulance, t models.Trip) error {
	if h.Broadcast(AmbulanceTopic(a.Plate), Message{Type: "trip_requested", Data: t}) == 0 {
		return ErrNoSession
	}
	return nil
}

// Follow streams every observed trip status change to the trip's topic
// until ctx ends.
func (h *Hub) Follow(ctx context.Context, st storage.Store) {
	obs := trip.NewObserver()
	for snap := range st.WatchTrips(ctx) {
		for _, c := range obs.Observe(snap) {
			ev := models.TripEvent{TripID: c.Trip.ID, Plate: c.Trip.AmbulancePlate, From: c.From, To: c.Trip.Status, Timestamp: time.Now().UTC()}
			h.Broadcast(TripTopic(c.Trip.ID), Message{Type: "trip_status", Data: struct {
				Event models.TripEvent `json:"event"`
				Trip  models.Trip      `json:"trip"`
			}{ev, c.Trip}})
		}
	}
}
