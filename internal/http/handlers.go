package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/apperr"
	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/dashboard"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/driver"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/trip"
	"github.com/example/ambulance-dispatch/internal/validation"
)

type registerRequest struct {
	Name        string `json:"name"`
	Plate       string `json:"plate"`
	Hospital    string `json:"hospital"`
	DeviceToken string `json:"deviceToken"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := driver.Register(r.Context(), s.Store, s.Hospitals, req.Name, req.Plate, req.Hospital)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tok := strings.TrimSpace(req.DeviceToken); tok != "" {
		if err := s.Store.UpdateAmbulance(r.Context(), a.Plate, models.AmbulanceUpdate{DeviceToken: &tok}); err != nil {
			s.writeError(w, r, apperr.External("store device token", err))
			return
		}
		a.DeviceToken = tok
	}
	s.logger.Info("ambulance registered", zap.String("plate", a.Plate), zap.String("driver", a.Driver))
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleAmbulance(w http.ResponseWriter, r *http.Request) {
	a, err := s.Store.Ambulance(r.Context(), mux.Vars(r)["plate"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type locationRequest struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// handleLocation is the HTTP variant of the driver's location publisher,
// for devices that post fixes instead of running the CLI.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !validation.ValidateCoordinates(req.Lat, req.Lng) {
		s.writeError(w, r, apperr.Validation("coordinates out of range"))
		return
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}
	sess, err := s.session(r.Context(), mux.Vars(r)["plate"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pub := &driver.Publisher{Store: s.Store, Session: sess, Events: s.Events, Log: s.logger}
	pub.Publish(r.Context(), models.Fix{Coord: models.Coord{Lat: req.Lat, Lng: req.Lng}, At: req.At})

	if s.Fleet != nil {
		a, err := s.Store.Ambulance(r.Context(), sess.Identity().Plate)
		if err == nil {
			err = s.Fleet.Upsert(r.Context(), a)
		}
		if err != nil {
			s.logger.Warn("fleet index update failed", zap.String("plate", sess.Identity().Plate), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func queryCoord(r *http.Request) (*models.Coord, error) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil || !validation.ValidateCoordinates(lat, lng) {
		return nil, apperr.Validation("invalid lat/lng")
	}
	return &models.Coord{Lat: lat, Lng: lng}, nil
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	pickup, err := queryCoord(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cands, err := s.Booking.Available(r.Context(), booking.Request{Pickup: pickup, Hospital: r.URL.Query().Get("hospital")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cands)
}

// handleNearby answers from the geo index fed by the location consumer.
func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if s.Fleet == nil {
		s.writeError(w, r, apperr.Unavailable("fleet index not configured"))
		return
	}
	c, err := queryCoord(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if c == nil {
		s.writeError(w, r, apperr.Validation("lat and lng are required"))
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	ambs, err := s.Fleet.Nearby(r.Context(), *c, limit)
	if err != nil {
		s.writeError(w, r, apperr.External("fleet lookup", err))
		return
	}
	writeJSON(w, http.StatusOK, ambs)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	s.book(w, r, s.Booking.Book)
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	s.book(w, r, s.Booking.Emergency)
}

func (s *Server) book(w http.ResponseWriter, r *http.Request, fn func(context.Context, booking.Request) (booking.Result, error)) {
	var req booking.Request
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := fn(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.Trip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type reassignRequest struct {
	AmbulanceID string `json:"ambulanceId"`
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	res, err := s.Booking.Reassign(r.Context(), mux.Vars(r)["id"], req.AmbulanceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type actionRequest struct {
	Plate string `json:"plate"`
}

// handleTripAction runs a driver action on behalf of the ambulance named in
// the body, or the trip's assigned ambulance when the body names none.
func (s *Server) handleTripAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	var req actionRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Plate == "" {
		t, err := s.Store.Trip(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Plate = t.AmbulancePlate
	}
	sess, err := s.session(r.Context(), req.Plate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var t models.Trip
	switch vars["action"] {
	case "accept":
		t, err = sess.Accept(r.Context(), id)
	case "reject":
		t, err = sess.Reject(r.Context(), id)
	case "pickup", "complete":
		if sess.ActiveTrip() != id {
			err = trip.ErrNotActive
			break
		}
		if vars["action"] == "pickup" {
			t, err = sess.PickUp(r.Context())
		} else {
			t, err = sess.Complete(r.Context())
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type guidanceResponse struct {
	Trip         models.Trip   `json:"trip"`
	RouteTarget  string        `json:"route_target"`
	ShowHospital bool          `json:"show_hospital"`
	Clear        bool          `json:"clear"`
	Route        *models.Route `json:"route,omitempty"`
}

func (s *Server) handleGuidance(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.Trip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.session(r.Context(), t.AmbulancePlate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g := sess.Guide(r.Context(), t)
	writeJSON(w, http.StatusOK, guidanceResponse{
		Trip:         t,
		RouteTarget:  g.Reaction.Route.String(),
		ShowHospital: g.Reaction.ShowHospital,
		Clear:        g.Reaction.Clear,
		Route:        g.Route,
	})
}

// session rebuilds a driver session for plate from the stored records.
func (s *Server) session(ctx context.Context, plate string) (*driver.Session, error) {
	if plate == "" {
		return nil, apperr.Validation("ambulance plate is required")
	}
	a, err := s.Store.Ambulance(ctx, plate)
	if err != nil {
		return nil, err
	}
	sess := driver.NewSession(s.Store, driver.Identity{Name: a.Driver, Plate: a.Plate, Hospital: a.Hospital}, driver.Options{
		Events:   s.Events,
		Payments: s.Payments,
		Router:   s.Router,
		Log:      s.logger,
	})
	if pos, ok := a.Position(); ok {
		sess.SetPosition(pos)
	}
	if err := sess.Resume(ctx); err != nil {
		return nil, apperr.External("resume driver session", err)
	}
	return sess, nil
}

func (s *Server) dashboardViews() []dashboard.View {
	if s.Dashboard == nil {
		return []dashboard.View{}
	}
	return s.Dashboard.Views(time.Now())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboardViews())
}

func (s *Server) handleHospitals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, s.Hospitals.All())
		return
	}
	writeJSON(w, http.StatusOK, s.Hospitals.Search(q))
}

func (s *Server) handleGeocodeSearch(w http.ResponseWriter, r *http.Request) {
	if s.Geocoder == nil {
		s.writeError(w, r, apperr.Unavailable("geocoding not configured"))
		return
	}
	places, err := s.Geocoder.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (s *Server) handleGeocodeReverse(w http.ResponseWriter, r *http.Request) {
	if s.Geocoder == nil {
		s.writeError(w, r, apperr.Unavailable("geocoding not configured"))
		return
	}
	c, err := queryCoord(r)
	if err == nil && c == nil {
		err = apperr.Validation("lat and lng are required")
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Geocoder.Reverse(r.Context(), *c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleWSDashboard(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, dispatch.TopicDashboard, dispatch.Message{Type: "snapshot", Data: s.dashboardViews()})
}

func (s *Server) handleWSTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.Trip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveWS(w, r, dispatch.TripTopic(t.ID), dispatch.Message{Type: "trip", Data: t})
}

func (s *Server) handleWSAmbulance(w http.ResponseWriter, r *http.Request) {
	a, err := s.Store.Ambulance(r.Context(), mux.Vars(r)["plate"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveWS(w, r, dispatch.AmbulanceTopic(a.Plate), dispatch.Message{Type: "ambulance", Data: a})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, topic dispatch.Topic, initial interface{}) {
	if s.Hub == nil {
		s.writeError(w, r, apperr.Unavailable("live updates not configured"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("topic", string(topic)), zap.Error(err))
		return
	}
	s.Hub.Serve(topic, conn, initial)
}
