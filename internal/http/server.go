package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/apperr"
	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/dashboard"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/driver"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/geocode"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/payments"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/trip"
)

// Geocoder is the address lookup the API proxies.
type Geocoder interface {
	Search(ctx context.Context, q string) ([]geocode.Place, error)
	Reverse(ctx context.Context, loc models.Coord) (geocode.Place, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps wires the API to the rest of the service. Fleet, Geocoder, Router,
// Payments, Events and Hub are optional.
type Deps struct {
	Store       storage.Store
	Booking     *booking.Service
	Hospitals   *hospitals.Directory
	Fleet       geo.Fleet
	Geocoder    Geocoder
	Router      routing.Router
	Payments    payments.FareHolder
	Events      ingest.Publisher
	Hub         *dispatch.Hub
	Dashboard   *dashboard.Reconciler
	Logger      *zap.Logger
	CORSOrigins []string
	Checks      []Check
}

type Server struct {
	Deps
	logger  *zap.Logger
	mux     *mux.Router
	handler http.Handler
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = ingest.Discard{}
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{Deps: d, logger: d.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})(s.mux)
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/ambulances", s.handleRegister).Methods("POST")
	api.HandleFunc("/ambulances/available", s.handleAvailable).Methods("GET")
	api.HandleFunc("/ambulances/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/ambulances/{plate}", s.handleAmbulance).Methods("GET")
	api.HandleFunc("/ambulances/{plate}/location", s.handleLocation).Methods("POST")

	api.HandleFunc("/bookings", s.handleBook).Methods("POST")
	api.HandleFunc("/bookings/emergency", s.handleEmergency).Methods("POST")

	api.HandleFunc("/trips/{id}", s.handleTrip).Methods("GET")
	api.HandleFunc("/trips/{id}/guidance", s.handleGuidance).Methods("GET")
	api.HandleFunc("/trips/{id}/reassign", s.handleReassign).Methods("POST")
	api.HandleFunc("/trips/{id}/{action:accept|reject|pickup|complete}", s.handleTripAction).Methods("POST")

	api.HandleFunc("/dashboard", s.handleDashboard).Methods("GET")
	api.HandleFunc("/hospitals", s.handleHospitals).Methods("GET")
	api.HandleFunc("/geocode/search", s.handleGeocodeSearch).Methods("GET")
	api.HandleFunc("/geocode/reverse", s.handleGeocodeReverse).Methods("GET")

	s.mux.HandleFunc("/ws/dashboard", s.handleWSDashboard)
	s.mux.HandleFunc("/ws/trips/{id}", s.handleWSTrip)
	s.mux.HandleFunc("/ws/ambulances/{plate}", s.handleWSAmbulance)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.HandleFunc("/readyz", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, geocode.ErrQueryTooShort):
		return http.StatusBadRequest
	case errors.Is(err, trip.ErrNotAssigned):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, geocode.ErrNotFound), errors.Is(err, hospitals.ErrUnknown):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrBusy),
		errors.Is(err, trip.ErrNotActive),
		errors.Is(err, driver.ErrNoActiveTrip):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrExternal):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Warn("request failed",
			zap.String("route", routeTemplate(r)),
			zap.Int("status", code),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error(), RequestID: requestIDFromContext(r.Context())})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, c := range s.Checks {
		if err := c.Fn(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
