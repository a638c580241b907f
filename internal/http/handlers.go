package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/geo"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/ride"
)

// NearbyFinder answers radius queries over mirrored driver positions.
// *geo.RedisMirror implements it.
type NearbyFinder interface {
	Nearby(ctx context.Context, c geo.Coordinate, radiusKm float64, limit int) ([]geo.Position, error)
}

type Server struct {
	Rides *ride.Service
	WSReg *dispatch.WSRegistry
	// Positions backs GET /api/v1/drivers/nearby. When nil the route
	// answers 503.
	Positions NearbyFinder
	logger    *slog.Logger
	mux       *mux.Router
}

// NewServer wires the routes over svc. wsreg may be nil, in which case the
// websocket route is not registered.
func NewServer(svc *ride.Service, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Rides: svc, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/drivers", s.handleCreateDriver).Methods("POST")
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods("GET")
	api.HandleFunc("/passengers", s.handleCreatePassenger).Methods("POST")
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/completed", s.handleCompletedRides).Methods("GET")
	api.HandleFunc("/rides/{request_id}/assign", s.handleAssign).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/analytics/simple", s.handleSimpleAnalytics).Methods("GET")
	api.HandleFunc("/analytics/advanced", s.handleAdvancedAnalytics).Methods("GET")
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/state/save", s.handleSaveState).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.WSReg != nil {
		s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type vehicleBody struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	LicensePlate string `json:"license_plate"`
}

type driverBody struct {
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Location *geo.Coordinate `json:"location"`
	Vehicle  vehicleBody     `json:"vehicle"`
}

type passengerBody struct {
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Location *geo.Coordinate `json:"location"`
}

type rideRequestBody struct {
	PassengerID string          `json:"passenger_id"`
	Pickup      *geo.Coordinate `json:"pickup"`
	Dropoff     *geo.Coordinate `json:"dropoff"`
}

type completeBody struct {
	Rating         float64 `json:"rating"`
	ActualDistance float64 `json:"actual_distance"`
	FinalFare      float64 `json:"final_fare"`
}

func (s *Server) handleCreateDriver(w http.ResponseWriter, r *http.Request) {
	var body driverBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Name == "" || body.Location == nil {
		writeMessage(w, http.StatusBadRequest, "name and location are required")
		return
	}
	v := models.NewVehicle(body.Vehicle.Make, body.Vehicle.Model, body.Vehicle.LicensePlate)
	d := models.NewDriver(body.Name, body.Phone, *body.Location, v)
	if err := s.Rides.AddDriver(r.Context(), d); err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.Rides.DriverRecord(d.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleCreatePassenger(w http.ResponseWriter, r *http.Request) {
	var body passengerBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Name == "" || body.Location == nil {
		writeMessage(w, http.StatusBadRequest, "name and location are required")
		return
	}
	p := models.NewPassenger(body.Name, body.Phone, *body.Location)
	if err := s.Rides.AddPassenger(p); err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.Rides.PassengerRecord(p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Pickup == nil || body.Dropoff == nil {
		writeMessage(w, http.StatusBadRequest, "pickup and dropoff are required")
		return
	}
	req, err := s.Rides.RequestRide(body.PassengerID, *body.Pickup, *body.Dropoff)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.Rides.RequestRecord(req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Rides.AssignRide(r.Context(), mux.Vars(r)["request_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRide(w, http.StatusCreated, rd.ID)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if !s.decode(w, r, &body) {
		return
	}
	id := mux.Vars(r)["ride_id"]
	if err := s.Rides.CompleteRide(r.Context(), id, body.Rating, body.ActualDistance, body.FinalFare); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeRide(w, http.StatusOK, id)
}

func (s *Server) writeRide(w http.ResponseWriter, status int, id string) {
	rec, err := s.Rides.RideRecord(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, rec)
}

func (s *Server) handleCompletedRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	by := ride.SortKey(strings.ToLower(q.Get("sort_by")))
	if by == "" {
		by = ride.SortByRating
	}
	if by != ride.SortByDistance && by != ride.SortByRating {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid sort_by %q", by))
		return
	}
	desc := true
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		writeMessage(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	rides := s.Rides.SortCompletedRidesOrder(by, desc)
	writeJSON(w, http.StatusOK, s.Rides.RideRecords(rides))
}

func (s *Server) handleSimpleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Rides.SimpleAnalytics())
}

func (s *Server) handleAdvancedAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Rides.AdvancedAnalytics())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Rides.Snapshot())
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	if err := s.Rides.Save(r.Context()); err != nil {
		s.logger.Error("state save failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "save failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type nearbyRecord struct {
	ID        string         `json:"id"`
	Location  geo.Coordinate `json:"location"`
	Geohash   string         `json:"geohash"`
	Rating    float64        `json:"rating"`
	Available bool           `json:"is_available"`
}

const (
	defaultNearbyRadiusKm = 5.0
	defaultNearbyLimit    = 10
	maxNearbyLimit        = 100
)

// handleNearbyDrivers reads the Redis mirror, not the in-memory roster, so
// results may trail the latest assignment by one update.
func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	if s.Positions == nil {
		writeMessage(w, http.StatusServiceUnavailable, "position mirror not configured")
		return
	}
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeMessage(w, http.StatusBadRequest, "lat and lon are required numbers")
		return
	}
	at, err := geo.NewCoordinate(lat, lon)
	if err != nil {
		s.writeError(w, err)
		return
	}
	radius := defaultNearbyRadiusKm
	if v := q.Get("radius_km"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || !(radius > 0) || math.IsInf(radius, 0) {
			writeMessage(w, http.StatusBadRequest, "radius_km must be a positive number")
			return
		}
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxNearbyLimit {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxNearbyLimit))
			return
		}
	}

	found, err := s.Positions.Nearby(r.Context(), at, radius, limit)
	if err != nil {
		s.logger.Error("nearby lookup failed", "error", err)
		writeMessage(w, http.StatusBadGateway, "position mirror unavailable")
		return
	}
	out := make([]nearbyRecord, 0, len(found))
	for _, p := range found {
		out = append(out, nearbyRecord{ID: p.ID, Location: p.Loc, Geohash: geo.Cell(p.Loc), Rating: p.Rating, Available: p.Available})
	}
	writeJSON(w, http.StatusOK, out)
}

var upgrader = websocket.Upgrader{}

// handleWS registers the driver's session and keeps it until the client
// goes away. Assignments are pushed by the registry; inbound frames are
// discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	if _, err := s.Rides.Driver(id); err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	s.logger.Info("ws_connected", "driver_id", id)
	go func() {
		defer func() {
			s.WSReg.Remove(id, conn)
			_ = conn.Close()
			s.logger.Info("ws_disconnected", "driver_id", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, geo.ErrValidation),
		errors.Is(err, ride.ErrInvalidRequest),
		errors.Is(err, ride.ErrInvalidCompletion),
		errors.Is(err, ride.ErrNilEntity):
		return http.StatusBadRequest
	case errors.Is(err, ride.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ride.ErrNoDriverAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ride.ErrRideAlreadyCompleted),
		errors.Is(err, ride.ErrRequestNotPending),
		errors.Is(err, ride.ErrDuplicateID):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		writeMessage(w, status, "internal error")
		return
	}
	writeMessage(w, status, err.Error())
}

// errorBody is the shape of every non-2xx JSON response.
type errorBody struct {
	Error string `json:"error"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
