package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/geo"
	"github.com/example/ride-sharing/internal/matcher"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
	"github.com/example/ride-sharing/internal/storage"
)

var (
	ErrInvalidRequest       = errors.New("invalid ride request")
	ErrNoDriverAvailable    = matcher.ErrNoDriverAvailable
	ErrNotFound             = errors.New("not found")
	ErrNilEntity            = errors.New("nil entity")
	ErrDuplicateID          = errors.New("duplicate id")
	ErrRequestNotPending    = errors.New("ride request is not pending")
	ErrRideAlreadyCompleted = errors.New("ride already completed")
	ErrInvalidCompletion    = errors.New("invalid completion")
)

// EventPublisher receives ride lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.RideEvent) error
}

// PositionMirror receives driver positions after every change.
type PositionMirror interface {
	Upsert(ctx context.Context, p geo.Position) error
}

type Config struct {
	Matcher matcher.Config
	Fare    fare.Config
}

func DefaultConfig() Config {
	return Config{Matcher: matcher.DefaultConfig(), Fare: fare.DefaultConfig()}
}

// Deps are the collaborators of the service. Every field is optional.
type Deps struct {
	Logger   *slog.Logger
	Notifier dispatch.Notifier
	Events   EventPublisher
	Mirror   PositionMirror
	Store    storage.Store
	Now      func() time.Time
}

// Service owns drivers, passengers, requests and rides and runs the ride
// lifecycle over them. All methods are safe for concurrent use; one mutex
// serializes every mutation so a driver is never matched twice.
type Service struct {
	mu sync.Mutex

	drivers    []*models.Driver
	passengers []*models.Passenger
	requests   []*models.RideRequest
	rides      []*models.Ride

	driverIdx    map[string]*models.Driver
	passengerIdx map[string]*models.Passenger
	requestIdx   map[string]*models.RideRequest
	rideIdx      map[string]*models.Ride

	matcher *matcher.Matcher
	fares   *fare.Estimator

	logger   *slog.Logger
	notifier dispatch.Notifier
	events   EventPublisher
	mirror   PositionMirror
	store    storage.Store
	now      func() time.Time
}

func NewService(cfg Config, deps Deps) *Service {
	s := &Service{
		driverIdx:    make(map[string]*models.Driver),
		passengerIdx: make(map[string]*models.Passenger),
		requestIdx:   make(map[string]*models.RideRequest),
		rideIdx:      make(map[string]*models.Ride),
		matcher:      matcher.New(cfg.Matcher),
		fares:        fare.NewEstimator(cfg.Fare),
		logger:       deps.Logger,
		notifier:     deps.Notifier,
		events:       deps.Events,
		mirror:       deps.Mirror,
		store:        deps.Store,
		now:          deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = &dispatch.LogDispatcher{Logger: s.logger}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) AddDriver(ctx context.Context, d *models.Driver) error {
	if d == nil {
		return fmt.Errorf("add driver: %w", ErrNilEntity)
	}
	s.mu.Lock()
	if d.ID == "" {
		d.ID = models.NewID()
	}
	if _, ok := s.driverIdx[d.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("driver %s: %w", d.ID, ErrDuplicateID)
	}
	if d.Vehicle == nil {
		d.Vehicle = &models.Vehicle{}
	}
	s.drivers = append(s.drivers, d)
	s.driverIdx[d.ID] = d
	if d.Available {
		observability.DriversAvailable.Inc()
	}
	pos := position(d)
	s.mu.Unlock()

	s.mirrorPosition(ctx, pos)
	return nil
}

func (s *Service) AddPassenger(p *models.Passenger) error {
	if p == nil {
		return fmt.Errorf("add passenger: %w", ErrNilEntity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = models.NewID()
	}
	if _, ok := s.passengerIdx[p.ID]; ok {
		return fmt.Errorf("passenger %s: %w", p.ID, ErrDuplicateID)
	}
	s.passengers = append(s.passengers, p)
	s.passengerIdx[p.ID] = p
	return nil
}

// RequestRide stores a Pending request. Pickup and dropoff must differ.
func (s *Service) RequestRide(passengerID string, pickup, dropoff geo.Coordinate) (*models.RideRequest, error) {
	if pickup.Equal(dropoff) {
		return nil, fmt.Errorf("%w: pickup and dropoff locations cannot be the same", ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passengerIdx[passengerID]
	if !ok {
		return nil, fmt.Errorf("passenger %s: %w", passengerID, ErrNotFound)
	}
	req := &models.RideRequest{
		ID:          models.NewID(),
		PassengerID: p.ID,
		Pickup:      pickup,
		Dropoff:     dropoff,
		CreatedAt:   s.now(),
		Status:      models.RequestPending,
	}
	s.requests = append(s.requests, req)
	s.requestIdx[req.ID] = req
	observability.RidesRequestedTotal.Inc()
	s.logger.Info("ride_requested", "request_id", req.ID, "passenger", p.Name, "pickup", pickup.String(), "dropoff", dropoff.String())
	return req, nil
}

// AssignRide matches the request to a driver and starts the ride. On any
// error nothing is mutated.
func (s *Service) AssignRide(ctx context.Context, requestID string) (*models.Ride, error) {
	s.mu.Lock()
	req, ok := s.requestIdx[requestID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if req.Status != models.RequestPending {
		s.mu.Unlock()
		return nil, fmt.Errorf("request %s is %s: %w", requestID, req.Status, ErrRequestNotPending)
	}
	match, err := s.matcher.Match(req.Pickup, s.drivers)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("match_failed", "request_id", requestID, "error", err)
		return nil, err
	}
	distance := geo.Distance(req.Pickup, req.Dropoff)
	r := &models.Ride{
		ID:                models.NewID(),
		RequestID:         req.ID,
		DriverID:          match.Driver.ID,
		StartTime:         s.now(),
		Fare:              s.fares.Estimate(distance),
		EstimatedDistance: distance,
		Status:            models.RideInProgress,
	}
	s.rides = append(s.rides, r)
	s.rideIdx[r.ID] = r
	match.Driver.Available = false
	req.Status = models.RequestAssigned
	observability.DriversAvailable.Dec()

	assignment := models.Assignment{
		RideID:           r.ID,
		RequestID:        req.ID,
		DriverID:         match.Driver.ID,
		PassengerID:      req.PassengerID,
		Pickup:           req.Pickup,
		Dropoff:          req.Dropoff,
		PickupDistanceKm: match.PickupDistanceKm,
		ArrivalMinutes:   match.ArrivalMinutes,
		Fare:             r.Fare,
	}
	ev := models.RideEvent{
		Type:        models.EventRideAssigned,
		RideID:      r.ID,
		RequestID:   req.ID,
		DriverID:    match.Driver.ID,
		PassengerID: req.PassengerID,
		Fare:        r.Fare,
		DistanceKm:  distance,
		At:          r.StartTime,
	}
	pos := position(match.Driver)
	s.logger.Info("ride_assigned", "ride_id", r.ID, "driver", match.Driver.Name, "fare", r.Fare, "distance_km", distance, "eta_minutes", match.ArrivalMinutes)
	s.mu.Unlock()

	if err := s.notifier.Notify(ctx, assignment); err != nil {
		s.logger.Warn("dispatch failed", "ride_id", r.ID, "driver_id", assignment.DriverID, "error", err)
	}
	s.publish(ctx, ev)
	s.mirrorPosition(ctx, pos)
	return r, nil
}

// CompleteRide finalizes an in-progress ride and updates driver, vehicle and
// passenger statistics. It fails with ErrRideAlreadyCompleted on a second call.
func (s *Service) CompleteRide(ctx context.Context, rideID string, rating, actualDistance, finalFare float64) error {
	if !finite(rating) || rating < 0 || rating > 5 {
		return fmt.Errorf("%w: rating %v outside [0, 5]", ErrInvalidCompletion, rating)
	}
	if !finite(actualDistance) || !finite(finalFare) || actualDistance < 0 || finalFare < 0 {
		return fmt.Errorf("%w: distance and fare must be finite and not negative", ErrInvalidCompletion)
	}

	s.mu.Lock()
	r, ok := s.rideIdx[rideID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("ride %s: %w", rideID, ErrNotFound)
	}
	if r.Status == models.RideCompleted {
		s.mu.Unlock()
		return fmt.Errorf("ride %s: %w", rideID, ErrRideAlreadyCompleted)
	}
	req := s.requestIdx[r.RequestID]
	d := s.driverIdx[r.DriverID]
	p := s.passengerIdx[req.PassengerID]

	end := s.now()
	r.EndTime = &end
	r.Status = models.RideCompleted
	d.UpdateLocation(req.Dropoff)
	d.CompleteRide(finalFare, rating)
	d.Vehicle.AddMileage(actualDistance)
	if p != nil {
		p.CompleteRide()
	}
	observability.DriversAvailable.Inc()
	observability.RidesCompletedTotal.Inc()
	observability.FareTotal.Add(finalFare)

	ev := models.RideEvent{
		Type:        models.EventRideCompleted,
		RideID:      r.ID,
		RequestID:   r.RequestID,
		DriverID:    d.ID,
		PassengerID: req.PassengerID,
		Fare:        finalFare,
		DistanceKm:  actualDistance,
		Rating:      rating,
		At:          end,
	}
	pos := position(d)
	s.logger.Info("ride_completed", "ride_id", r.ID, "earnings", finalFare, "driver_rating", d.Rating)
	s.mu.Unlock()

	s.publish(ctx, ev)
	s.mirrorPosition(ctx, pos)
	return nil
}

func (s *Service) publish(ctx context.Context, ev models.RideEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("event publish failed", "type", ev.Type, "ride_id", ev.RideID, "error", err)
	}
}

func (s *Service) mirrorPosition(ctx context.Context, p geo.Position) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Upsert(ctx, p); err != nil {
		s.logger.Warn("position mirror failed", "driver_id", p.ID, "error", err)
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func position(d *models.Driver) geo.Position {
	return geo.Position{ID: d.ID, Loc: d.Location, Rating: d.Rating, Available: d.Available}
}
