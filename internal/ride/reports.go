package ride

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/storage"
)

type SortKey string

const (
	SortByRating   SortKey = "rating"
	SortByDistance SortKey = "distance"
)

// SimpleReport and AdvancedReport are read-only reports over completed rides.
type SimpleReport struct {
	TotalCompleted     int           `json:"total_completed"`
	TotalFare          float64       `json:"total_fare"`
	AverageDuration    time.Duration `json:"-"`
	AverageDurationSec float64       `json:"average_duration_seconds"`
}

type AdvancedReport struct {
	TotalCompleted      int           `json:"total_completed"`
	AverageDriverRating float64       `json:"average_driver_rating"`
	AverageDuration     time.Duration `json:"-"`
	AverageDurationSec  float64       `json:"average_duration_seconds"`
}

func (s *Service) Driver(id string) (*models.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.driverIdx[id]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (s *Service) Passenger(id string) (*models.Passenger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passengerIdx[id]
	if !ok {
		return nil, fmt.Errorf("passenger %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *Service) Request(id string) (*models.RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requestIdx[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *Service) Ride(id string) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rideIdx[id]
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// Drivers returns the drivers in insertion order. The slice is a copy; the
// drivers are shared.
func (s *Service) Drivers() []*models.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Driver(nil), s.drivers...)
}

func (s *Service) Passengers() []*models.Passenger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Passenger(nil), s.passengers...)
}

func (s *Service) Requests() []*models.RideRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.RideRequest(nil), s.requests...)
}

func (s *Service) Rides() []*models.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Ride(nil), s.rides...)
}

// SortCompletedRides orders completed rides by key, highest first.
func (s *Service) SortCompletedRides(by SortKey) []*models.Ride {
	return s.SortCompletedRidesOrder(by, true)
}

// SortCompletedRidesOrder is SortCompletedRides with the direction chosen by
// the caller. An unknown key yields an empty slice.
func (s *Service) SortCompletedRidesOrder(by SortKey, desc bool) []*models.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key func(r *models.Ride) float64
	switch by {
	case SortByRating:
		key = func(r *models.Ride) float64 { return s.driverIdx[r.DriverID].Rating }
	case SortByDistance:
		key = func(r *models.Ride) float64 { return r.EstimatedDistance }
	default:
		s.logger.Warn("invalid sorting criterion", "sort_by", string(by))
		return []*models.Ride{}
	}

	out := s.completedLocked()
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return key(out[i]) > key(out[j])
		}
		return key(out[i]) < key(out[j])
	})
	return out
}

// SimpleAnalytics reports completed count, summed estimated fare and mean duration.
func (s *Service) SimpleAnalytics() SimpleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed := s.completedLocked()
	mean := meanDuration(completed)
	a := SimpleReport{TotalCompleted: len(completed), AverageDuration: mean, AverageDurationSec: mean.Seconds()}
	for _, r := range completed {
		a.TotalFare += r.Fare
	}
	return a
}

// AdvancedAnalytics reports completed count, mean duration and the mean rating
// over every registered driver, including drivers without rides.
func (s *Service) AdvancedAnalytics() AdvancedReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed := s.completedLocked()
	mean := meanDuration(completed)
	a := AdvancedReport{TotalCompleted: len(completed), AverageDuration: mean, AverageDurationSec: mean.Seconds()}
	if len(s.drivers) > 0 {
		var sum float64
		for _, d := range s.drivers {
			sum += d.Rating
		}
		a.AverageDriverRating = sum / float64(len(s.drivers))
	}
	return a
}

// Snapshot serializes every collection under the lock.
func (s *Service) Snapshot() storage.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := storage.EmptyState()
	for _, d := range s.drivers {
		st.Drivers = append(st.Drivers, d.Record())
	}
	for _, p := range s.passengers {
		st.Passengers = append(st.Passengers, p.Record())
	}
	for _, r := range s.requests {
		st.Requests = append(st.Requests, r.Record())
	}
	for _, r := range s.rides {
		st.Rides = append(st.Rides, r.Record())
	}
	return st
}

// Save writes a snapshot through the configured store.
func (s *Service) Save(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("save state: no store configured")
	}
	st := s.Snapshot()
	if err := s.store.Save(ctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.logger.Info("state_saved", "drivers", len(st.Drivers), "passengers", len(st.Passengers), "requests", len(st.Requests), "rides", len(st.Rides))
	return nil
}

// DriverRecord reads the record under the lock, for callers that serialize
// while other goroutines mutate. The other *Record methods work the same way.
func (s *Service) DriverRecord(id string) (models.DriverRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.driverIdx[id]
	if !ok {
		return models.DriverRecord{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	return d.Record(), nil
}

func (s *Service) PassengerRecord(id string) (models.PassengerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passengerIdx[id]
	if !ok {
		return models.PassengerRecord{}, fmt.Errorf("passenger %s: %w", id, ErrNotFound)
	}
	return p.Record(), nil
}

func (s *Service) RequestRecord(id string) (models.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requestIdx[id]
	if !ok {
		return models.RequestRecord{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return r.Record(), nil
}

func (s *Service) RideRecord(id string) (models.RideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rideIdx[id]
	if !ok {
		return models.RideRecord{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return r.Record(), nil
}

// RideRecords serializes rides under the lock.
func (s *Service) RideRecords(rides []*models.Ride) []models.RideRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RideRecord, 0, len(rides))
	for _, r := range rides {
		out = append(out, r.Record())
	}
	return out
}

func (s *Service) completedLocked() []*models.Ride {
	out := make([]*models.Ride, 0, len(s.rides))
	for _, r := range s.rides {
		if r.Status == models.RideCompleted {
			out = append(out, r)
		}
	}
	return out
}

func meanDuration(rides []*models.Ride) time.Duration {
	if len(rides) == 0 {
		return 0
	}
	var total time.Duration
	for _, r := range rides {
		total += r.Duration()
	}
	return total / time.Duration(len(rides))
}
