package matcher

import (
	"errors"
	"math"
	"time"

	"github.com/example/ride-sharing/internal/geo"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
)

// DefaultAverageSpeedKmPerMin is 30 km/h.
const DefaultAverageSpeedKmPerMin = 0.5

var ErrNoDriverAvailable = errors.New("no available drivers currently")

type Config struct {
	AverageSpeedKmPerMin float64
}

func DefaultConfig() Config {
	return Config{AverageSpeedKmPerMin: DefaultAverageSpeedKmPerMin}
}

// Result is the selected driver with its distance and estimated arrival at the pickup.
type Result struct {
	Driver           *models.Driver
	PickupDistanceKm float64
	ArrivalMinutes   float64
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	if cfg.AverageSpeedKmPerMin <= 0 {
		cfg.AverageSpeedKmPerMin = DefaultAverageSpeedKmPerMin
	}
	return &Matcher{cfg: cfg}
}

// ArrivalMinutes converts a driver-to-pickup distance into minutes.
func (m *Matcher) ArrivalMinutes(distanceKm float64) float64 {
	return distanceKm / m.cfg.AverageSpeedKmPerMin
}

// Match picks the available driver with the smallest estimated arrival time.
// Single greedy pass; ties keep the first driver in slice order.
func (m *Matcher) Match(pickup geo.Coordinate, drivers []*models.Driver) (Result, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	var best Result
	bestArrival := math.Inf(1)
	for _, d := range drivers {
		if d == nil || !d.Available {
			continue
		}
		dist := geo.Distance(d.Location, pickup)
		arrival := m.ArrivalMinutes(dist)
		if arrival < bestArrival {
			bestArrival = arrival
			best = Result{Driver: d, PickupDistanceKm: dist, ArrivalMinutes: arrival}
		}
	}
	if best.Driver == nil {
		observability.MatchFailuresTotal.Inc()
		return Result{}, ErrNoDriverAvailable
	}
	observability.MatchesTotal.Inc()
	return best, nil
}

// Nearest is the plain nearest-by-distance search. With a single shared speed
// it always agrees with Match.
func Nearest(pickup geo.Coordinate, drivers []*models.Driver) (*models.Driver, float64, error) {
	var nearest *models.Driver
	minDist := math.Inf(1)
	for _, d := range drivers {
		if d == nil || !d.Available {
			continue
		}
		if dist := geo.Distance(d.Location, pickup); dist < minDist {
			minDist = dist
			nearest = d
		}
	}
	if nearest == nil {
		return nil, 0, ErrNoDriverAvailable
	}
	return nearest, minDist, nil
}
