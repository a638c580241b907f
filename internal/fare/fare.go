package fare

import (
	"errors"
	"math"
)

const (
	DefaultBaseFare        = 2.50
	DefaultDistanceRate    = 0.50 // per km
	DefaultTimeRate        = 0.20 // per minute
	DefaultAssumedSpeedKmh = 30.0
)

// Config holds the tariff. AssumedSpeedKmh converts trip distance into
// billable minutes and is unrelated to the matcher's arrival speed.
type Config struct {
	BaseFare        float64
	DistanceRate    float64
	TimeRate        float64
	AssumedSpeedKmh float64
}

func DefaultConfig() Config {
	return Config{
		BaseFare:        DefaultBaseFare,
		DistanceRate:    DefaultDistanceRate,
		TimeRate:        DefaultTimeRate,
		AssumedSpeedKmh: DefaultAssumedSpeedKmh,
	}
}

func (c Config) Validate() error {
	switch {
	case c.BaseFare < 0:
		return errors.New("base fare must not be negative")
	case c.DistanceRate < 0:
		return errors.New("distance rate must not be negative")
	case c.TimeRate < 0:
		return errors.New("time rate must not be negative")
	case c.AssumedSpeedKmh <= 0:
		return errors.New("assumed speed must be greater than 0")
	}
	return nil
}

type Estimator struct {
	cfg Config
}

func NewEstimator(cfg Config) *Estimator {
	if cfg.AssumedSpeedKmh <= 0 {
		cfg.AssumedSpeedKmh = DefaultAssumedSpeedKmh
	}
	return &Estimator{cfg: cfg}
}

// Minutes is the billable trip time for distanceKm at the assumed speed.
func (e *Estimator) Minutes(distanceKm float64) float64 {
	return distanceKm / e.cfg.AssumedSpeedKmh * 60
}

// Estimate returns base + distance + time charges, rounded to cents half away
// from zero.
func (e *Estimator) Estimate(distanceKm float64) float64 {
	fare := e.cfg.BaseFare + distanceKm*e.cfg.DistanceRate + e.Minutes(distanceKm)*e.cfg.TimeRate
	return Round2(fare)
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }
