package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the sphere radius used by Distance.
const EarthRadiusKm = 6371.0

var ErrValidation = errors.New("invalid coordinate")

// Coordinate is an immutable latitude/longitude pair in degrees.
// The zero value is the point (0, 0).
type Coordinate struct {
	lat float64
	lon float64
}

// NewCoordinate validates lat in [-90, 90] and lon in [-180, 180], bounds inclusive.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrValidation, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrValidation, lon)
	}
	return Coordinate{lat: lat, lon: lon}, nil
}

// MustCoordinate is NewCoordinate for literals known to be valid. It panics otherwise.
func MustCoordinate(lat, lon float64) Coordinate {
	c, err := NewCoordinate(lat, lon)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Coordinate) Lat() float64 { return c.lat }
func (c Coordinate) Lon() float64 { return c.lon }

// Equal reports exact equality of both components.
func (c Coordinate) Equal(o Coordinate) bool {
	return c.lat == o.lat && c.lon == o.lon
}

func (c Coordinate) String() string {
	return fmt.Sprintf("Location(lat=%.4f, lon=%.4f)", c.lat, c.lon)
}

type wireCoordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCoordinate{Lat: c.lat, Lon: c.lon})
}

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	var w wireCoordinate
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v, err := NewCoordinate(w.Lat, w.Lon)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Distance is the great-circle distance in kilometers (haversine).
func Distance(a, b Coordinate) float64 {
	return Haversine(a.lat, a.lon, b.lat, b.lon)
}

// Haversine distance in kilometers
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}
