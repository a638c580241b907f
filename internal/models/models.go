package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/geo"
)

// RequestStatus values match the status strings of persisted snapshots.
type RequestStatus string

const (
	RequestPending  RequestStatus = "Pending"
	RequestAssigned RequestStatus = "Assigned"
)

type RideStatus string

const (
	RideInProgress RideStatus = "In Progress"
	RideCompleted  RideStatus = "Completed"
)

// DefaultRating is the rating every driver starts with.
const DefaultRating = 5.0

// NewID returns a random UUIDv4 string.
func NewID() string { return uuid.NewString() }

// Identity holds the fields shared by drivers and passengers.
type Identity struct {
	ID       string
	Name     string
	Phone    string
	Location geo.Coordinate
}

// UpdateLocation moves the person to loc.
func (i *Identity) UpdateLocation(loc geo.Coordinate) { i.Location = loc }

type Vehicle struct {
	Make         string
	Model        string
	LicensePlate string
	mileage      float64
}

func NewVehicle(maker, model, plate string) *Vehicle {
	return &Vehicle{Make: maker, Model: model, LicensePlate: plate}
}

func (v *Vehicle) Mileage() float64 { return v.mileage }

// AddMileage increases the odometer. Negative distances are ignored so the
// mileage never decreases.
func (v *Vehicle) AddMileage(km float64) {
	if km > 0 {
		v.mileage += km
	}
}

type Driver struct {
	Identity
	Vehicle    *Vehicle
	Available  bool
	Rating     float64 // 0..5
	TotalRides int
	Earnings   float64
}

// NewDriver builds an available driver with a fresh id and the default rating.
func NewDriver(name, phone string, loc geo.Coordinate, v *Vehicle) *Driver {
	if v == nil {
		v = &Vehicle{}
	}
	return &Driver{
		Identity:  Identity{ID: NewID(), Name: name, Phone: phone, Location: loc},
		Vehicle:   v,
		Available: true,
		Rating:    DefaultRating,
	}
}

// CompleteRide records a finished trip. The rating is a running mean over the
// post-increment ride count.
func (d *Driver) CompleteRide(fare, rating float64) {
	d.TotalRides++
	d.Earnings += fare
	n := float64(d.TotalRides)
	d.Rating = (d.Rating*(n-1) + rating) / n
	d.Available = true
}

type Passenger struct {
	Identity
	TotalRides int
}

func NewPassenger(name, phone string, loc geo.Coordinate) *Passenger {
	return &Passenger{Identity: Identity{ID: NewID(), Name: name, Phone: phone, Location: loc}}
}

func (p *Passenger) CompleteRide() { p.TotalRides++ }

// RideRequest references its passenger by id; the orchestrator resolves it.
type RideRequest struct {
	ID          string
	PassengerID string
	Pickup      geo.Coordinate
	Dropoff     geo.Coordinate
	CreatedAt   time.Time
	Status      RequestStatus
}

// Ride references its request and driver by id.
type Ride struct {
	ID                string
	RequestID         string
	DriverID          string
	StartTime         time.Time
	EndTime           *time.Time
	Fare              float64
	EstimatedDistance float64
	Status            RideStatus
}

// Duration is EndTime-StartTime, or zero for a ride still in progress.
func (r *Ride) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Assignment is sent to a driver when a ride is matched to them.
type Assignment struct {
	RideID           string         `json:"ride_id"`
	RequestID        string         `json:"request_id"`
	DriverID         string         `json:"driver_id"`
	PassengerID      string         `json:"passenger_id"`
	Pickup           geo.Coordinate `json:"pickup"`
	Dropoff          geo.Coordinate `json:"dropoff"`
	PickupDistanceKm float64        `json:"pickup_distance_km"`
	ArrivalMinutes   float64        `json:"eta_minutes"`
	Fare             float64        `json:"fare"`
}

type EventType string

const (
	EventRideAssigned  EventType = "ride.assigned"
	EventRideCompleted EventType = "ride.completed"
)

// RideEvent is published on every ride lifecycle transition.
type RideEvent struct {
	Type        EventType `json:"type"`
	RideID      string    `json:"ride_id"`
	RequestID   string    `json:"request_id"`
	DriverID    string    `json:"driver_id"`
	PassengerID string    `json:"passenger_id"`
	Fare        float64   `json:"fare"`
	DistanceKm  float64   `json:"distance_km"`
	Rating      float64   `json:"rating,omitempty"`
	At          time.Time `json:"at"`
}
