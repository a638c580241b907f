package models

import (
	"time"

	"github.com/example/ride-sharing/internal/geo"
)

// Records are the flat, serializable shapes of the entities. Field names follow
// the persisted snapshot format.

type VehicleRecord struct {
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	LicensePlate string  `json:"license_plate"`
	Mileage      float64 `json:"mileage"`
}

type DriverRecord struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone"`
	Location    geo.Coordinate `json:"location"`
	Vehicle     VehicleRecord  `json:"vehicle"`
	IsAvailable bool           `json:"is_available"`
	Rating      float64        `json:"rating"`
	TotalRides  int            `json:"total_rides"`
	Earnings    float64        `json:"earnings"`
}

type PassengerRecord struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone"`
	Location   geo.Coordinate `json:"location"`
	TotalRides int            `json:"total_rides"`
}

type RequestRecord struct {
	ID          string         `json:"id"`
	PassengerID string         `json:"passenger_id"`
	Pickup      geo.Coordinate `json:"pickup"`
	Dropoff     geo.Coordinate `json:"dropoff"`
	Timestamp   string         `json:"timestamp"`
	Status      RequestStatus  `json:"status"`
}

type RideRecord struct {
	ID                string     `json:"id"`
	RequestID         string     `json:"request_id"`
	DriverID          string     `json:"driver_id"`
	StartTime         string     `json:"start_time"`
	EndTime           *string    `json:"end_time"`
	EstimatedDistance float64    `json:"estimated_distance"`
	Fare              float64    `json:"fare"`
	Status            RideStatus `json:"status"`
}

func (v *Vehicle) Record() VehicleRecord {
	if v == nil {
		return VehicleRecord{}
	}
	return VehicleRecord{Make: v.Make, Model: v.Model, LicensePlate: v.LicensePlate, Mileage: v.mileage}
}

func (d *Driver) Record() DriverRecord {
	return DriverRecord{
		ID:          d.ID,
		Name:        d.Name,
		Phone:       d.Phone,
		Location:    d.Location,
		Vehicle:     d.Vehicle.Record(),
		IsAvailable: d.Available,
		Rating:      d.Rating,
		TotalRides:  d.TotalRides,
		Earnings:    d.Earnings,
	}
}

func (p *Passenger) Record() PassengerRecord {
	return PassengerRecord{ID: p.ID, Name: p.Name, Phone: p.Phone, Location: p.Location, TotalRides: p.TotalRides}
}

func (r *RideRequest) Record() RequestRecord {
	return RequestRecord{
		ID:          r.ID,
		PassengerID: r.PassengerID,
		Pickup:      r.Pickup,
		Dropoff:     r.Dropoff,
		Timestamp:   formatTime(r.CreatedAt),
		Status:      r.Status,
	}
}

func (r *Ride) Record() RideRecord {
	rec := RideRecord{
		ID:                r.ID,
		RequestID:         r.RequestID,
		DriverID:          r.DriverID,
		StartTime:         formatTime(r.StartTime),
		EstimatedDistance: r.EstimatedDistance,
		Fare:              r.Fare,
		Status:            r.Status,
	}
	if r.EndTime != nil {
		s := formatTime(*r.EndTime)
		rec.EndTime = &s
	}
	return rec
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }
