package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/example/ride-sharing/internal/geo"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/ride"
	"github.com/example/ride-sharing/internal/storage"
)

// simulate runs a fixed two-driver scenario through the full lifecycle and
// writes the resulting state file.
func main() {
	var statePath, level string
	flag.StringVar(&statePath, "state", storage.DefaultStateFile, "path of the state file to write")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	logger := logging.New(os.Stdout, level, false)
	svc := ride.NewService(ride.DefaultConfig(), ride.Deps{
		Logger: logger,
		Store:  storage.NewFileStore(statePath),
	})
	ctx := context.Background()

	passengers, err := setup(ctx, svc)
	if err != nil {
		logger.Error("setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("setup complete", "drivers", len(svc.Drivers()), "passengers", len(passengers))

	run(ctx, svc, logger, passengers[0])

	if err := svc.Save(ctx); err != nil {
		logger.Error("save failed", "error", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, svc *ride.Service) ([]*models.Passenger, error) {
	drivers := []*models.Driver{
		models.NewDriver("Ahmet Yilmaz", "555-1000", geo.MustCoordinate(41.0082, 28.9784), models.NewVehicle("Toyota", "Corolla", "34 ABC 123")),
		models.NewDriver("Buse Kaya", "555-2000", geo.MustCoordinate(41.0401, 29.0069), models.NewVehicle("Renault", "Clio", "34 DEF 456")),
	}
	for _, d := range drivers {
		if err := svc.AddDriver(ctx, d); err != nil {
			return nil, err
		}
	}
	passengers := []*models.Passenger{
		models.NewPassenger("Emirhan Kuluk", "555-4000", geo.MustCoordinate(41.0345, 29.0000)),
		models.NewPassenger("Ayse Celik", "555-5000", geo.MustCoordinate(41.0100, 28.9700)),
	}
	for _, p := range passengers {
		if err := svc.AddPassenger(p); err != nil {
			return nil, err
		}
	}
	return passengers, nil
}

func run(ctx context.Context, svc *ride.Service, logger *slog.Logger, p *models.Passenger) {
	dropoff := geo.MustCoordinate(40.9850, 29.0596)
	if err := lifecycle(ctx, svc, p, dropoff); err != nil {
		if errors.Is(err, ride.ErrNoDriverAvailable) || errors.Is(err, ride.ErrInvalidRequest) {
			logger.Warn("ride execution error", "error", err)
		} else {
			logger.Error("ride execution failed", "error", err)
		}
	}

	simple := svc.SimpleAnalytics()
	logger.Info("simple analytics", "total_completed", simple.TotalCompleted, "total_fare", simple.TotalFare, "average_duration", simple.AverageDuration)
	adv := svc.AdvancedAnalytics()
	logger.Info("advanced analytics", "total_completed", adv.TotalCompleted, "average_driver_rating", adv.AverageDriverRating)

	for _, r := range svc.SortCompletedRides(ride.SortByRating) {
		d, err := svc.Driver(r.DriverID)
		if err != nil {
			continue
		}
		logger.Info("completed ride", "driver", d.Name, "rating", d.Rating, "distance_km", r.EstimatedDistance)
	}
}

func lifecycle(ctx context.Context, svc *ride.Service, p *models.Passenger, dropoff geo.Coordinate) error {
	req, err := svc.RequestRide(p.ID, p.Location, dropoff)
	if err != nil {
		return err
	}
	r, err := svc.AssignRide(ctx, req.ID)
	if err != nil {
		return err
	}
	return svc.CompleteRide(ctx, r.ID, 4.9, 11.2, 18.50)
}
