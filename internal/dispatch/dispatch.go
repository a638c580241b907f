package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ride-sharing/internal/models"
)

// Notifier tells a driver about a new assignment.
type Notifier interface {
	Notify(ctx context.Context, a models.Assignment) error
}

// HTTPDispatcher posts assignments to a driver app backend.
type HTTPDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPDispatcher(endpoint string) *HTTPDispatcher {
	return &HTTPDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (d *HTTPDispatcher) Notify(ctx context.Context, a models.Assignment) error {
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 2 * time.Second}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogDispatcher only logs; used when no transport is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (l *LogDispatcher) Notify(_ context.Context, a models.Assignment) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dispatch", "ride_id", a.RideID, "driver_id", a.DriverID, "eta_minutes", a.ArrivalMinutes, "fare", a.Fare)
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a models.Assignment) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
