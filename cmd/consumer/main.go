package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
)

const earningsKey = "drivers:earnings"

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
	msgsSuperseded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_superseded_total",
		Help: "Assigned events dropped because the ride summary was already completed",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors, msgsSuperseded)
}

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	radapter := &redisAdapter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		ev, err := decodeEvent(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := applyEvent(ctx, radapter, ev, cfg.Attempts, cfg.RetryDelay); err != nil {
			if errors.Is(err, errSuperseded) {
				msgsSuperseded.Inc()
				logger.Info("stale assigned event skipped", "ride_id", ev.RideID, "offset", m.Offset)
				continue
			}
			redisErrors.Inc()
			logger.Error("redis update failed", "ride_id", ev.RideID, "type", ev.Type, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	ZIncrBy(ctx context.Context, key string, incr float64, member string) error
	// HGet returns "" when the key or field does not exist.
	HGet(ctx context.Context, key, field string) (string, error)
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func (r *redisAdapter) ZIncrBy(ctx context.Context, key string, incr float64, member string) error {
	_, err := r.c.ZIncrBy(ctx, key, incr, member).Result()
	return err
}

func (r *redisAdapter) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.c.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

var (
	errUnknownEvent = errors.New("unknown event type")
	errNoRideID     = errors.New("event without ride_id")
	errSuperseded   = errors.New("ride summary already completed")
)

func decodeEvent(b []byte) (models.RideEvent, error) {
	var ev models.RideEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return models.RideEvent{}, err
	}
	if ev.RideID == "" {
		return models.RideEvent{}, errNoRideID
	}
	switch ev.Type {
	case models.EventRideAssigned, models.EventRideCompleted:
		return ev, nil
	}
	return models.RideEvent{}, errUnknownEvent
}

func summaryKey(rideID string) string { return "ride:summary:" + rideID }

func summaryFields(ev models.RideEvent) map[string]interface{} {
	f := map[string]interface{}{
		"request_id":   ev.RequestID,
		"driver_id":    ev.DriverID,
		"passenger_id": ev.PassengerID,
		"fare":         strconv.FormatFloat(ev.Fare, 'f', 2, 64),
		"distance_km":  strconv.FormatFloat(ev.DistanceKm, 'f', -1, 64),
	}
	switch ev.Type {
	case models.EventRideAssigned:
		f["status"] = string(models.RideInProgress)
		f["assigned_at"] = ev.At.Format(time.RFC3339Nano)
	case models.EventRideCompleted:
		f["status"] = string(models.RideCompleted)
		f["completed_at"] = ev.At.Format(time.RFC3339Nano)
		f["rating"] = strconv.FormatFloat(ev.Rating, 'f', -1, 64)
	}
	return f
}

// applyEvent writes the ride summary and, for completions, credits the
// driver's earnings. Each step is retried on its own, so the earnings
// increment runs at most once per successful attempt.
//
// The server publishes after releasing its lock, so a ride's completed event
// can reach the topic before its assigned event. An assigned event for a
// summary that already reads Completed is dropped with errSuperseded.
func applyEvent(ctx context.Context, rc RedisUpdater, ev models.RideEvent, attempts int, delay time.Duration) error {
	if ev.Type == models.EventRideAssigned {
		var status string
		if err := withRetry(ctx, attempts, delay, func() error {
			var err error
			status, err = rc.HGet(ctx, summaryKey(ev.RideID), "status")
			return err
		}); err != nil {
			return err
		}
		if status == string(models.RideCompleted) {
			return errSuperseded
		}
	}
	if err := withRetry(ctx, attempts, delay, func() error {
		return rc.HSet(ctx, summaryKey(ev.RideID), summaryFields(ev))
	}); err != nil {
		return err
	}
	if ev.Type != models.EventRideCompleted {
		return nil
	}
	return withRetry(ctx, attempts, delay, func() error {
		return rc.ZIncrBy(ctx, earningsKey, ev.Fare, ev.DriverID)
	})
}

func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
