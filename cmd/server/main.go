package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"

	"github.com/example/ride-sharing/internal/config"
	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/geo"
	httpapi "github.com/example/ride-sharing/internal/http"
	"github.com/example/ride-sharing/internal/ingest"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/ride"
	"github.com/example/ride-sharing/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := ride.Deps{Logger: logger}

	wsreg := dispatch.NewWSRegistry()
	notifiers := dispatch.Multi{wsreg, &dispatch.LogDispatcher{Logger: logger}}
	if cfg.DispatchWebhook != "" {
		notifiers = append(notifiers, dispatch.NewHTTPDispatcher(cfg.DispatchWebhook))
	}
	deps.Notifier = notifiers

	var positions httpapi.NearbyFinder
	if cfg.RedisAddr != "" {
		mirror := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		if err := mirror.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, positions will not be mirrored", "addr", cfg.RedisAddr, "error", err)
			_ = mirror.Close()
		} else {
			defer mirror.Close()
			deps.Mirror = mirror
			positions = mirror
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		deps.Events = kp
	}

	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := storage.Migrate(cfg.PGDSN, cfg.MigrationsDir); err != nil {
				logger.Error("migrations not applied", "dir", cfg.MigrationsDir, "error", err)
			} else {
				logger.Info("migrations applied", "dir", cfg.MigrationsDir)
			}
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, falling back to file store", "error", err)
		} else {
			defer ps.Close()
			deps.Store = ps
		}
	}
	if deps.Store == nil {
		deps.Store = storage.NewFileStore(cfg.StateFile)
	}

	if st, err := deps.Store.Load(ctx); err != nil {
		logger.Warn("previous state could not be loaded", "error", err)
	} else {
		logger.Info("previous state loaded", "drivers", len(st.Drivers), "passengers", len(st.Passengers), "requests", len(st.Requests), "rides", len(st.Rides))
	}

	svc := ride.NewService(cfg.RideConfig(), deps)
	apiServer := httpapi.NewServer(svc, wsreg, logger)
	apiServer.Positions = positions
	var api http.Handler = apiServer
	if len(cfg.CORSAllowedOrigins) > 0 {
		api = handlers.CORS(
			handlers.AllowedOrigins(cfg.CORSAllowedOrigins),
			handlers.AllowedMethods([]string{"GET", "POST"}),
			handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		)(api)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-sharing listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := svc.Save(shutdownCtx); err != nil {
		logger.Error("final state save failed", "error", err)
	}
}
