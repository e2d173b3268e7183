package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/booking"
	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/dashboard"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/geocode"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	httpapi "github.com/example/ambulance-dispatch/internal/http"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/logging"
	"github.com/example/ambulance-dispatch/internal/matcher"
	"github.com/example/ambulance-dispatch/internal/payments"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ambulance-dispatch:", err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadDotEnv()
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = backend.Close() }()
	logger.Info("store opened", zap.String("backend", cfg.Store.Backend))

	dir := hospitals.Default()
	if cfg.HospitalsFile != "" {
		if dir, err = hospitals.Load(cfg.HospitalsFile); err != nil {
			return err
		}
	}

	router := routing.NewCachedRouter(routing.NewOSRMClient(cfg.OSRMURL, cfg.OSRMTimeout), cfg.RouteCacheTTL)
	geocoder, err := geocode.NewClient(cfg.NominatimURL, 0, cfg.NominatimRPS, cfg.GeocodeCacheSize)
	if err != nil {
		return fmt.Errorf("geocoder: %w", err)
	}

	checks := []httpapi.Check{{Name: "store", Fn: func(ctx context.Context) error {
		_, err := backend.Store.Ambulances(ctx)
		return err
	}}}

	var fleet geo.Fleet = geo.NewIndex()
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.RedisRadiusKm)
		defer func() { _ = rg.Close() }()
		fleet = rg
		checks = append(checks, httpapi.Check{Name: "redis", Fn: rg.Ping})
		logger.Info("redis fleet index enabled", zap.String("addr", cfg.RedisAddr))
	}

	var events ingest.Publisher = ingest.Discard{}
	if cfg.Kafka.Enabled() {
		kp := ingest.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic, cfg.Kafka.TripTopic)
		defer func() { _ = kp.Close() }()
		events = kp
		logger.Info("kafka events enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var holder payments.FareHolder = payments.Noop{}
	if cfg.StripeAPIKey != "" {
		holder = payments.NewStripeClient(cfg.StripeAPIKey, cfg.StripeCurrency)
		logger.Info("stripe fare holds enabled", zap.String("currency", cfg.StripeCurrency))
	}

	hub := dispatch.NewHub(logger)
	notifiers := dispatch.Fanout{hub}
	if cfg.FCMEnabled && backend.App != nil {
		fcm, err := dispatch.NewFCMNotifier(ctx, backend.App, logger)
		if err != nil {
			return fmt.Errorf("fcm: %w", err)
		}
		notifiers = dispatch.Fanout{fcm, hub}
		logger.Info("fcm push enabled")
	}

	svc := &booking.Service{
		Store:     backend.Store,
		Hospitals: dir,
		Selector: matcher.Selector{Pricing: matcher.Pricing{
			Base:            cfg.FareBase,
			PerKm:           cfg.FarePerKm,
			IncludeApproach: cfg.MatcherIncludeApproach,
		}},
		Payments: holder,
		Notifier: notifiers,
		Events:   events,
		Log:      logger,
	}

	reconciler := dashboard.NewReconciler(router, logger)
	go reconciler.Run(ctx, backend.Store, hub)
	go hub.Follow(ctx, backend.Store)

	api := httpapi.NewServer(httpapi.Deps{
		Store:       backend.Store,
		Booking:     svc,
		Hospitals:   dir,
		Fleet:       fleet,
		Geocoder:    geocoder,
		Router:      router,
		Payments:    holder,
		Events:      events,
		Hub:         hub,
		Dashboard:   reconciler,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		Checks:      checks,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ambulance-dispatch listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
