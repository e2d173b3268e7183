// Command driver is the ambulance driver client: it registers the vehicle,
// streams its position and answers trip requests from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/driver"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/logging"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
)

const usage = `usage:
  driver register -name NAME -plate XX-00-YY-0000 [-hospital NAME]
  driver track [-fixes FILE] [-fix-interval 2s]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	config.LoadDotEnv()
	cfg, err := config.LoadDriverConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "driver config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "register":
		err = register(ctx, cfg, logger, os.Args[2:])
	case "track":
		err = track(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "driver:", err)
		os.Exit(1)
	}
}

func identityPath(cfg config.DriverConfig) (string, error) {
	if cfg.IdentityFile != "" {
		return cfg.IdentityFile, nil
	}
	return driver.DefaultIdentityPath()
}

func register(ctx context.Context, cfg config.DriverConfig, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "driver name")
	plate := fs.String("plate", "", "ambulance plate, e.g. OD-02-AB-1234")
	hospital := fs.String("hospital", "", "affiliated hospital (optional)")
	_ = fs.Parse(args)

	backend, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	a, err := driver.Register(ctx, backend.Store, hospitals.Default(), *name, *plate, *hospital)
	if err != nil {
		return err
	}
	path, err := identityPath(cfg)
	if err != nil {
		return err
	}
	if err := driver.SaveIdentity(path, driver.Identity{Name: a.Driver, Plate: a.Plate, Hospital: a.Hospital}); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	fmt.Printf("Registered %s (%s). Identity saved to %s\n", a.Plate, a.Driver, path)
	return nil
}

func track(ctx context.Context, cfg config.DriverConfig, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	fixesFile := fs.String("fixes", "", `file of "lat,lng" lines to replay as GPS fixes`)
	fixInterval := fs.Duration("fix-interval", 0, "delay between replayed fixes (default: fallback interval)")
	_ = fs.Parse(args)

	path, err := identityPath(cfg)
	if err != nil {
		return err
	}
	id, ok, err := driver.LoadIdentity(path)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("no registered identity, using fallback", zap.String("plate", id.Plate))
	}

	backend, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	var events ingest.Publisher = ingest.Discard{}
	if cfg.Kafka.Enabled() {
		kp := ingest.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic, cfg.Kafka.TripTopic)
		defer func() { _ = kp.Close() }()
		events = kp
	}

	sess := driver.NewSession(backend.Store, id, driver.Options{Events: events, Router: newRouter(cfg), Log: logger})
	if err := sess.Resume(ctx); err != nil {
		logger.Warn("resume failed", zap.Error(err))
	}

	fixes := make(chan models.Fix)
	if *fixesFile != "" {
		interval := *fixInterval
		if interval <= 0 {
			interval = cfg.FallbackInterval
		}
		go func() {
			if err := replayFixes(ctx, *fixesFile, interval, fixes); err != nil {
				logger.Warn("fix replay stopped", zap.Error(err))
			}
		}()
	}

	pub := &driver.Publisher{Store: backend.Store, Session: sess, Events: events, Interval: cfg.FallbackInterval, Log: logger}
	go func() { _ = pub.Run(ctx, fixes) }()

	c := newConsole(sess, os.Stdin, os.Stdout, logger)
	return c.run(ctx)
}

func newRouter(cfg config.DriverConfig) routing.Router {
	return routing.NewCachedRouter(routing.NewOSRMClient(cfg.OSRMURL, cfg.OSRMTimeout), cfg.RouteCacheTTL)
}
