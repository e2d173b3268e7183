package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/logging"
	"github.com/example/ambulance-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_messages_consumed_total",
		Help: "Ambulance location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_messages_invalid_total",
		Help: "Location messages that could not be decoded",
	})
	indexUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_fleet_index_updates_total",
		Help: "Successful fleet index writes",
	})
	indexErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_fleet_index_errors_total",
		Help: "Fleet index writes that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, indexUpdates, indexErrors)
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "consumer config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	fleet := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, 0)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := fleet.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.LocationTopic,
		GroupID:  cfg.Kafka.Group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = fleet.Close()
	}()

	logger.Info("consumer listening",
		zap.String("topic", cfg.Kafka.LocationTopic),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group", cfg.Kafka.Group))
	consume(ctx, r, fleet, logger)
	logger.Info("consumer stopped")
}

// MessageReader is the part of *kafka.Reader the loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume indexes every location event until ctx ends. Read errors back off
// exponentially up to 30s.
func consume(ctx context.Context, r MessageReader, fleet geo.Fleet, logger *zap.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read failed", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var ev models.LocationEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Plate == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", zap.ByteString("key", m.Key), zap.Error(err))
			continue
		}

		if err := upsertWithRetry(ctx, fleet, ambulanceFromEvent(ev), 3, 200*time.Millisecond); err != nil {
			indexErrors.Inc()
			logger.Warn("fleet index update failed", zap.String("plate", ev.Plate), zap.Error(err))
			continue
		}
		indexUpdates.Inc()
	}
}

func ambulanceFromEvent(ev models.LocationEvent) models.Ambulance {
	lat, lng := ev.Loc.Lat, ev.Loc.Lng
	at := ev.Timestamp
	status := ev.Status
	if status == "" {
		status = models.AmbulanceAvailable
	}
	return models.Ambulance{
		Plate:       ev.Plate,
		Driver:      ev.Driver,
		Status:      status,
		Lat:         &lat,
		Lng:         &lng,
		LastUpdated: &at,
	}
}

// upsertWithRetry writes a to the fleet index, doubling delay between
// attempts.
func upsertWithRetry(ctx context.Context, fleet geo.Fleet, a models.Ambulance, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fleet.Upsert(ctx, a); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	if ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
