package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendFirebase = "firebase"
	BackendPostgres = "postgres"
)

// LoadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// StoreConfig selects and configures the realtime document store shared by
// the server and the driver client.
type StoreConfig struct {
	Backend      string
	PollInterval time.Duration

	FirebaseDatabaseURL     string
	FirebaseCredentialsFile string
	FirebaseCredentialsJSON []byte

	PGDSN         string
	RunMigrations bool
}

type KafkaConfig struct {
	Brokers       []string
	LocationTopic string
	TripTopic     string
	Group         string
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	Store StoreConfig
	Kafka KafkaConfig

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	RedisRadiusKm float64

	OSRMURL       string
	OSRMTimeout   time.Duration
	RouteCacheTTL time.Duration

	NominatimURL     string
	NominatimRPS     float64
	GeocodeCacheSize int

	HospitalsFile string

	FareBase               float64
	FarePerKm              float64
	MatcherIncludeApproach bool

	StripeAPIKey   string
	StripeCurrency string

	FCMEnabled bool

	LogLevel string
	LogFile  string
}

func defaultStoreConfig() StoreConfig {
	return StoreConfig{Backend: BackendMemory, PollInterval: time.Second}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		CORSOrigins:      []string{"*"},
		Store:            defaultStoreConfig(),
		Kafka:            KafkaConfig{LocationTopic: "ambulance-locations", TripTopic: "trip-events"},
		RedisGeoKey:      "ambulances_geo",
		RedisRadiusKm:    50,
		OSRMURL:          "https://router.project-osrm.org",
		OSRMTimeout:      5 * time.Second,
		RouteCacheTTL:    30 * time.Second,
		NominatimURL:     "https://nominatim.openstreetmap.org",
		NominatimRPS:     1,
		GeocodeCacheSize: 512,
		FareBase:         50,
		FarePerKm:        15,
		StripeCurrency:   "inr",
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitAndTrim(v)
	}

	loadStore(&cfg.Store, &errs)
	loadKafka(&cfg.Kafka)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setFloatFromEnv(&cfg.RedisRadiusKm, "REDIS_RADIUS_KM", &errs)

	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setDurationFromEnv(&cfg.OSRMTimeout, "OSRM_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	setStringFromEnv(&cfg.NominatimURL, "NOMINATIM_URL")
	setFloatFromEnv(&cfg.NominatimRPS, "NOMINATIM_RPS", &errs)
	setIntFromEnv(&cfg.GeocodeCacheSize, "GEOCODE_CACHE_SIZE", &errs)

	cfg.HospitalsFile = strings.TrimSpace(os.Getenv("HOSPITALS_FILE"))

	setFloatFromEnv(&cfg.FareBase, "FARE_BASE", &errs)
	setFloatFromEnv(&cfg.FarePerKm, "FARE_PER_KM", &errs)
	setBoolFromEnv(&cfg.MatcherIncludeApproach, "MATCHER_INCLUDE_APPROACH", &errs)

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")

	setBoolFromEnv(&cfg.FCMEnabled, "FCM_ENABLED", &errs)

	loadLogging(&cfg.LogLevel, &cfg.LogFile)

	if cfg.FareBase < 0 || cfg.FarePerKm < 0 {
		errs = append(errs, fmt.Errorf("FARE_BASE and FARE_PER_KM must be >= 0"))
	}
	if cfg.GeocodeCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("GEOCODE_CACHE_SIZE must be > 0"))
	}
	if cfg.FCMEnabled && cfg.Store.Backend != BackendFirebase {
		errs = append(errs, fmt.Errorf("FCM_ENABLED requires STORE_BACKEND=firebase"))
	}

	return cfg, errors.Join(errs...)
}

// DriverConfig configures the driver client (cmd/driver).
type DriverConfig struct {
	Store            StoreConfig
	Kafka            KafkaConfig
	IdentityFile     string
	FallbackInterval time.Duration
	OSRMURL          string
	OSRMTimeout      time.Duration
	RouteCacheTTL    time.Duration
	LogLevel         string
	LogFile          string
}

func LoadDriverConfig() (DriverConfig, error) {
	cfg := DriverConfig{
		Store:            defaultStoreConfig(),
		Kafka:            KafkaConfig{LocationTopic: "ambulance-locations", TripTopic: "trip-events"},
		FallbackInterval: 3 * time.Second,
		OSRMURL:          "https://router.project-osrm.org",
		OSRMTimeout:      5 * time.Second,
		RouteCacheTTL:    30 * time.Second,
		LogLevel:         "info",
	}
	var errs []error
	loadStore(&cfg.Store, &errs)
	loadKafka(&cfg.Kafka)
	cfg.IdentityFile = strings.TrimSpace(os.Getenv("DRIVER_IDENTITY_FILE"))
	setDurationFromEnv(&cfg.FallbackInterval, "DRIVER_FALLBACK_INTERVAL", &errs)
	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setDurationFromEnv(&cfg.OSRMTimeout, "OSRM_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	loadLogging(&cfg.LogLevel, &cfg.LogFile)
	if cfg.FallbackInterval <= 0 {
		errs = append(errs, fmt.Errorf("DRIVER_FALLBACK_INTERVAL must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the location consumer (cmd/consumer).
type ConsumerConfig struct {
	Kafka         KafkaConfig
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	MetricsAddr   string
	LogLevel      string
	LogFile       string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		Kafka:       KafkaConfig{Brokers: []string{"localhost:9092"}, LocationTopic: "ambulance-locations", Group: "ambulance-fleet-index"},
		RedisAddr:   "localhost:6379",
		RedisGeoKey: "ambulances_geo",
		MetricsAddr: ":2112",
		LogLevel:    "info",
	}
	var errs []error
	loadKafka(&cfg.Kafka)
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	loadLogging(&cfg.LogLevel, &cfg.LogFile)
	if !cfg.Kafka.Enabled() {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required"))
	}
	return cfg, errors.Join(errs...)
}

func loadStore(s *StoreConfig, errs *[]error) {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		s.Backend = v
	}
	setDurationFromEnv(&s.PollInterval, "STORE_POLL_INTERVAL", errs)
	s.FirebaseDatabaseURL = strings.TrimSpace(os.Getenv("FIREBASE_DATABASE_URL"))
	s.FirebaseCredentialsFile = strings.TrimSpace(os.Getenv("FIREBASE_CREDENTIALS_FILE"))
	if v := strings.TrimSpace(os.Getenv("FIREBASE_CREDENTIALS_BASE64")); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid FIREBASE_CREDENTIALS_BASE64: %w", err))
		} else {
			s.FirebaseCredentialsJSON = b
		}
	}
	s.PGDSN = os.Getenv("PG_DSN")
	s.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch s.Backend {
	case BackendMemory:
	case BackendFirebase:
		if s.FirebaseDatabaseURL == "" {
			*errs = append(*errs, fmt.Errorf("FIREBASE_DATABASE_URL is required for the firebase backend"))
		}
	case BackendPostgres:
		if s.PGDSN == "" {
			*errs = append(*errs, fmt.Errorf("PG_DSN is required for the postgres backend"))
		}
	default:
		*errs = append(*errs, fmt.Errorf("unknown STORE_BACKEND %q", s.Backend))
	}
	if s.PollInterval <= 0 {
		*errs = append(*errs, fmt.Errorf("STORE_POLL_INTERVAL must be > 0"))
	}
}

func loadKafka(k *KafkaConfig) {
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k.Brokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&k.LocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&k.TripTopic, "KAFKA_TRIP_TOPIC")
	setStringFromEnv(&k.Group, "KAFKA_GROUP")
}

func loadLogging(level, file *string) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*level = strings.ToLower(v)
	}
	*file = strings.TrimSpace(os.Getenv("LOG_FILE"))
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
