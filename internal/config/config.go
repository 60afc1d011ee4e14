package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	MQTTBrokerURL      string
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTConnectTimeout time.Duration

	TopicNamespace string
	TopicVersion   string

	Observer      domain.GeoPoint
	RadiusKm      int
	TimeWindow    time.Duration
	TileBudget    int
	MinMoveMeters float64
	LocationTopic string
	TickInterval  time.Duration
	MaxTracked    int
	ServerStats   bool
	Version       string

	PublishTopic string

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	BatchSize          int
	BatchFlushInterval time.Duration

	// Reverse geocoding configuration.
	GeocodingEnabled   bool
	NominatimURL       string
	GeocodingTimeout   time.Duration
	GeocodingCacheSize int
	GeocodingRate      float64

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Tracking reports whether the observer follows a location topic.
func (c *Config) Tracking() bool {
	return c.LocationTopic != ""
}

// Topics returns the strike topic layout.
func (c *Config) Topics() domain.Topics {
	return domain.Topics{Namespace: c.TopicNamespace, Version: c.TopicVersion}
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	observer, err := parseObserver()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MQTTBrokerURL:  sharedcfg.EnvOrDefault("MQTT_BROKER_URL", "tcp://blitzortung.ha.sed.pl:1883"),
		MQTTClientID:   sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "lightning-tracker"),
		MQTTUsername:   os.Getenv("MQTT_USERNAME"),
		MQTTPassword:   os.Getenv("MQTT_PASSWORD"),
		TopicNamespace: sharedcfg.EnvOrDefault("TOPIC_NAMESPACE", domain.DefaultNamespace),
		TopicVersion:   sharedcfg.EnvOrDefault("TOPIC_VERSION", domain.DefaultVersion),
		Observer:       observer,
		LocationTopic:  os.Getenv("LOCATION_TOPIC"),
		Version:        sharedcfg.EnvOrDefault("TRACKER_VERSION", "1.0.0"),
		PublishTopic:   os.Getenv("PUBLISH_TOPIC"),
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "lightning-strikes"),
		NominatimURL:   sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		HTTPAddr:       sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:       sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),

		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.MQTTConnectTimeout, err = parseDuration("MQTT_CONNECT_TIMEOUT", "10s", false); err != nil {
		return nil, err
	}
	if cfg.TimeWindow, err = parseDuration("TIME_WINDOW", "2h", true); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = parseDuration("TICK_INTERVAL", "5m", false); err != nil {
		return nil, err
	}
	if cfg.GeocodingTimeout, err = parseDuration("GEOCODING_TIMEOUT", "10s", false); err != nil {
		return nil, err
	}
	if cfg.RadiusKm, err = parseInt("RADIUS_KM", 100, 1); err != nil {
		return nil, err
	}
	if cfg.TileBudget, err = parseInt("TILE_BUDGET", 9, 1); err != nil {
		return nil, err
	}
	if cfg.MaxTracked, err = parseInt("MAX_TRACKED_STRIKES", 100, 1); err != nil {
		return nil, err
	}
	if cfg.GeocodingCacheSize, err = parseInt("GEOCODING_CACHE_SIZE", 500, 1); err != nil {
		return nil, err
	}
	if cfg.MinMoveMeters, err = parseFloat("MIN_LOCATION_CHANGE_METERS", 50, 0); err != nil {
		return nil, err
	}
	if cfg.GeocodingRate, err = parseFloat("GEOCODING_RATE", 1, 0); err != nil {
		return nil, err
	}
	if cfg.GeocodingRate == 0 {
		return nil, errors.New("invalid GEOCODING_RATE: must be positive")
	}
	cfg.ServerStats = parseBool("SERVER_STATS")
	cfg.KafkaEnabled = parseBool("KAFKA_ENABLED")
	cfg.GeocodingEnabled = parseBool("GEOCODING_ENABLED")

	if cfg.MQTTBrokerURL == "" {
		return nil, errors.New("MQTT_BROKER_URL is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if cfg.GeocodingEnabled && cfg.NominatimURL == "" {
		return nil, errors.New("GEOCODING_ENABLED is true but NOMINATIM_URL is not set")
	}

	return cfg, nil
}

func parseObserver() (domain.GeoPoint, error) {
	latStr, lonStr := os.Getenv("OBSERVER_LATITUDE"), os.Getenv("OBSERVER_LONGITUDE")
	if latStr == "" || lonStr == "" {
		return domain.GeoPoint{}, errors.New("OBSERVER_LATITUDE and OBSERVER_LONGITUDE are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("invalid OBSERVER_LATITUDE: %w", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("invalid OBSERVER_LONGITUDE: %w", err)
	}
	p, err := domain.NewGeoPoint(lat, lon)
	if err != nil {
		return domain.GeoPoint{}, fmt.Errorf("invalid OBSERVER_LATITUDE/OBSERVER_LONGITUDE: %w", err)
	}
	return p, nil
}

func parseDuration(key, fallback string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fallback, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}

func parseFloat(key string, fallback, minimum float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < minimum {
		return 0, fmt.Errorf("invalid %s: must be a number >= %v", key, minimum)
	}
	return f, nil
}

func parseBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
