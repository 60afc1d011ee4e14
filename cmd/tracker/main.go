package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/lightning-tracker/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/lightning-tracker/internal/adapter/kafka"
	"github.com/couchcryptid/lightning-tracker/internal/adapter/mqtt"
	"github.com/couchcryptid/lightning-tracker/internal/adapter/nominatim"
	"github.com/couchcryptid/lightning-tracker/internal/config"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/publish"
	"github.com/couchcryptid/lightning-tracker/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	broker := mqtt.New(mqtt.Config{
		BrokerURL:      cfg.MQTTBrokerURL,
		ClientID:       cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		ConnectTimeout: cfg.MQTTConnectTimeout,
	}, logger, metrics)

	coord, err := service.New(broker, service.Options{
		Topics:        cfg.Topics(),
		Observer:      cfg.Observer,
		RadiusKm:      float64(cfg.RadiusKm),
		TileBudget:    cfg.TileBudget,
		MinMoveMeters: cfg.MinMoveMeters,
		TimeWindow:    cfg.TimeWindow,
		TickInterval:  cfg.TickInterval,
		MaxTracked:    cfg.MaxTracked,
		LocationTopic: cfg.LocationTopic,
		ServerStats:   cfg.ServerStats,
		Version:       cfg.Version,
	}, clock, logger, metrics)
	if err != nil {
		logger.Error("failed to build tracker", "error", err)
		os.Exit(1)
	}
	broker.OnConnectionChange(coord.NotifyConnection)
	logger.Info("tracker configured",
		"observer", cfg.Observer.String(),
		"radius_km", cfg.RadiusKm,
		"tracking", cfg.Tracking(),
		"broker", cfg.MQTTBrokerURL,
	)

	// Initialize geocoder (feature-flagged via GEOCODING_ENABLED).
	var geocoder domain.ReverseGeocoder
	if cfg.GeocodingEnabled {
		client := nominatim.NewClient(cfg.NominatimURL, cfg.GeocodingTimeout, cfg.GeocodingRate, logger, metrics)
		geocoder = nominatim.NewCachedGeocoder(client, cfg.GeocodingCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("reverse geocoding enabled", "url", cfg.NominatimURL, "cache_size", cfg.GeocodingCacheSize, "rate", cfg.GeocodingRate)
	} else {
		logger.Info("reverse geocoding disabled")
	}

	var sinks []publish.Sink
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, publish.Sink{Name: "kafka", Loader: writer})
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}
	if cfg.PublishTopic != "" {
		sinks = append(sinks, publish.Sink{Name: "mqtt", Loader: publish.NewTopicLoader(broker, cfg.PublishTopic)})
		logger.Info("mqtt republishing enabled", "topic", cfg.PublishTopic)
	}

	var publisher *publish.Publisher
	if len(sinks) > 0 {
		publisher = publish.New(sinks, geocoder, publish.Config{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.BatchFlushInterval,
		}, clock, logger, metrics)
		coord.Register(publisher)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, coord, coord, cfg.Topics(), cfg.TileBudget, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start republishing.
	if publisher != nil {
		g.Go(func() error {
			if err := publisher.Run(gctx); err != nil {
				return fmt.Errorf("publisher: %w", err)
			}
			return nil
		})
	}

	// Start tracker. A failure cancels gctx and stops the publisher too.
	g.Go(func() error {
		if err := coord.Run(gctx); err != nil {
			return fmt.Errorf("tracker: %w", err)
		}
		return nil
	})

	<-gctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	exit := 0
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("tracker stopped with error", "error", err)
			exit = 1
		}
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out")
		exit = 1
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exit != 0 {
		stop()
		cancel()
		os.Exit(exit)
	}
}
