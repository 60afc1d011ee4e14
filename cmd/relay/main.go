// Command relay copies strikes from the public Blitzortung websocket feed to
// an MQTT broker, one topic per geohash.
//
// Usage:
//
//	go run ./cmd/relay -broker tcp://localhost:1883 -binary
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/lightning-tracker/internal/adapter/mqtt"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/relay"
)

type brokerReadiness struct{ broker *mqtt.Transport }

func (b brokerReadiness) CheckReadiness(_ context.Context) error {
	if !b.broker.Connected() {
		return errors.New("broker not connected")
	}
	return nil
}

func main() {
	broker := flag.String("broker", sharedcfg.EnvOrDefault("MQTT_BROKER_URL", "tcp://localhost:1883"), "MQTT broker URL")
	clientID := flag.String("client-id", sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "lightning-relay"), "MQTT client id")
	feeds := flag.String("feeds", os.Getenv("RELAY_FEED_URLS"), "comma-separated websocket feed URLs (default: public endpoints)")
	namespace := flag.String("namespace", sharedcfg.EnvOrDefault("TOPIC_NAMESPACE", domain.DefaultNamespace), "strike topic namespace")
	version := flag.String("topic-version", sharedcfg.EnvOrDefault("TOPIC_VERSION", domain.DefaultVersion), "strike topic version")
	jsonOut := flag.Bool("json", true, "publish JSON strikes")
	binaryOut := flag.Bool("binary", false, "publish float32 strikes under b/")
	announce := flag.String("announce", os.Getenv("RELAY_ANNOUNCE_VERSION"), "latest tracker version to announce on component/hello")
	httpAddr := flag.String("http-addr", sharedcfg.EnvOrDefault("HTTP_ADDR", ":8081"), "health and metrics listen address")
	flag.Parse()

	logger := sharedobs.NewLogger(sharedcfg.EnvOrDefault("LOG_LEVEL", "info"), sharedcfg.EnvOrDefault("LOG_FORMAT", "json"))
	metrics := observability.NewMetrics()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	tr := mqtt.New(mqtt.Config{BrokerURL: *broker, ClientID: *clientID}, logger, metrics)

	var urls []string
	if *feeds != "" {
		urls = sharedcfg.ParseBrokers(*feeds)
	}
	r := relay.New(tr, relay.Config{
		URLs:    urls,
		Topics:  domain.Topics{Namespace: *namespace, Version: *version},
		JSON:    *jsonOut,
		Binary:  *binaryOut,
		Version: *announce,
	}, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tr.Connect(ctx); err != nil {
		logger.Error("failed to connect broker", "broker", *broker, "error", err)
		os.Exit(1)
	}
	if err := r.AnnounceVersion(ctx); err != nil {
		logger.Warn("version announcement failed", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(brokerReadiness{broker: tr}))
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: *httpAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("relay started", "broker", *broker, "json", *jsonOut, "binary", *binaryOut,
		"feeds", strings.Join(urls, ","))
	if err := r.Run(ctx); err != nil {
		logger.Error("relay error", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := tr.Disconnect(shutdownCtx); err != nil {
		logger.Error("broker disconnect error", "error", err)
	}
	logger.Info("shutdown complete")
}
