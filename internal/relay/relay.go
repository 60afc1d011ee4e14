// Package relay feeds the broker from the public Blitzortung websocket
// stream: every strike frame is decoded, trimmed and republished on the
// topic of its geohash.
package relay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/gorilla/websocket"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/geohash"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/sensor"
	"github.com/couchcryptid/lightning-tracker/internal/transport"
)

// DefaultURLs are the public feed endpoints.
var DefaultURLs = []string{
	"wss://ws1.blitzortung.org:443/",
	"wss://ws3.blitzortung.org:443/",
	"wss://ws7.blitzortung.org:443/",
	"wss://ws8.blitzortung.org:443/",
}

// handshake selects the strike stream.
const handshake = `{"a": 111}`

// BinaryPrefix is the topic root of the compact float32 encoding.
const BinaryPrefix = "b"

// Config configures a Relay.
type Config struct {
	URLs    []string
	Topics  domain.Topics
	JSON    bool
	Binary  bool
	Version string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Dialer         *websocket.Dialer
}

// Relay copies strikes from the websocket feed to a broker.
type Relay struct {
	pub     transport.Publisher
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Relay publishing through pub.
func New(pub transport.Publisher, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Relay {
	if len(cfg.URLs) == 0 {
		cfg.URLs = DefaultURLs
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if !cfg.JSON && !cfg.Binary {
		cfg.JSON = true
	}
	return &Relay{pub: pub, cfg: cfg, logger: logger, metrics: metrics}
}

// AnnounceVersion publishes the retained hello message trackers compare
// their own version against.
func (r *Relay) AnnounceVersion(ctx context.Context) error {
	if r.cfg.Version == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"latest_version": r.cfg.Version})
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, sensor.HelloTopic, payload, true)
}

// Run relays until ctx is cancelled, reconnecting to a random feed endpoint
// with exponential backoff. A session that delivered frames resets the
// backoff.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.cfg.InitialBackoff
	for {
		url := r.cfg.URLs[rand.IntN(len(r.cfg.URLs))]
		frames, err := r.session(ctx, url)
		if ctx.Err() != nil {
			r.logger.Info("relay stopping", "reason", ctx.Err())
			return nil
		}
		if frames > 0 {
			backoff = r.cfg.InitialBackoff
		}
		r.logger.Warn("feed session ended", "url", url, "frames", frames, "error", err, "backoff", backoff)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return nil
		}
		backoff = sharedretry.NextBackoff(backoff, r.cfg.MaxBackoff)
	}
}

// session reads one websocket connection until it fails or ctx is done.
func (r *Relay) session(ctx context.Context, url string) (int, error) {
	conn, _, err := r.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(handshake)); err != nil {
		return 0, fmt.Errorf("handshake %s: %w", url, err)
	}
	r.logger.Info("feed connected", "url", url)

	frames := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return frames, fmt.Errorf("read %s: %w", url, err)
		}
		frames++
		r.HandleFrame(ctx, data)
	}
}

// HandleFrame decodes one feed frame and publishes it. Failures are counted
// and logged; they never end the session.
func (r *Relay) HandleFrame(ctx context.Context, data []byte) {
	s, err := DecodeFrame(data)
	if err != nil {
		r.metrics.RelayFrames.WithLabelValues("decode_error").Inc()
		r.logger.Debug("frame dropped", "error", err)
		return
	}
	hash, err := geohash.Encode(s.Lat, s.Lon, geohash.MaxPrecision)
	if err != nil {
		r.metrics.RelayFrames.WithLabelValues("decode_error").Inc()
		r.logger.Debug("frame dropped", "error", err)
		return
	}

	if r.cfg.JSON {
		payload, err := json.Marshal(s)
		if err == nil {
			err = r.pub.Publish(ctx, r.cfg.Topics.Topic(hash), payload, false)
		}
		r.count(err, hash)
	}
	if r.cfg.Binary {
		r.count(r.pub.Publish(ctx, BinaryTopic(hash), EncodeBinary(s.Lat, s.Lon), false), hash)
	}
}

func (r *Relay) count(err error, hash string) {
	if err != nil {
		r.metrics.RelayFrames.WithLabelValues("publish_error").Inc()
		r.logger.Warn("relay publish failed", "geohash", hash, "error", err)
		return
	}
	r.metrics.RelayFrames.WithLabelValues("published").Inc()
}

// BinaryTopic is the compact topic of a strike: "b/" then one level per
// geohash character.
func BinaryTopic(hash string) string {
	var b strings.Builder
	b.Grow(len(BinaryPrefix) + 2*len(hash))
	b.WriteString(BinaryPrefix)
	for i := 0; i < len(hash); i++ {
		b.WriteByte('/')
		b.WriteByte(hash[i])
	}
	return b.String()
}

// EncodeBinary packs lat and lon as little-endian float32 values.
func EncodeBinary(lat, lon float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(float32(lat)))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(float32(lon)))
	return b
}
