package relay_test

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/observability"
	"github.com/couchcryptid/lightning-tracker/internal/relay"
	"github.com/couchcryptid/lightning-tracker/internal/sensor"
	"github.com/couchcryptid/lightning-tracker/internal/transport/transporttest"
)

// warsawFrame compresses a strike at (52.2301, 21.0155) whose geohash is u3qcnhpn2skd.
const warsawFrame = "{\"time\":17180\u010c\u010d\u010e\u010f,\"lat\u010652.2301\u0111lon\u010621.\u011c55\u0111al\u0115:0\u0111pol\u0106\u012e\"mds\u0106793\u0128\u0135cg\u0106\u010a4\u0111st\u0114u\u0138:2\u0111regi\u0120\u0141\u0144i\u0140:[\u0100\u0145a\u0141\u011a\u0143\u0101\u0103\u0105\u014a34\u013d\u0113\u012c50.\u011d\u0112\u0151\u01079.9\u0129\u012b\u0122\u010c\u0144\u0146t\u0148\u0133},\u0158\u0146\u015b\u013c\u0111\u0102\u0104\u0122\u01626\u011e\u0114\u0116\u0124\u016a\u011f\u0121\u01078\u016f\u0171\u012c\u0123\u0134\u0159\u0177\u01490}]\u0111de\u0113y\u0122\u018f\u016bnc\u0133\u0186t\u01a3\u012d}"

const warsawTopic = "blitzortung/1.1/u/3/q/c/n/h/p/n/2/s/k/d"

var topics = domain.Topics{Namespace: domain.DefaultNamespace, Version: domain.DefaultVersion}

func newRelay(t *testing.T, fake *transporttest.Fake, cfg relay.Config) (*relay.Relay, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	cfg.Topics = topics
	return relay.New(fake, cfg, slog.Default(), metrics), metrics
}

func TestHandleFrame_PublishesJSON(t *testing.T) {
	fake := transporttest.New()
	r, metrics := newRelay(t, fake, relay.Config{})

	r.HandleFrame(t.Context(), []byte(warsawFrame))

	published := fake.Published()
	require.Len(t, published, 1)
	assert.Equal(t, warsawTopic, published[0].Topic)
	assert.False(t, published[0].Retained)
	assert.JSONEq(t, `{"lat":52.2301,"lon":21.0155,"status":2,"region":1,"time":1718000000000000000}`, string(published[0].Payload))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RelayFrames.WithLabelValues("published")), 0)
}

func TestHandleFrame_Binary(t *testing.T) {
	fake := transporttest.New()
	r, _ := newRelay(t, fake, relay.Config{Binary: true})

	r.HandleFrame(t.Context(), []byte(warsawFrame))

	published := fake.Published()
	require.Len(t, published, 1, "binary only when JSON is not requested")
	assert.Equal(t, "b/u/3/q/c/n/h/p/n/2/s/k/d", published[0].Topic)
	assert.Equal(t, relay.EncodeBinary(52.2301, 21.0155), published[0].Payload)
}

func TestHandleFrame_BothEncodings(t *testing.T) {
	fake := transporttest.New()
	r, metrics := newRelay(t, fake, relay.Config{JSON: true, Binary: true})

	r.HandleFrame(t.Context(), []byte(warsawFrame))

	published := fake.Published()
	require.Len(t, published, 2)
	assert.Equal(t, warsawTopic, published[0].Topic)
	assert.True(t, strings.HasPrefix(published[1].Topic, relay.BinaryPrefix+"/"))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RelayFrames.WithLabelValues("published")), 0)
}

func TestHandleFrame_DecodeError(t *testing.T) {
	fake := transporttest.New()
	r, metrics := newRelay(t, fake, relay.Config{})

	r.HandleFrame(t.Context(), []byte("ab\u0105"))
	r.HandleFrame(t.Context(), []byte(`{"lat":95,"lon":0}`))

	assert.Empty(t, fake.Published())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RelayFrames.WithLabelValues("decode_error")), 0)
}

func TestHandleFrame_PublishError(t *testing.T) {
	fake := transporttest.New()
	fake.PublishErr = errors.New("broker gone")
	r, metrics := newRelay(t, fake, relay.Config{})

	r.HandleFrame(t.Context(), []byte(warsawFrame))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RelayFrames.WithLabelValues("publish_error")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RelayFrames.WithLabelValues("published")), 0)
}

func TestBinaryTopic(t *testing.T) {
	assert.Equal(t, "b/u/3/q", relay.BinaryTopic("u3q"))
	assert.Equal(t, "b", relay.BinaryTopic(""))
}

func TestEncodeBinary(t *testing.T) {
	b := relay.EncodeBinary(-33.87, 151.21)
	require.Len(t, b, 8)
	assert.Equal(t, float32(-33.87), math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])))
	assert.Equal(t, float32(151.21), math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])))
}

func TestAnnounceVersion(t *testing.T) {
	fake := transporttest.New()
	r, _ := newRelay(t, fake, relay.Config{Version: "1.2.0"})

	require.NoError(t, r.AnnounceVersion(t.Context()))

	published := fake.Published()
	require.Len(t, published, 1)
	assert.Equal(t, sensor.HelloTopic, published[0].Topic)
	assert.True(t, published[0].Retained)
	assert.JSONEq(t, `{"latest_version":"1.2.0"}`, string(published[0].Payload))
}

func TestAnnounceVersion_NoVersion(t *testing.T) {
	fake := transporttest.New()
	r, _ := newRelay(t, fake, relay.Config{})

	require.NoError(t, r.AnnounceVersion(t.Context()))
	assert.Empty(t, fake.Published())
}

func TestRun_RelaysFeedFrames(t *testing.T) {
	handshakes := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		handshakes <- string(msg)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(warsawFrame)); err != nil {
			return
		}
		// Hold the session open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	fake := transporttest.New()
	r, _ := newRelay(t, fake, relay.Config{
		URLs:           []string{"ws" + strings.TrimPrefix(srv.URL, "http")},
		InitialBackoff: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case hs := <-handshakes:
		assert.JSONEq(t, `{"a": 111}`, hs)
	case <-time.After(5 * time.Second):
		t.Fatal("no handshake received")
	}

	require.Eventually(t, func() bool {
		return len(fake.Published()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, warsawTopic, fake.Published()[0].Topic)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RetriesUnreachableFeed(t *testing.T) {
	fake := transporttest.New()
	r, _ := newRelay(t, fake, relay.Config{
		URLs:           []string{"ws://127.0.0.1:1/"},
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	assert.Empty(t, fake.Published())
}
