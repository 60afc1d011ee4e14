package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/lightning-tracker/internal/adapter/http"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/location"
	"github.com/couchcryptid/lightning-tracker/internal/service"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockStatus struct {
	status service.Status
}

func (m *mockStatus) Status() service.Status { return m.status }

var topics = domain.Topics{Namespace: "blitzortung", Version: "1.1"}

func newTestServer(readyErr error) *httpadapter.Server {
	status := &mockStatus{status: service.Status{
		Observer: location.State{Point: domain.GeoPoint{Lat: 52.2297, Lon: 21.0122}, RadiusKm: 10, Mode: location.ModeStatic},
		Coverage: service.CoverageStatus{State: "connected", Precision: 4, Tiles: []string{"u3qb", "u3qc"}},
		Inactive: true,
	}}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, status, topics, 9, slog.Default())
}

func get(srv http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(newTestServer(nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(newTestServer(fmt.Errorf("coverage not subscribed")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "coverage not subscribed", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusEndpoint(t *testing.T) {
	rec := get(newTestServer(nil), "/api/v1/status")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Observer struct {
			Point    domain.GeoPoint `json:"point"`
			RadiusKm float64         `json:"radius_km"`
			Mode     string          `json:"mode"`
		} `json:"observer"`
		Coverage struct {
			State     string   `json:"state"`
			Precision int      `json:"precision"`
			Tiles     []string `json:"tiles"`
		} `json:"coverage"`
		Inactive bool `json:"inactive"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "static", body.Observer.Mode)
	assert.InDelta(t, 10.0, body.Observer.RadiusKm, 1e-9)
	assert.Equal(t, "connected", body.Coverage.State)
	assert.Equal(t, []string{"u3qb", "u3qc"}, body.Coverage.Tiles)
	assert.True(t, body.Inactive)
}

func TestCoverageEndpoint(t *testing.T) {
	rec := get(newTestServer(nil), "/api/v1/coverage?lat=52.2297&lon=21.0122&radius_km=10")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Precision int      `json:"precision"`
		Tiles     []string `json:"tiles"`
		Filters   []string `json:"filters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Precision)
	assert.Equal(t, []string{"u3qb", "u3qc", "u3r0", "u3r1"}, body.Tiles)
	assert.Equal(t, "blitzortung/1.1/u/3/q/b/#", body.Filters[0])
}

func TestCoverageEndpoint_BadRequest(t *testing.T) {
	srv := newTestServer(nil)

	for _, target := range []string{
		"/api/v1/coverage?lat=abc&lon=21&radius_km=10",
		"/api/v1/coverage?lat=52&lon=21",
		"/api/v1/coverage?lat=95&lon=21&radius_km=10",
		"/api/v1/coverage?lat=52&lon=21&radius_km=-1",
	} {
		rec := get(srv, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
