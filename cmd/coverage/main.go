// Command coverage prints the geohash tiles and topic filters the tracker
// would subscribe to for an observer.
//
// Usage:
//
//	go run ./cmd/coverage -lat 52.2297 -lon 21.0122 -radius 100
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/couchcryptid/lightning-tracker/internal/coverage"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
)

type report struct {
	Center    domain.GeoPoint `json:"center"`
	RadiusKm  float64         `json:"radius_km"`
	Precision int             `json:"precision"`
	Tiles     []string        `json:"tiles"`
	Filters   []string        `json:"filters"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	lat := flag.Float64("lat", 0, "observer latitude")
	lon := flag.Float64("lon", 0, "observer longitude")
	radius := flag.Float64("radius", 100, "radius in km")
	budget := flag.Int("budget", 9, "maximum number of tiles")
	namespace := flag.String("namespace", domain.DefaultNamespace, "strike topic namespace")
	version := flag.String("topic-version", domain.DefaultVersion, "strike topic version")
	flag.Parse()

	center, err := domain.NewGeoPoint(*lat, *lon)
	if err != nil {
		return err
	}
	cov, err := coverage.Solve(center, *radius, *budget)
	if err != nil {
		return fmt.Errorf("solve coverage: %w", err)
	}

	topics := domain.Topics{Namespace: *namespace, Version: *version}
	filters := make([]string, 0, cov.Len())
	for _, tile := range cov.Tiles {
		filters = append(filters, topics.Filter(tile))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Center:    center,
		RadiusKm:  *radius,
		Precision: cov.Precision,
		Tiles:     cov.Tiles,
		Filters:   filters,
	})
}
