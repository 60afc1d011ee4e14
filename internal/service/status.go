package service

import (
	"time"

	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/location"
	"github.com/couchcryptid/lightning-tracker/internal/sensor"
)

// Status is a point-in-time view of the tracker for the HTTP API.
type Status struct {
	Observer     location.State         `json:"observer"`
	Coverage     CoverageStatus         `json:"coverage"`
	Connected    bool                   `json:"connected"`
	Sensors      []sensor.Reading       `json:"sensors"`
	ServerStats  []sensor.Stat          `json:"server_stats,omitempty"`
	Inactive     bool                   `json:"inactive"`
	LastActivity *time.Time             `json:"last_activity,omitempty"`
	Notice       *sensor.Notice         `json:"update_notice,omitempty"`
	Strikes      []sensor.TrackedStrike `json:"strikes"`
}

// CoverageStatus describes the subscribed tiles.
type CoverageStatus struct {
	State     string          `json:"state"`
	Center    domain.GeoPoint `json:"center"`
	Precision int             `json:"precision"`
	Tiles     []string        `json:"tiles"`
	Filters   []string        `json:"filters"`
}

// Status assembles the current tracker state. It is safe to call from any
// goroutine.
func (c *Coordinator) Status() Status {
	tiles := c.manager.Tiles()
	filters := make([]string, len(tiles))
	for i, tile := range tiles {
		filters[i] = c.opts.Topics.Filter(tile)
	}

	s := Status{
		Observer: c.observer.State(),
		Coverage: CoverageStatus{
			State:     c.manager.State().String(),
			Center:    c.manager.Center(),
			Precision: c.manager.Coverage().Precision,
			Tiles:     tiles,
			Filters:   filters,
		},
		Connected: c.transport.Connected(),
		Sensors:   c.board.Readings(),
		Inactive:  c.pipeline.IsInactive(),
		Strikes:   c.window.Strikes(),
	}
	if c.opts.ServerStats {
		s.ServerStats = c.stats.Snapshot()
	}
	if last := c.pipeline.LastActivity(); !last.IsZero() {
		s.LastActivity = &last
	}
	if n, ok := c.notice.Notice(); ok {
		s.Notice = &n
	}
	return s
}
