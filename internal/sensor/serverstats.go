package sensor

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Broker statistics topics.
const (
	ServerStatsFilter = "$SYS/broker/#"
	serverStatsPrefix = "$SYS/broker/"
)

// Stat is one broker statistic.
type Stat struct {
	Name      string    `json:"name"`
	Topic     string    `json:"topic"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ServerStats collects the broker's $SYS statistics. Only one-minute load
// averages and the connected client count are kept from their families.
type ServerStats struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	stats map[string]Stat
}

// NewServerStats creates an empty collector.
func NewServerStats(clock clockwork.Clock) *ServerStats {
	return &ServerStats{clock: clock, stats: make(map[string]Stat)}
}

// Receive handles one raw message. It has the shape of a
// pipeline.MessageReceiver and ignores topics outside $SYS/broker.
func (s *ServerStats) Receive(topic string, payload []byte) {
	if !strings.HasPrefix(topic, serverStatsPrefix) {
		return
	}
	sub := strings.TrimPrefix(topic, serverStatsPrefix)
	if strings.HasPrefix(sub, "load") && !strings.HasSuffix(sub, "/1min") {
		return
	}
	if strings.HasPrefix(sub, "clients") && sub != "clients/connected" {
		return
	}

	name := strings.Join(strings.Split(sub, "/"), "_")
	value := parseStat(name, strings.TrimSpace(string(payload)))
	if name == "clients_connected" {
		name = "server_stats"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name] = Stat{Name: name, Topic: sub, Value: value, UpdatedAt: s.clock.Now()}
}

// parseStat types load averages as float, uptime and version as string and
// everything else as int, falling back to the raw string.
func parseStat(name, raw string) any {
	switch {
	case strings.HasPrefix(name, "load"):
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case name == "uptime" || name == "version":
		return raw
	default:
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return raw
}

// Snapshot returns every statistic sorted by name.
func (s *ServerStats) Snapshot() []Stat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stat, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Stat) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Get returns the statistic called name.
func (s *ServerStats) Get(name string) (Stat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[name]
	return st, ok
}
