package domain

import "strings"

// Default topic namespace and feed version of the Blitzortung MQTT relay.
const (
	DefaultNamespace = "blitzortung"
	DefaultVersion   = "1.1"
)

// Topics builds and matches topic names under "{namespace}/{version}".
type Topics struct {
	Namespace string
	Version   string
}

// Prefix is the strike namespace prefix, with a trailing slash.
func (t Topics) Prefix() string {
	return t.Namespace + "/" + t.Version + "/"
}

// IsStrike reports whether topic lies under the strike namespace.
func (t Topics) IsStrike(topic string) bool {
	return strings.HasPrefix(topic, t.Prefix())
}

// Filter returns the subscription filter capturing every strike inside tile:
// one level per geohash character and a multi-level wildcard. The empty tile
// yields "{namespace}/{version}/#".
func (t Topics) Filter(tile string) string {
	var b strings.Builder
	b.Grow(len(t.Prefix()) + 2*len(tile) + 1)
	b.WriteString(t.Prefix())
	for i := 0; i < len(tile); i++ {
		b.WriteByte(tile[i])
		b.WriteByte('/')
	}
	b.WriteByte('#')
	return b.String()
}

// Topic returns the concrete topic a strike in tile is published to.
func (t Topics) Topic(tile string) string {
	parts := make([]string, 0, len(tile)+2)
	parts = append(parts, t.Namespace, t.Version)
	for i := 0; i < len(tile); i++ {
		parts = append(parts, tile[i:i+1])
	}
	return strings.Join(parts, "/")
}

// Tile recovers the geohash spelled out by a strike topic. It returns false
// for topics outside the strike namespace.
func (t Topics) Tile(topic string) (string, bool) {
	if !t.IsStrike(topic) {
		return "", false
	}
	rest := strings.TrimPrefix(topic, t.Prefix())
	return strings.ReplaceAll(rest, "/", ""), true
}
