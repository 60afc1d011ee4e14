package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyFrame is returned for a zero-length frame.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrBadCode is returned when a dictionary code is neither known nor the
	// next one to be assigned.
	ErrBadCode = errors.New("invalid dictionary code")
)

// firstCode is the first dictionary code; lower code points are literals.
const firstCode = 256

// Decompress expands an LZW-compressed feed frame. Each rune of frame is
// either a literal character (below 256) or a dictionary code.
func Decompress(frame string) (string, error) {
	codes := []rune(frame)
	if len(codes) == 0 {
		return "", ErrEmptyFrame
	}

	dict := make(map[rune]string)
	next := rune(firstCode)

	prev := string(codes[0])
	var out strings.Builder
	out.Grow(len(frame) * 2)
	out.WriteString(prev)

	for _, code := range codes[1:] {
		var entry string
		switch {
		case code < firstCode:
			entry = string(code)
		case dict[code] != "":
			entry = dict[code]
		case code == next:
			entry = prev + firstRune(prev)
		default:
			return "", fmt.Errorf("decompress code %d at dictionary size %d: %w", code, next-firstCode, ErrBadCode)
		}
		out.WriteString(entry)
		dict[next] = prev + firstRune(entry)
		next++
		prev = entry
	}
	return out.String(), nil
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

// Strike is the trimmed strike republished on the broker. Fields missing
// from the frame are serialized as null.
type Strike struct {
	Lat    float64         `json:"lat"`
	Lon    float64         `json:"lon"`
	Status json.RawMessage `json:"status"`
	Region json.RawMessage `json:"region"`
	Time   json.RawMessage `json:"time"`
}

type frame struct {
	Lat    *float64        `json:"lat"`
	Lon    *float64        `json:"lon"`
	Status json.RawMessage `json:"status"`
	Region json.RawMessage `json:"region"`
	Time   json.RawMessage `json:"time"`
}

// DecodeFrame decompresses a frame and extracts the strike. Station
// signals and the other per-strike fields are discarded.
func DecodeFrame(data []byte) (Strike, error) {
	text, err := Decompress(string(data))
	if err != nil {
		return Strike{}, err
	}
	var f frame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return Strike{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Lat == nil || f.Lon == nil {
		return Strike{}, errors.New("decode frame: missing lat or lon")
	}
	return Strike{
		Lat:    *f.Lat,
		Lon:    *f.Lon,
		Status: nullIfEmpty(f.Status),
		Region: nullIfEmpty(f.Region),
		Time:   nullIfEmpty(f.Time),
	}, nil
}

func nullIfEmpty(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}
