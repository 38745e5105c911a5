package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp is the single comparable instant used for ordering and threshold
// checks. It always holds UTC.
//
// Wire values arrive either as ISO-8601 strings or as the numeric array
// [year, month, day, hour, minute, second, nanosecond] emitted by the backend's
// date serializer; both decode to the same Timestamp.
type Timestamp struct {
	t time.Time
}

// zone-less layouts are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	time.DateOnly,
}

// NewTimestamp converts a time.Time to a Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{t: t.UTC()}
}

// ParseTimestamp parses an ISO-8601 string.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("timestamp: unrecognized format %q", s)
}

// TimestampFromParts builds a Timestamp from [year, month, day, hour, minute,
// second, nanosecond]. Trailing components may be omitted and default to zero.
func TimestampFromParts(parts []int64) (Timestamp, error) {
	if len(parts) < 3 || len(parts) > 7 {
		return Timestamp{}, fmt.Errorf("timestamp: array needs 3 to 7 components, got %d", len(parts))
	}
	var p [7]int64
	copy(p[:], parts)
	if p[1] < 1 || p[1] > 12 {
		return Timestamp{}, fmt.Errorf("timestamp: month out of range: %d", p[1])
	}
	t := time.Date(int(p[0]), time.Month(p[1]), int(p[2]), int(p[3]), int(p[4]), int(p[5]), int(p[6]), time.UTC)
	return NewTimestamp(t), nil
}

// Time returns the underlying UTC time.
func (ts Timestamp) Time() time.Time { return ts.t }

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Compare returns -1, 0 or +1.
func (ts Timestamp) Compare(o Timestamp) int { return ts.t.Compare(o.t) }

func (ts Timestamp) Before(o Timestamp) bool { return ts.t.Before(o.t) }

func (ts Timestamp) After(o Timestamp) bool { return ts.t.After(o.t) }

func (ts Timestamp) Equal(o Timestamp) bool { return ts.t.Equal(o.t) }

// Sub returns ts - o.
func (ts Timestamp) Sub(o Timestamp) time.Duration { return ts.t.Sub(o.t) }

// Add returns ts + d.
func (ts Timestamp) Add(d time.Duration) Timestamp { return Timestamp{t: ts.t.Add(d)} }

func (ts Timestamp) String() string {
	if ts.t.IsZero() {
		return ""
	}
	return ts.t.Format(time.RFC3339Nano)
}

// MarshalJSON always emits the RFC 3339 string form.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts a string, a numeric component array, or null.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	case '[':
		var parts []int64
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("timestamp: array must hold integers: %w", err)
		}
		parsed, err := TimestampFromParts(parts)
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	default:
		return fmt.Errorf("timestamp: unsupported JSON value %s", data)
	}
}

// MaxTimestamp returns the later of a and b.
func MaxTimestamp(a, b Timestamp) Timestamp {
	if a.After(b) {
		return a
	}
	return b
}
