package posdata

import (
	"strings"
	"time"
)

// Channel is a logical input quantity. Columns maps it to the header name
// used by a particular position log.
type Channel string

const (
	UTC       Channel = "utc"
	Latitude  Channel = "lat"
	Longitude Channel = "lon"
	Altitude  Channel = "alt"
	Visible   Channel = "visible"
	Timestamp Channel = "timestamp"
)

// Columns names the log column carrying each channel.
type Columns map[Channel]string

// DefaultColumns matches the headers written by the PosPac export.
func DefaultColumns() Columns {
	return Columns{
		UTC:       "UTC_Time",
		Latitude:  "Latitude",
		Longitude: "Longitude",
		Altitude:  "Height",
		Visible:   "ns",
		Timestamp: "Timestamp",
	}
}

// Name returns the column for ch, falling back to the channel key.
func (c Columns) Name(ch Channel) string {
	if n := strings.TrimSpace(c[ch]); n != "" {
		return n
	}
	return string(ch)
}

// Names resolves chs in order.
func (c Columns) Names(chs []Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = c.Name(ch)
	}
	return out
}

var timeLayouts = []string{
	time.DateTime,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// ParseTime reads a timestamp cell. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range timeLayouts {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.UTC(), nil
		}
		err = perr
	}
	return time.Time{}, err
}

// FormatTime renders t in the canonical form used as a lookup key:
// "2006-01-02 15:04:05" with microseconds appended when non-zero.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format(time.DateTime)
	}
	return t.Format("2006-01-02 15:04:05.000000")
}
