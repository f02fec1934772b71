package astm

import (
	"fmt"
	"time"
)

// Timestamp layouts accepted on the wire, from most to least precise.
// LIS2-A timestamps carry no zone designator; they are interpreted in
// the gateway's local time zone.
const (
	layoutDateTime = "20060102150405"
	layoutMinute   = "200601021504"
	layoutDate     = "20060102"
)

// ParseTimestamp decodes an 8, 12 or 14 digit ASTM timestamp field in
// local time. An empty field yields the zero time with no error.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var layout string
	switch len(s) {
	case len(layoutDateTime):
		layout = layoutDateTime
	case len(layoutMinute):
		layout = layoutMinute
	case len(layoutDate):
		layout = layoutDate
	default:
		return time.Time{}, fmt.Errorf("astm: timestamp %q has unsupported length %d", s, len(s))
	}
	t, err := time.ParseInLocation(layout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("astm: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp encodes t in the full 14-digit form used on outbound
// records. The zero time encodes as the empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layoutDateTime)
}
