package mqtmodels

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layouts with an explicit zone
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123Z,
	time.RFC1123,
}

// Layouts without a zone are read as UTC
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// trailing "(British Summer Time)" from Date.toString()
var zoneName = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// ParseTimestamp reads the timestamp formats sensors and vendors send. The result is UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(zoneName.ReplaceAllString(s, ""))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
