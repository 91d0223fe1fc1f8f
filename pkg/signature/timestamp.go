package signature

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DefaultTimeZone is used for submission timestamps when none is configured.
const DefaultTimeZone = "America/Bogota"

// FormatTimestamp renders t in loc the way the es-CO locale prints a date
// and time, e.g. "19/10/2026, 3:04:05 p. m.". A nil loc means UTC.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)

	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	period := "a. m."
	if t.Hour() >= 12 {
		period = "p. m."
	}

	return fmt.Sprintf("%d/%d/%d, %d:%02d:%02d %s",
		t.Day(), int(t.Month()), t.Year(), hour, t.Minute(), t.Second(), period)
}

// LoadLocation resolves a time zone name, falling back to DefaultTimeZone
// for an empty name and to UTC when the zone database lacks the zone.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
