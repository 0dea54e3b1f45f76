package slots

import (
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// LocalTime is an instant expressed in a scheduler timezone at minute granularity
type LocalTime struct {
	Date     string // YYYY-MM-DD
	Clock    string // HH:MM
	Time     time.Time
	Location *time.Location
}

// LoadZone resolves an IANA timezone name. Empty means UTC.
func LoadZone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return loc, nil
}

// SanitizeZone returns tz when it is loadable, otherwise "UTC" and the load error
func SanitizeZone(tz string) (string, error) {
	if tz == "" {
		return "UTC", nil
	}
	if _, err := LoadZone(tz); err != nil {
		return "UTC", err
	}
	return tz, nil
}

// ResolveTimeInZone converts an instant into the given IANA timezone using the tz database
func ResolveTimeInZone(t time.Time, tz string) (LocalTime, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return LocalTime{}, err
	}
	local := t.In(loc)
	return LocalTime{
		Date:     local.Format(dateLayout),
		Clock:    local.Format(clockLayout),
		Time:     local,
		Location: loc,
	}, nil
}

// StartOfDay returns local midnight of the day containing t
func (l LocalTime) StartOfDay() time.Time {
	y, m, d := l.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.Location)
}
