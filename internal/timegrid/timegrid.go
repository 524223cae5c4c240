package timegrid

import (
	"fmt"
	"strconv"
	"time"
)

// MinutesPerDay bounds every Minute value.
const MinutesPerDay = 24 * 60

const dateLayout = "2006-01-02"

// Minute is a wall-clock time expressed as minutes since midnight.
type Minute int

// FormatError reports malformed time or date input.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time format %q: %s", e.Input, e.Reason)
}

// ParseTime parses a 24-hour "HH:MM" string.
func ParseTime(s string) (Minute, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, &FormatError{Input: s, Reason: "expected HH:MM"}
	}

	hour, err := parseDigits(s[:2])
	if err != nil {
		return 0, &FormatError{Input: s, Reason: "hour is not numeric"}
	}
	minute, err := parseDigits(s[3:])
	if err != nil {
		return 0, &FormatError{Input: s, Reason: "minute is not numeric"}
	}

	if hour >= 24 {
		return 0, &FormatError{Input: s, Reason: "hour out of range"}
	}
	if minute >= 60 {
		return 0, &FormatError{Input: s, Reason: "minute out of range"}
	}

	return Minute(hour*60 + minute), nil
}

func parseDigits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// FormatTime renders m as "HH:MM". It panics when m is outside the day,
// which can only happen through a programming error.
func FormatTime(m Minute) string {
	if m < 0 || m >= MinutesPerDay {
		panic(fmt.Sprintf("timegrid: minute of day %d out of range", int(m)))
	}
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// String implements fmt.Stringer.
func (m Minute) String() string {
	return FormatTime(m)
}

// Duration converts m to a time.Duration offset from midnight.
func (m Minute) Duration() time.Duration {
	return time.Duration(m) * time.Minute
}

// WeekdayShortName returns Mon..Sun for the given date.
func WeekdayShortName(date time.Time) string {
	return date.Weekday().String()[:3]
}

// ParseDate parses a "YYYY-MM-DD" calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &FormatError{Input: s, Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// FormatDate renders the calendar day of d.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At returns the instant on day at minute m.
func At(day time.Time, m Minute) time.Time {
	return Day(day).Add(m.Duration())
}
