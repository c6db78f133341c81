// Package duration parses the duration notations vidsift accepts from
// configuration files and video metadata.
//
// Parse accepts Go durations extended with day and week units ("2d", "1w12h",
// "45 minutes"). ParseISO8601 accepts the PT#H#M#S form returned by video
// platform APIs.
package duration

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

var (
	// ErrEmpty is returned when an empty string is parsed.
	ErrEmpty = errors.New("duration: empty string")
	// ErrInvalidISO8601 is returned when an ISO-8601 duration cannot be parsed.
	ErrInvalidISO8601 = errors.New("duration: invalid ISO-8601 duration")
)

// extendedUnitHours maps day and week units to hours so the result can be
// handed to time.ParseDuration.
var extendedUnitHours = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"wks":   7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,
	"d":     24,
	"day":   24,
	"days":  24,
}

var wordUnits = map[string]string{
	"hour":         "h",
	"hours":        "h",
	"hr":           "h",
	"hrs":          "h",
	"minute":       "m",
	"minutes":      "m",
	"min":          "m",
	"mins":         "m",
	"second":       "s",
	"seconds":      "s",
	"sec":          "s",
	"secs":         "s",
	"millisecond":  "ms",
	"milliseconds": "ms",
	"millis":       "ms",
}

var (
	extendedUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)
	wordUnitPattern     = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|millis)`)
	iso8601Pattern      = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
)

// Parse parses a human-readable duration. Whitespace between a number and
// its unit is optional, so "30d" and "30 days" are equivalent.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmpty
	}

	negative := false
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		negative = true
		s = strings.TrimSpace(rest)
	}

	var hours int64
	remaining := extendedUnitPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := extendedUnitPattern.FindStringSubmatch(match)
		value, _ := strconv.ParseInt(m[1], 10, 64)
		hours += value * extendedUnitHours[strings.ToLower(m[2])]
		return ""
	})
	remaining = wordUnitPattern.ReplaceAllStringFunc(remaining, func(match string) string {
		m := wordUnitPattern.FindStringSubmatch(match)
		if short, ok := wordUnits[strings.ToLower(m[2])]; ok {
			return m[1] + short
		}
		return match
	})
	remaining = strings.Join(strings.Fields(remaining), "")

	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	b.WriteString(remaining)
	if b.Len() == 0 {
		return 0, nil
	}

	d, err := time.ParseDuration(b.String())
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseISO8601 parses an ISO-8601 duration such as "PT1H2M3S" or "P1DT2H".
// Year, month and week designators are rejected; video lengths never use them.
func ParseISO8601(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrEmpty
	}
	m := iso8601Pattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidISO8601, s)
	}

	var d time.Duration
	units := []time.Duration{Day, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidISO8601, s)
		}
		d += time.Duration(n) * unit
	}
	if m[4] != "" {
		secs, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidISO8601, s)
		}
		d += time.Duration(secs * float64(time.Second))
	}
	return d, nil
}

// Format renders a duration using the largest whole units, omitting zero
// components: 1h0m10s becomes "1h10s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, u := range []struct {
		unit   time.Duration
		suffix string
	}{
		{Week, "w"},
		{Day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
	} {
		if n := d / u.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			d -= n * u.unit
		}
	}
	if d > 0 {
		fmt.Fprintf(&b, "%dns", d)
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
