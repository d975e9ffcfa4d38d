// Package schedule implements the ISO-8601 duration and timestamp handling
// used throughout OpenADR payloads, and the bounded start offsets that smear
// event activation across a fleet.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a parsed ISO-8601 duration such as "P12DT5H15M23S".
// Calendar components are kept separate so that month and year arithmetic
// stays exact when the duration is applied to a concrete instant.
type Duration struct {
	Negative bool
	Years    int
	Months   int
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

var durationRx = regexp.MustCompile(
	`^([+-])?P(?:(\d+)W)?(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration parses an ISO-8601 duration string. Omitted components are
// zero, an omitted sign is positive, and a week component folds into days.
func ParseDuration(s string) (Duration, error) {
	var m = durationRx.FindStringSubmatch(s)
	if m == nil {
		return Duration{}, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	var d Duration
	var weeks int
	d.Negative = m[1] == "-"
	for i, out := range []*int{&weeks, &d.Years, &d.Months, &d.Days, &d.Hours, &d.Minutes, &d.Seconds} {
		if m[i+2] == "" {
			continue
		}
		var v, err = strconv.Atoi(m[i+2])
		if err != nil {
			return Duration{}, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		*out = v
	}
	d.Days += 7 * weeks
	return d, nil
}

// IsZero returns true when every component of the duration is zero.
func (d Duration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Days == 0 &&
		d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0
}

// AddTo applies the duration to an instant. Year, month, and day components
// use calendar arithmetic; the clock components are exact.
func (d Duration) AddTo(t time.Time) time.Time {
	var sign = 1
	if d.Negative {
		sign = -1
	}
	t = t.AddDate(sign*d.Years, sign*d.Months, sign*d.Days)
	return t.Add(time.Duration(sign) * (time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second))
}

// Window returns the span the duration covers when anchored at |from|.
// Anchoring is what gives calendar components a concrete length.
func (d Duration) Window(from time.Time) time.Duration {
	return d.AddTo(from).Sub(from)
}

// String renders the duration back in canonical ISO-8601 form.
func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')

	for _, c := range []struct {
		v    int
		unit byte
	}{{d.Years, 'Y'}, {d.Months, 'M'}, {d.Days, 'D'}} {
		if c.v != 0 {
			fmt.Fprintf(&b, "%d%c", c.v, c.unit)
		}
	}
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 || d.IsZero() {
		b.WriteByte('T')
		for _, c := range []struct {
			v    int
			unit byte
		}{{d.Hours, 'H'}, {d.Minutes, 'M'}, {d.Seconds, 'S'}} {
			if c.v != 0 {
				fmt.Fprintf(&b, "%d%c", c.v, c.unit)
			}
		}
		if d.IsZero() {
			b.WriteString("0S")
		}
	}
	return b.String()
}

// datetimeLayout is the stored and logged representation of instants.
// Microseconds are kept at fixed width so persisted values round-trip
// byte-for-byte.
const datetimeLayout = "2006-01-02T15:04:05.000000Z"

// ParseDatetime parses an OpenADR timestamp. Payloads carry UTC instants
// with or without fractional seconds.
func ParseDatetime(s string) (time.Time, error) {
	var t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatDatetime renders an instant in the fixed UTC form used for storage.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(datetimeLayout)
}
