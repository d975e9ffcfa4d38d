package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	var cases = []struct {
		str    string
		expect Duration
	}{
		{"PT3M", Duration{Minutes: 3}},
		{"+PT3M", Duration{Minutes: 3}},
		{"+P1YT3M", Duration{Years: 1, Minutes: 3}},
		{"P0YT3M", Duration{Minutes: 3}},
		{"P0YT55S", Duration{Seconds: 55}},
		{"P0Y0M0DT0H0M30S", Duration{Seconds: 30}},
		{"P12DT5H15M23S", Duration{Days: 12, Hours: 5, Minutes: 15, Seconds: 23}},
		{"-PT2H", Duration{Negative: true, Hours: 2}},
		{"P12D", Duration{Days: 12}},
		{"P2W", Duration{Days: 14}},
		{"P1W2DT1H", Duration{Days: 9, Hours: 1}},
		{"PT0M", Duration{}},
	}
	for _, tc := range cases {
		var d, err = ParseDuration(tc.str)
		require.NoError(t, err, tc.str)
		require.Equal(t, tc.expect, d, tc.str)
	}

	for _, bad := range []string{"", "3M", "PT5X", "PT3M#", "pt3m"} {
		var _, err = ParseDuration(bad)
		require.Error(t, err, bad)
	}
}

func TestDurationAddToAndWindow(t *testing.T) {
	var base = time.Date(2013, 5, 12, 8, 33, 50, 0, time.UTC)

	var cases = []struct {
		str    string
		expect time.Time
	}{
		{"PT3M", base.Add(3 * time.Minute)},
		{"+P1YT5M", time.Date(2014, 5, 12, 8, 38, 50, 0, time.UTC)},
		{"P12DT5H15M23S", time.Date(2013, 5, 24, 13, 49, 13, 0, time.UTC)},
		{"-PT2H", base.Add(-2 * time.Hour)},
		{"P12D", time.Date(2013, 5, 24, 8, 33, 50, 0, time.UTC)},
	}
	for _, tc := range cases {
		var d, err = ParseDuration(tc.str)
		require.NoError(t, err, tc.str)
		require.Equal(t, tc.expect, d.AddTo(base), tc.str)
		require.Equal(t, tc.expect.Sub(base), d.Window(base), tc.str)
	}
}

func TestDurationString(t *testing.T) {
	var cases = []struct {
		str    string
		expect string
	}{
		{"PT3M", "PT3M"},
		{"+P1YT3M", "P1YT3M"},
		{"P0Y0M0DT0H0M30S", "PT30S"},
		{"P12DT5H15M23S", "P12DT5H15M23S"},
		{"-PT2H", "-PT2H"},
		{"P12D", "P12D"},
		{"PT0M", "PT0S"},
	}
	for _, tc := range cases {
		var d, err = ParseDuration(tc.str)
		require.NoError(t, err, tc.str)
		require.Equal(t, tc.expect, d.String(), tc.str)
	}
}

func TestParseDatetime(t *testing.T) {
	var expect = time.Date(2013, 5, 12, 8, 33, 50, 0, time.UTC)

	var parsed, err = ParseDatetime("2013-05-12T08:33:50Z")
	require.NoError(t, err)
	require.Equal(t, expect, parsed)

	parsed, err = ParseDatetime("2013-05-12T08:33:50.250000Z")
	require.NoError(t, err)
	require.Equal(t, expect.Add(250*time.Millisecond), parsed)

	_, err = ParseDatetime("2013-05-12 08:33:50")
	require.Error(t, err)
}

func TestFormatDatetimeRoundTrip(t *testing.T) {
	var instant = time.Date(2013, 5, 12, 8, 33, 50, 250000000, time.UTC)
	var str = FormatDatetime(instant)
	require.Equal(t, "2013-05-12T08:33:50.250000Z", str)

	var parsed, err = ParseDatetime(str)
	require.NoError(t, err)
	require.Equal(t, instant, parsed)
	require.Equal(t, str, FormatDatetime(parsed))
}
