package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISODate(t *testing.T) {
	ts, err := ParseISODate("2026-01-05")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-05", FormatISODate(ts))

	for _, bad := range []string{"", "2026-1-5", "05.01.2026", "2026-13-01", "garbage"} {
		_, err := ParseISODate(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddDaysISO(t *testing.T) {
	got, err := AddDaysISO("2026-01-05", 6)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-11", got)

	got, err = AddDaysISO("2026-03-01", -1)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", got)
}

func TestDaysBetweenISO(t *testing.T) {
	d, err := DaysBetweenISO("2026-01-05", "2026-01-11")
	require.NoError(t, err)
	assert.Equal(t, 6, d)

	d, err = DaysBetweenISO("2026-01-11", "2026-01-05")
	require.NoError(t, err)
	assert.Equal(t, -6, d)
}

func TestWeekStartISO(t *testing.T) {
	cases := map[string]string{
		"2026-01-05": "2026-01-05", // Monday maps to itself
		"2026-01-06": "2026-01-05",
		"2026-01-11": "2026-01-05", // Sunday belongs to the preceding Monday
		"2026-01-12": "2026-01-12",
	}
	for in, want := range cases {
		got, err := WeekStartISO(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestDayTypeIndex(t *testing.T) {
	idx, err := DayTypeIndex("2026-01-05") // Monday
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = DayTypeIndex("2026-01-11") // Sunday
	require.NoError(t, err)
	assert.Equal(t, 6, idx)
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 510, m)

	m, err = ParseClock("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, m)

	m, err = ParseClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, 1439, m)

	for _, bad := range []string{"", "8", "24:00", "12:60", "ab:cd", "-1:00"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "08:30", FormatClock(510))
	assert.Equal(t, "00:00", FormatClock(1440))
	assert.Equal(t, "23:00", FormatClock(-60))
}

func TestOverlaps(t *testing.T) {
	assert.True(t, Overlaps(480, 960, 900, 1200))
	assert.False(t, Overlaps(480, 960, 960, 1200), "touching intervals do not overlap")
	assert.False(t, Overlaps(480, 480, 0, 1440), "zero-length never overlaps")
	assert.True(t, Overlaps(1380, 5700, 1440, 2820), "cross-midnight spans collide with the next day")
}
