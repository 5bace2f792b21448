package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ref builds a fixed reference instant on an arbitrary date.
func ref(hour, min int) time.Time {
	return time.Date(2025, time.March, 10, hour, min, 0, 0, time.Local)
}

func TestParseTimeOfDay_Formats(t *testing.T) {
	now := ref(12, 0)

	cases := []struct {
		in   string
		hour int
		min  int
	}{
		{"8pm", 20, 0},
		{"8:30pm", 20, 30},
		{"8:30 PM", 20, 30},
		{"20:00", 20, 0},
		{"08:00", 8, 0},
		{"20:30:00", 20, 30},
	}

	for _, tc := range cases {
		got, err := ParseTimeOfDay(tc.in, now)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.hour, got.Hour(), tc.in)
		assert.Equal(t, tc.min, got.Minute(), tc.in)
		assert.Equal(t, now.Day(), got.Day(), tc.in)
	}
}

func TestParseTimeOfDay_Invalid(t *testing.T) {
	_, err := ParseTimeOfDay("invalid", ref(12, 0))
	assert.Error(t, err)
}

// TestRange_FutureToday covers a window later the same day: the delay
// is the gap to start, and remaining equals the full window.
func TestRange_FutureToday(t *testing.T) {
	delay, remaining, total, err := Range("20:00", "20:30", ref(18, 0))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, delay)
	assert.Equal(t, 30*time.Minute, remaining)
	assert.Equal(t, 30*time.Minute, total)
}

// TestRange_InsideWindow covers now between start and end: no delay,
// remaining runs to the end of the window.
func TestRange_InsideWindow(t *testing.T) {
	delay, remaining, total, err := Range("20:00", "21:00", ref(20, 15))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, 45*time.Minute, remaining)
	assert.Equal(t, time.Hour, total)
}

// TestRange_OvernightWrap covers end <= start as times of day: the end
// rolls to the next day and the total stays positive.
func TestRange_OvernightWrap(t *testing.T) {
	delay, remaining, total, err := Range("23:00", "01:00", ref(12, 0))
	require.NoError(t, err)

	assert.Equal(t, 11*time.Hour, delay)
	assert.Equal(t, 2*time.Hour, remaining)
	assert.Equal(t, 2*time.Hour, total)
}

// TestRange_InsideOvernightWindow places now inside a window that
// started yesterday evening.
func TestRange_InsideOvernightWindow(t *testing.T) {
	delay, remaining, total, err := Range("23:00", "01:00", ref(23, 30))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, 90*time.Minute, remaining)
	assert.Equal(t, 2*time.Hour, total)
}

// TestRange_PastRollsToTomorrow covers both ends already behind now:
// the whole window moves to the next day.
func TestRange_PastRollsToTomorrow(t *testing.T) {
	delay, remaining, total, err := Range("08:00", "09:00", ref(12, 0))
	require.NoError(t, err)

	assert.Equal(t, 20*time.Hour, delay)
	assert.Equal(t, time.Hour, remaining)
	assert.Equal(t, time.Hour, total)
}

// TestRange_RemainingFloor verifies the one second minimum when now is
// right at the end of the window.
func TestRange_RemainingFloor(t *testing.T) {
	now := time.Date(2025, time.March, 10, 20, 59, 59, 500_000_000, time.Local)
	delay, remaining, _, err := Range("20:00", "21:00", now)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), delay)
	assert.Equal(t, time.Second, remaining)
}

func TestRange_InvalidInput(t *testing.T) {
	_, _, _, err := Range("nope", "21:00", ref(12, 0))
	assert.Error(t, err)

	_, _, _, err = Range("20:00", "later", ref(12, 0))
	assert.Error(t, err)
}
