package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUptimeDays(t *testing.T) {
	assert.Equal(t, "3d 0h 30m 15s", FormatUptime("72h30m15s"))
}

func TestFormatUptimeHoursOnly(t *testing.T) {
	assert.Equal(t, "2h 5m 0s", FormatUptime("2h5m"))
}

func TestFormatUptimeMinutesOnly(t *testing.T) {
	assert.Equal(t, "5m 30s", FormatUptime("5m30s"))
}

func TestFormatUptimeSecondsOnly(t *testing.T) {
	assert.Equal(t, "42s", FormatUptime("42s"))
}

func TestFormatUptimeReturnsOriginalOnParseFailure(t *testing.T) {
	assert.Equal(t, "not-a-duration", FormatUptime("not-a-duration"))
}

func TestFormatTimeValidRFC3339(t *testing.T) {
	got := FormatTime("2026-07-30T12:00:00Z")
	assert.NotEqual(t, "2026-07-30T12:00:00Z", got)
}

func TestFormatTimeReturnsOriginalOnParseFailure(t *testing.T) {
	assert.Equal(t, "not-a-timestamp", FormatTime("not-a-timestamp"))
}
