package rpchealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseHeaders(t *testing.T) {
	assert.Equal(t, []string{"STATUS", "SERVICE", "STARTED AT", "UPTIME"}, Response{}.Headers())
}

func TestResponseRows(t *testing.T) {
	r := Response{
		Status:    StatusOK,
		Service:   "rpcrtd",
		StartedAt: "2026-07-30T00:00:00Z",
		Uptime:    "1h2m3s",
		UptimeSec: 3723,
	}
	assert.Equal(t, [][]string{{"ok", "rpcrtd", "2026-07-30T00:00:00Z", "1h2m3s"}}, r.Rows())
}

func TestStatusDegradedValue(t *testing.T) {
	assert.Equal(t, Status("degraded"), StatusDegraded)
}
