package hub

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionCeilingAndWindowReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewAdmission(AdmissionConfig{MaxConnections: 3, Window: time.Minute, MaxReconnects: 100, ReconnectWindow: time.Second}, clock)

	for i := 0; i < 3; i++ {
		require.True(t, a.Admit("1.2.3.4"), "attempt %d", i)
	}
	assert.False(t, a.Admit("1.2.3.4"))
	assert.True(t, a.Admit("5.6.7.8"), "other IPs are tracked separately")

	clock.Advance(time.Minute)
	assert.True(t, a.Admit("1.2.3.4"))
}

func TestAdmissionReleaseFreesSlot(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxConnections: 1, Window: time.Hour}, clockwork.NewFakeClock())

	require.True(t, a.Admit("ip"))
	require.False(t, a.Admit("ip"))
	a.Release("ip")
	assert.True(t, a.Admit("ip"))

	a.Release("ip")
	a.Release("ip")
	a.Release("unknown")
	require.True(t, a.Admit("ip"))
	assert.False(t, a.Admit("ip"), "count never drops below zero")
}

func TestAdmissionReconnectWindowIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewAdmission(AdmissionConfig{MaxConnections: 10, Window: time.Hour, MaxReconnects: 2, ReconnectWindow: 10 * time.Second}, clock)

	require.True(t, a.Admit("ip"))
	a.Release("ip")
	require.True(t, a.Admit("ip"))
	a.Release("ip")
	assert.False(t, a.Admit("ip"), "reconnect burst exceeded")

	clock.Advance(10 * time.Second)
	assert.True(t, a.Admit("ip"))
}

func TestAdmissionPrune(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewAdmission(AdmissionConfig{MaxConnections: 5, Window: time.Minute, ReconnectWindow: 10 * time.Second}, clock)

	require.True(t, a.Admit("idle"))
	a.Release("idle")
	require.True(t, a.Admit("busy"))

	assert.Equal(t, 0, a.Prune(), "windows not lapsed yet")
	clock.Advance(time.Minute)
	assert.Equal(t, 1, a.Prune())
	assert.Equal(t, 1, a.Len())
}
