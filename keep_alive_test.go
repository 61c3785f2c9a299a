package mqttv3

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keepAliveHarness struct {
	ka      *keepAlive
	clock   *manualClock
	pings   int
	expired int
}

// newKeepAliveHarness wires a keepAlive whose ping counts as outbound
// activity, the way a real PINGREQ write does.
func newKeepAliveHarness(interval, timeout time.Duration) *keepAliveHarness {
	h := &keepAliveHarness{clock: newManualClock()}
	h.ka = newKeepAlive(h.clock, interval, timeout,
		func() error {
			h.pings++
			h.ka.sent()
			return nil
		},
		func() { h.expired++ },
	)
	return h
}

func TestKeepAliveDisabled(t *testing.T) {
	h := newKeepAliveHarness(0, 0)
	h.ka.start()

	h.clock.Advance(time.Hour)
	assert.Zero(t, h.pings)
	assert.Zero(t, h.clock.active())
}

func TestKeepAlivePingsWhenIdle(t *testing.T) {
	h := newKeepAliveHarness(10*time.Second, 5*time.Second)
	h.ka.start()

	h.clock.Advance(9 * time.Second)
	assert.Zero(t, h.pings)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.pings)
	assert.True(t, h.ka.outstanding())

	h.ka.pong()
	assert.False(t, h.ka.outstanding())

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 2, h.pings, "next ping one interval after the previous one")
	assert.Zero(t, h.expired)
}

func TestKeepAliveActivityPostponesPing(t *testing.T) {
	h := newKeepAliveHarness(10*time.Second, 5*time.Second)
	h.ka.start()

	h.clock.Advance(6 * time.Second)
	h.ka.sent()

	h.clock.Advance(4 * time.Second)
	assert.Zero(t, h.pings, "only 4s of silence")

	h.clock.Advance(6 * time.Second)
	assert.Equal(t, 1, h.pings)
}

func TestKeepAliveInboundTrafficDoesNotCount(t *testing.T) {
	h := newKeepAliveHarness(10*time.Second, 5*time.Second)
	h.ka.start()

	// PINGRESP without an outstanding PINGREQ changes nothing.
	h.clock.Advance(5 * time.Second)
	h.ka.pong()

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, h.pings)
}

func TestKeepAliveTimeout(t *testing.T) {
	h := newKeepAliveHarness(10*time.Second, 5*time.Second)
	h.ka.start()

	h.clock.Advance(10 * time.Second)
	require.Equal(t, 1, h.pings)

	h.clock.Advance(4 * time.Second)
	assert.Zero(t, h.expired)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.expired)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.expired, "expires once")
	assert.Equal(t, 1, h.pings, "no pings after expiry")
}

func TestKeepAliveTimeoutDefaultsToInterval(t *testing.T) {
	h := newKeepAliveHarness(10*time.Second, 0)
	h.ka.start()

	h.clock.Advance(10 * time.Second)
	h.clock.Advance(9 * time.Second)
	assert.Zero(t, h.expired)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.expired)
}

func TestKeepAliveStop(t *testing.T) {
	h := newKeepAliveHarness(10*time.Second, 5*time.Second)
	h.ka.start()

	h.ka.stop()
	assert.Zero(t, h.clock.active())

	h.clock.Advance(time.Hour)
	assert.Zero(t, h.pings)
	assert.Zero(t, h.expired)
}

func TestKeepAlivePingWriteError(t *testing.T) {
	clock := newManualClock()
	expired := 0
	ka := newKeepAlive(clock, 10*time.Second, 5*time.Second,
		func() error { return errors.New("broken pipe") },
		func() { expired++ },
	)
	ka.start()

	clock.Advance(10 * time.Second)
	assert.True(t, ka.outstanding(), "a failed write still waits for the answer")

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, expired)
}
