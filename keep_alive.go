package mqttv3

import (
	"errors"
	"sync"
	"time"
)

// ErrKeepAliveTimeout is the cause of a connection loss when the broker did
// not answer a PINGREQ in time.
var ErrKeepAliveTimeout = errors.New("keep-alive timeout: no PINGRESP from broker")

// keepAlive sends PINGREQ after interval of outbound silence and reports the
// connection dead when the PINGRESP does not arrive within timeout.
type keepAlive struct {
	clock    Clock
	interval time.Duration
	timeout  time.Duration
	ping     func() error
	expired  func()

	mu         sync.Mutex
	lastSent   time.Time
	pingSentAt time.Time
	timer      Timer
	stopped    bool
}

func newKeepAlive(clock Clock, interval, timeout time.Duration, ping func() error, expired func()) *keepAlive {
	if timeout <= 0 {
		timeout = interval
	}
	return &keepAlive{
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		expired:  expired,
	}
}

// start arms the first check. A zero interval disables keep-alive.
func (k *keepAlive) start() {
	if k.interval <= 0 {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.lastSent = k.clock.Now()
	k.scheduleLocked(k.interval)
}

func (k *keepAlive) scheduleLocked(d time.Duration) {
	k.timer = k.clock.AfterFunc(d, k.tick)
}

// sent records outbound activity.
func (k *keepAlive) sent() {
	k.mu.Lock()
	k.lastSent = k.clock.Now()
	k.mu.Unlock()
}

// pong records a PINGRESP.
func (k *keepAlive) pong() {
	k.mu.Lock()
	k.pingSentAt = time.Time{}
	k.mu.Unlock()
}

// outstanding reports whether a PINGREQ is waiting for its PINGRESP.
func (k *keepAlive) outstanding() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return !k.pingSentAt.IsZero()
}

func (k *keepAlive) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopped = true
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

// tick runs on the clock. Callbacks are invoked without k.mu held because
// both of them re-enter the client.
func (k *keepAlive) tick() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}

	now := k.clock.Now()

	if !k.pingSentAt.IsZero() {
		waited := now.Sub(k.pingSentAt)
		if waited >= k.timeout {
			k.stopped = true
			k.mu.Unlock()
			k.expired()
			return
		}
		k.scheduleLocked(k.timeout - waited)
		k.mu.Unlock()
		return
	}

	idle := now.Sub(k.lastSent)
	if idle < k.interval {
		k.scheduleLocked(k.interval - idle)
		k.mu.Unlock()
		return
	}

	k.pingSentAt = now
	k.scheduleLocked(k.timeout)
	k.mu.Unlock()

	// A failed write surfaces through the read loop; the pending timeout
	// check covers a connection that silently stopped.
	_ = k.ping()
}
