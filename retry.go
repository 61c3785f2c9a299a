package mqttv3

import (
	"errors"
	"time"
)

// ErrAckTimeout completes an operation whose acknowledgment did not arrive
// within the retry policy's attempt limit. The connection stays open.
var ErrAckTimeout = errors.New("mqttv3: acknowledgment timeout")

// Default retransmission timing.
const (
	DefaultRetryInitial   = 10 * time.Second
	DefaultRetryIncrement = 5 * time.Second
	DefaultRetryMax       = 60 * time.Second
)

// RetryPolicy controls retransmission of unacknowledged packets. The n-th
// wait (starting at zero) lasts Initial + n*Increment, capped at Max.
type RetryPolicy struct {
	// Initial is the wait before the first retransmission.
	Initial time.Duration

	// Increment is added to the wait after every retransmission.
	Increment time.Duration

	// Max caps the wait. Zero means no cap.
	Max time.Duration

	// MaxAttempts is the number of retransmissions before the operation
	// fails with ErrAckTimeout. Zero retransmits until acknowledged or the
	// connection is lost.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:   DefaultRetryInitial,
		Increment: DefaultRetryIncrement,
		Max:       DefaultRetryMax,
	}
}

// Delay returns the wait before retransmission number attempt+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Initial + time.Duration(attempt)*p.Increment
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if d <= 0 {
		d = DefaultRetryInitial
	}
	return d
}

// exhausted reports whether attempts retransmissions used up the policy.
func (p RetryPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer; false means the callback already started or the
	// timer was stopped before.
	Stop() bool
}

// Clock is the source of time for retransmission and keep-alive timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}
