package mqttv3

import (
	"errors"
	"sync/atomic"
)

var ErrQuotaExceeded = errors.New("in-flight window full")

// DefaultMaxInflight leaves the window bounded only by the packet
// identifier space.
const DefaultMaxInflight = 65535

// FlowController bounds how many QoS 1 and QoS 2 publishes may be awaiting
// their final acknowledgment. The count is kept in an atomic so the publish
// path never blocks on it.
type FlowController struct {
	window   uint16
	inFlight atomic.Int32
}

// NewFlowController sizes the window. Zero selects DefaultMaxInflight.
func NewFlowController(window uint16) *FlowController {
	if window == 0 {
		window = DefaultMaxInflight
	}
	return &FlowController{window: window}
}

func (f *FlowController) MaxInflight() uint16 { return f.window }

func (f *FlowController) InFlight() uint16 { return uint16(f.inFlight.Load()) }

// Available is the number of publishes that could start now.
func (f *FlowController) Available() uint16 {
	return f.window - min(f.InFlight(), f.window)
}

// Acquire claims a slot or fails with ErrQuotaExceeded.
func (f *FlowController) Acquire() error {
	for {
		n := f.inFlight.Load()
		if n >= int32(f.window) {
			return ErrQuotaExceeded
		}
		if f.inFlight.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release gives a slot back. Releasing an empty window is a no-op.
func (f *FlowController) Release() {
	for {
		n := f.inFlight.Load()
		if n == 0 || f.inFlight.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (f *FlowController) Reset() { f.inFlight.Store(0) }
