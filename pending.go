package mqttv3

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrPacketIDInUse = errors.New("packet ID already has a pending operation")

// opState is the position of a pending operation in its handshake.
type opState int

const (
	opAwaitingPuback opState = iota + 1
	opAwaitingPubrec
	opAwaitingPubcomp
	opAwaitingSuback
	opAwaitingUnsuback
)

func (s opState) String() string {
	switch s {
	case opAwaitingPuback:
		return "awaiting-puback"
	case opAwaitingPubrec:
		return "awaiting-pubrec"
	case opAwaitingPubcomp:
		return "awaiting-pubcomp"
	case opAwaitingSuback:
		return "awaiting-suback"
	case opAwaitingUnsuback:
		return "awaiting-unsuback"
	default:
		return "unknown"
	}
}

// pendingKey identifies an operation by packet identifier and the kind of
// packet that opened it. Publishes, subscribes and unsubscribes never share
// an identifier because all three draw from one PacketIDManager.
type pendingKey struct {
	id   uint16
	kind PacketType
}

// pendingOp is one unacknowledged operation. The registry owns it from
// start until finish; its timer only ever touches the op itself.
type pendingOp struct {
	key   pendingKey
	token operationToken

	mu       sync.Mutex
	state    opState
	packet   Packet
	attempts int
	timer    Timer
	gen      uint64
	finished bool
	sentAt   time.Time
	stopCtx  func() bool
}

// retransmission returns the packet to resend for the current state.
func (op *pendingOp) retransmission() Packet {
	if pub, ok := op.packet.(*PublishPacket); ok {
		dup := *pub
		dup.DUP = true
		return &dup
	}
	return op.packet
}

type registryConfig struct {
	clock   Clock
	policy  RetryPolicy
	send    func(Packet) error
	logger  Logger
	metrics Metrics

	// release is called once for every operation that leaves the registry.
	release func(key pendingKey)
}

// pendingRegistry tracks operations awaiting acknowledgment and drives their
// retransmission timers.
//
// Lock order is op.mu before r.mu. r.mu is never held while calling out.
type pendingRegistry struct {
	cfg registryConfig

	mu  sync.Mutex
	ops map[pendingKey]*pendingOp
}

func newPendingRegistry(cfg registryConfig) *pendingRegistry {
	if cfg.clock == nil {
		cfg.clock = RealClock()
	}
	if cfg.logger == nil {
		cfg.logger = NewNoOpLogger()
	}
	if cfg.metrics == nil {
		cfg.metrics = &NoOpMetrics{}
	}
	return &pendingRegistry{
		cfg: cfg,
		ops: make(map[pendingKey]*pendingOp),
	}
}

// start registers an operation, sends its packet and arms its retransmission
// timer. If ctx is cancelled before the operation completes, the operation is
// cancelled with the context's cause.
func (r *pendingRegistry) start(ctx context.Context, key pendingKey, state opState, packet Packet, tok operationToken) error {
	op := &pendingOp{
		key:    key,
		token:  tok,
		state:  state,
		packet: packet,
	}

	// op.mu is held before op becomes visible, so failAll and cancel wait
	// until the first send and the timer are in place.
	op.mu.Lock()
	defer op.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.ops[key]; exists {
		r.mu.Unlock()
		return ErrPacketIDInUse
	}
	r.ops[key] = op
	r.mu.Unlock()

	r.cfg.metrics.Gauge(MetricInflight, nil).Inc()

	if op.finished {
		return nil
	}

	op.sentAt = r.cfg.clock.Now()
	if err := r.cfg.send(packet); err != nil {
		r.finishLocked(op, nil, err)
		return nil
	}

	r.armLocked(op)

	if ctx != nil && ctx.Done() != nil {
		op.stopCtx = context.AfterFunc(ctx, func() {
			r.cancelOwned(key, tok, context.Cause(ctx))
		})
	}

	return nil
}

// armLocked schedules the next retransmission of op. op.mu must be held.
func (r *pendingRegistry) armLocked(op *pendingOp) {
	op.gen++
	gen := op.gen
	op.timer = r.cfg.clock.AfterFunc(r.cfg.policy.Delay(op.attempts), func() {
		r.retransmit(op, gen)
	})
}

func (r *pendingRegistry) stopTimerLocked(op *pendingOp) {
	if op.timer != nil {
		op.timer.Stop()
		op.timer = nil
	}
	// A callback already blocked on op.mu sees a newer generation and exits.
	op.gen++
}

// retransmit is the timer callback. Holding op.mu for the whole resend means
// a cancel that returns has either prevented the resend or waited for it.
func (r *pendingRegistry) retransmit(op *pendingOp, gen uint64) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.finished || op.gen != gen {
		return
	}

	if r.cfg.policy.exhausted(op.attempts) {
		r.cfg.logger.Warn("acknowledgment timeout", LogFields{
			LogFieldPacketID:   op.key.id,
			LogFieldPacketType: op.key.kind.String(),
			LogFieldState:      op.state.String(),
			LogFieldAttempts:   op.attempts,
		})
		r.finishLocked(op, nil, ErrAckTimeout)
		return
	}

	op.attempts++
	packet := op.retransmission()

	r.cfg.logger.Debug("retransmitting packet", LogFields{
		LogFieldPacketID:   op.key.id,
		LogFieldPacketType: packet.Type().String(),
		LogFieldAttempts:   op.attempts,
	})
	r.cfg.metrics.Counter(MetricRetransmissions, MetricLabels{"type": packet.Type().String()}).Inc()

	if err := r.cfg.send(packet); err != nil {
		// The read loop observes the broken connection and fails every
		// operation; keep the timer so nothing is lost if it does not.
		r.cfg.logger.Debug("retransmission failed", LogFields{
			LogFieldPacketID: op.key.id,
			LogFieldError:    err.Error(),
		})
	}

	r.armLocked(op)
}

// finishLocked completes op with either the terminal ack or err, removes it
// from the registry and releases its identifier. op.mu must be held.
func (r *pendingRegistry) finishLocked(op *pendingOp, ack Packet, err error) {
	if op.finished {
		return
	}
	op.finished = true
	r.stopTimerLocked(op)

	if op.stopCtx != nil {
		op.stopCtx()
		op.stopCtx = nil
	}

	r.mu.Lock()
	if r.ops[op.key] == op {
		delete(r.ops, op.key)
	}
	r.mu.Unlock()

	r.cfg.metrics.Gauge(MetricInflight, nil).Dec()
	if err == nil {
		r.cfg.metrics.Histogram(MetricAckLatency, MetricLabels{"type": op.key.kind.String()}).
			Observe(r.cfg.clock.Now().Sub(op.sentAt).Seconds())
	}

	if r.cfg.release != nil {
		r.cfg.release(op.key)
	}

	if err != nil {
		op.token.complete(err)
		return
	}
	op.token.resolve(ack)
}

func (r *pendingRegistry) lookup(key pendingKey) *pendingOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[key]
}

// handleAck dispatches an inbound acknowledgment to its pending operation.
// It reports whether an operation accepted the packet; unmatched
// acknowledgments are logged and dropped.
func (r *pendingRegistry) handleAck(ack PacketWithID) bool {
	var key pendingKey
	switch ack.(type) {
	case *PubackPacket, *PubrecPacket, *PubcompPacket:
		key = pendingKey{id: ack.GetPacketID(), kind: PacketPUBLISH}
	case *SubackPacket:
		key = pendingKey{id: ack.GetPacketID(), kind: PacketSUBSCRIBE}
	case *UnsubackPacket:
		key = pendingKey{id: ack.GetPacketID(), kind: PacketUNSUBSCRIBE}
	default:
		return false
	}

	op := r.lookup(key)
	if op == nil {
		r.unmatched(ack, "no pending operation")
		return false
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.finished {
		r.unmatched(ack, "operation already finished")
		return false
	}

	switch ack.(type) {
	case *PubackPacket:
		if op.state != opAwaitingPuback {
			r.unmatched(ack, "unexpected in state "+op.state.String())
			return false
		}
		r.finishLocked(op, ack, nil)

	case *PubrecPacket:
		switch op.state {
		case opAwaitingPubrec:
			r.stopTimerLocked(op)
			op.state = opAwaitingPubcomp
			op.packet = &PubrelPacket{PacketID: key.id}
			op.attempts = 0
			if err := r.cfg.send(op.packet); err != nil {
				r.cfg.logger.Debug("failed to send PUBREL", LogFields{
					LogFieldPacketID: key.id,
					LogFieldError:    err.Error(),
				})
			}
			r.armLocked(op)
		case opAwaitingPubcomp:
			// The broker missed our PUBREL; answer once without touching the timer.
			if err := r.cfg.send(op.packet); err != nil {
				r.cfg.logger.Debug("failed to resend PUBREL", LogFields{
					LogFieldPacketID: key.id,
					LogFieldError:    err.Error(),
				})
			}
		default:
			r.unmatched(ack, "unexpected in state "+op.state.String())
			return false
		}

	case *PubcompPacket:
		if op.state != opAwaitingPubcomp {
			r.unmatched(ack, "unexpected in state "+op.state.String())
			return false
		}
		r.finishLocked(op, ack, nil)

	case *SubackPacket, *UnsubackPacket:
		r.finishLocked(op, ack, nil)
	}

	return true
}

func (r *pendingRegistry) unmatched(ack Packet, reason string) {
	var id uint16
	if withID, ok := ack.(PacketWithID); ok {
		id = withID.GetPacketID()
	}
	r.cfg.logger.Debug("dropping unmatched acknowledgment", LogFields{
		LogFieldPacketID:   id,
		LogFieldPacketType: ack.Type().String(),
		LogFieldReason:     reason,
	})
	r.cfg.metrics.Counter(MetricUnmatchedAcks, MetricLabels{"type": ack.Type().String()}).Inc()
}

// cancel stops the operation's timer, removes it and completes its token
// with err. Bytes already written are not recalled. It reports whether an
// operation was cancelled.
func (r *pendingRegistry) cancel(key pendingKey, err error) bool {
	return r.cancelOwned(key, nil, err)
}

// cancelOwned is cancel restricted to the operation owned by tok. A nil tok
// matches any operation. Identifiers are reused, so a stale token must not
// cancel a newer operation.
func (r *pendingRegistry) cancelOwned(key pendingKey, tok operationToken, err error) bool {
	op := r.lookup(key)
	if op == nil || (tok != nil && op.token != tok) {
		return false
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.finished {
		return false
	}
	r.finishLocked(op, nil, err)
	return true
}

// failAll completes every pending operation with err and empties the
// registry. It is used when the connection is lost.
func (r *pendingRegistry) failAll(err error) int {
	r.mu.Lock()
	ops := make([]*pendingOp, 0, len(r.ops))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	r.mu.Unlock()

	failed := 0
	for _, op := range ops {
		op.mu.Lock()
		if !op.finished {
			r.finishLocked(op, nil, err)
			failed++
		}
		op.mu.Unlock()
	}

	return failed
}

// len returns the number of pending operations.
func (r *pendingRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// state returns the handshake state of the operation at key.
func (r *pendingRegistry) state(key pendingKey) (opState, bool) {
	op := r.lookup(key)
	if op == nil {
		return 0, false
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finished {
		return 0, false
	}
	return op.state, true
}
