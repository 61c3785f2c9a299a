package mqttv3

import "sync"

// inboundQoS2 holds QoS 2 messages received from the broker between the
// PUBREC we send and the PUBREL that releases them. A message is delivered
// to the application only when it leaves this window, so a PUBLISH the broker
// retransmits before PUBREL is never delivered twice.
type inboundQoS2 struct {
	mu   sync.Mutex
	held map[uint16]*Message
}

func newInboundQoS2() *inboundQoS2 {
	return &inboundQoS2{held: make(map[uint16]*Message)}
}

// receive records msg under its packet identifier. It reports false when the
// identifier is already held, meaning msg is a retransmission.
func (t *inboundQoS2) receive(msg *Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.held[msg.PacketID]; ok {
		return false
	}
	t.held[msg.PacketID] = msg
	return true
}

// release removes and returns the message held under id.
func (t *inboundQoS2) release(id uint16) (*Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.held[id]
	if ok {
		delete(t.held, id)
	}
	return msg, ok
}

// len returns the number of held messages.
func (t *inboundQoS2) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

// reset drops every held message. It is called when the broker reports that
// no session was resumed, because the broker forgot them too.
func (t *inboundQoS2) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.held)
}
