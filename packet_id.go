package mqttv3

import (
	"errors"
	"sync"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDNotFound  = errors.New("packet ID not found")
)

const maxPacketID = 1<<16 - 1

// PacketIDManager hands out identifiers for PUBLISH (QoS > 0), SUBSCRIBE
// and UNSUBSCRIBE. Allocation walks forward from the last identifier issued,
// wraps from 65535 to 1 and skips identifiers that are still held. Zero is
// never issued.
type PacketIDManager struct {
	mu    sync.Mutex
	taken [(maxPacketID + 1) / 64]uint64
	count int
	last  uint16
}

func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{}
}

func (m *PacketIDManager) held(id uint16) bool {
	return m.taken[id/64]&(1<<(id%64)) != 0
}

func (m *PacketIDManager) mark(id uint16, on bool) {
	if on {
		m.taken[id/64] |= 1 << (id % 64)
		m.count++
		return
	}
	m.taken[id/64] &^= 1 << (id % 64)
	m.count--
}

// Allocate reserves the next free identifier.
func (m *PacketIDManager) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count >= maxPacketID {
		return 0, ErrPacketIDExhausted
	}

	id := m.last
	for {
		if id++; id == 0 {
			id = 1
		}
		if !m.held(id) {
			break
		}
	}
	m.mark(id, true)
	m.last = id
	return id, nil
}

// Release frees id for reuse.
func (m *PacketIDManager) Release(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 || !m.held(id) {
		return ErrPacketIDNotFound
	}
	m.mark(id, false)
	return nil
}

func (m *PacketIDManager) IsUsed(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held(id)
}

// InUse counts the identifiers currently held.
func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Reset releases everything and restarts the sequence at 1. A new session
// starts this way.
func (m *PacketIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.taken[:])
	m.count = 0
	m.last = 0
}
