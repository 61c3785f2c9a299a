package mqttv3

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundQoS2(t *testing.T) {
	t.Run("held until release", func(t *testing.T) {
		window := newInboundQoS2()

		msg := &Message{Topic: "a", Payload: []byte("1"), QoS: QoS2, PacketID: 7}
		assert.True(t, window.receive(msg))
		assert.Equal(t, 1, window.len())

		released, ok := window.release(7)
		require.True(t, ok)
		assert.Same(t, msg, released)
		assert.Zero(t, window.len())
	})

	t.Run("retransmitted publish is not held twice", func(t *testing.T) {
		window := newInboundQoS2()

		first := &Message{Topic: "a", Payload: []byte("first"), PacketID: 1}
		assert.True(t, window.receive(first))
		assert.False(t, window.receive(&Message{Topic: "a", Payload: []byte("dup"), PacketID: 1}))

		released, ok := window.release(1)
		require.True(t, ok)
		assert.Equal(t, []byte("first"), released.Payload, "the first copy wins")

		_, ok = window.release(1)
		assert.False(t, ok, "second PUBREL finds nothing")
	})

	t.Run("identifier reusable after release", func(t *testing.T) {
		window := newInboundQoS2()

		assert.True(t, window.receive(&Message{PacketID: 3}))
		_, ok := window.release(3)
		require.True(t, ok)
		assert.True(t, window.receive(&Message{PacketID: 3}))
	})

	t.Run("unknown release", func(t *testing.T) {
		window := newInboundQoS2()
		msg, ok := window.release(99)
		assert.False(t, ok)
		assert.Nil(t, msg)
	})

	t.Run("reset", func(t *testing.T) {
		window := newInboundQoS2()
		for id := uint16(1); id <= 10; id++ {
			window.receive(&Message{PacketID: id})
		}
		window.reset()
		assert.Zero(t, window.len())
		assert.True(t, window.receive(&Message{PacketID: 1}))
	})
}

func TestInboundQoS2Concurrent(t *testing.T) {
	window := newInboundQoS2()

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			base := uint16(g * 1000)
			for i := uint16(1); i <= 500; i++ {
				window.receive(&Message{PacketID: base + i})
				_, ok := window.release(base + i)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, window.len())
}

func BenchmarkInboundQoS2ReceiveRelease(b *testing.B) {
	window := newInboundQoS2()
	msg := &Message{Topic: "bench", QoS: QoS2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg.PacketID = uint16(i%65535) + 1
		window.receive(msg)
		window.release(msg.PacketID)
	}
}
