package mqttv3

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReader(t *testing.T) {
	r := acquireReader([]byte("hello world"))
	defer releaseReader(r)

	head := make([]byte, 5)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(head))

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, " world", string(rest))

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderReusedFromStart(t *testing.T) {
	r := acquireReader([]byte("first"))
	r.ReadByte()
	releaseReader(r)

	r = acquireReader([]byte("second"))
	defer releaseReader(r)

	assert.Equal(t, 6, r.Len())
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestAcquireBuffer(t *testing.T) {
	buf := acquireBuffer()
	assert.Zero(t, buf.Len())

	buf.WriteString("dirty")
	releaseBuffer(buf)

	buf = acquireBuffer()
	assert.Zero(t, buf.Len(), "pooled buffers come back empty")
	releaseBuffer(buf)
}

func TestReleaseEdgeCases(t *testing.T) {
	assert.NotPanics(t, func() {
		releaseReader(nil)
		releaseBuffer(nil)
	})

	large := acquireBuffer()
	large.Write(make([]byte, maxPooledBuffer+1))
	assert.NotPanics(t, func() { releaseBuffer(large) })
}

func TestPoolConcurrency(t *testing.T) {
	var wg sync.WaitGroup

	for range 500 {
		wg.Go(func() {
			data, err := EncodePacket(&PublishPacket{Topic: "a/b", Payload: []byte("concurrent"), QoS: QoS1, PacketID: 1})
			if !assert.NoError(t, err) {
				return
			}

			pkt, _, err := ReadPacket(acquireReader(data), 0)
			if assert.NoError(t, err) {
				assert.Equal(t, "a/b", pkt.(*PublishPacket).Topic)
			}
		})
	}

	wg.Wait()
}

func BenchmarkEncodePacket(b *testing.B) {
	pkt := &PublishPacket{Topic: "sensors/1/temp", Payload: make([]byte, 256), QoS: QoS1, PacketID: 1}

	b.ReportAllocs()
	for b.Loop() {
		EncodePacket(pkt)
	}
}
