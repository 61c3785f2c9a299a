package mqttv3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenStream() ([]byte, []Packet) {
	var stream []byte
	var packets []Packet
	for _, tt := range goldenPackets {
		stream = append(stream, tt.encoded...)
		packets = append(packets, tt.packet)
	}
	return stream, packets
}

func TestDecoderWholeStream(t *testing.T) {
	stream, want := goldenStream()

	dec := NewDecoder(0)
	got, err := dec.Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, dec.Buffered())
	assert.Equal(t, DecoderReady, dec.State())
}

func TestDecoderSingleByteChunks(t *testing.T) {
	stream, want := goldenStream()

	dec := NewDecoder(0)
	var got []Packet
	for i := range stream {
		packets, err := dec.Decode(stream[i : i+1])
		require.NoError(t, err, "byte %d", i)
		got = append(got, packets...)
	}

	assert.Equal(t, want, got)
	assert.Zero(t, dec.Buffered())
}

func TestDecoderArbitraryChunks(t *testing.T) {
	stream, want := goldenStream()

	for _, size := range []int{2, 3, 5, 7, 13, 64} {
		dec := NewDecoder(0)
		var got []Packet
		for start := 0; start < len(stream); start += size {
			end := min(start+size, len(stream))
			packets, err := dec.Decode(stream[start:end])
			require.NoError(t, err)
			got = append(got, packets...)
		}
		assert.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestDecoderNeedMoreData(t *testing.T) {
	dec := NewDecoder(0)

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrNeedMoreData)

	dec.Write([]byte{0x30, 0x07, 0x00})
	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, 3, dec.Buffered(), "nothing consumed")
	assert.Equal(t, DecoderReady, dec.State())

	dec.Write([]byte{0x03, 'a', '/', 'b', 'h', 'i'})
	pkt, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, &PublishPacket{Topic: "a/b", Payload: []byte("hi")}, pkt)
}

func TestDecoderRemainingLengthBoundaries(t *testing.T) {
	for _, length := range []uint32{127, 128, 16383, 16384, 2097151, 2097152} {
		pkt := &PublishPacket{Topic: "t", Payload: make([]byte, length-3)}
		data, err := EncodePacket(pkt)
		require.NoError(t, err)

		dec := NewDecoder(maxVarint)
		packets, err := dec.Decode(data)
		require.NoError(t, err, "length %d", length)
		require.Len(t, packets, 1)
		assert.Len(t, packets[0].(*PublishPacket).Payload, int(length-3))
	}

	t.Run("zero", func(t *testing.T) {
		packets, err := NewDecoder(0).Decode([]byte{0xC0, 0x00})
		require.NoError(t, err)
		assert.Equal(t, []Packet{&PingreqPacket{}}, packets)
	})

	t.Run("maximum is accepted", func(t *testing.T) {
		dec := NewDecoder(maxVarint)
		_, err := dec.Decode([]byte{0x30, 0xFF, 0xFF, 0xFF, 0x7F, 0x00, 0x01, 't'})
		require.NoError(t, err)
		assert.Equal(t, DecoderReady, dec.State(), "waiting for the body")
	})

	t.Run("five byte length is rejected", func(t *testing.T) {
		dec := NewDecoder(maxVarint)
		_, err := dec.Decode([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
		assert.ErrorIs(t, err, ErrMalformedRemainingLength)
		assert.ErrorIs(t, err, ErrMalformedPacket)
		assert.Equal(t, DecoderFailed, dec.State())
	})

	t.Run("beyond maximum cannot be encoded", func(t *testing.T) {
		_, err := appendVarint(nil, maxVarint+1)
		assert.ErrorIs(t, err, ErrVarintTooLarge)
	})
}

func TestDecoderMaxSize(t *testing.T) {
	data, err := EncodePacket(&PublishPacket{Topic: "t", Payload: make([]byte, 100)})
	require.NoError(t, err)

	dec := NewDecoder(50)
	// The header alone is enough to reject the packet.
	_, err = dec.Decode(data[:2])
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Equal(t, DecoderFailed, dec.State())
}

func TestDecoderFailureIsAbsorbing(t *testing.T) {
	dec := NewDecoder(0)

	packets, err := dec.Decode([]byte{0xC0, 0x00, 0xF0, 0x00, 0xD0, 0x00})
	assert.ErrorIs(t, err, ErrUnknownPacketType)
	assert.Equal(t, []Packet{&PingreqPacket{}}, packets, "packets before the bad one survive")
	assert.Equal(t, DecoderFailed, dec.State())
	assert.Equal(t, "failed", dec.State().String())
	assert.Zero(t, dec.Buffered())

	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrUnknownPacketType)

	n, err := dec.Write([]byte{0xD0, 0x00})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrUnknownPacketType)
	assert.ErrorIs(t, dec.Err(), ErrUnknownPacketType)

	dec.Reset()
	assert.Equal(t, DecoderReady, dec.State())
	assert.NoError(t, dec.Err())

	packets, err = dec.Decode([]byte{0xD0, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []Packet{&PingrespPacket{}}, packets)
}

func TestDecoderMalformedBodies(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		wantErr error
	}{
		{"CONNECT level 5", append([]byte{0x10, 0x0C, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x05, 0x02, 0x00, 0x3C}, 0x00, 0x00), ErrInvalidProtocolVersion},
		{"PUBREL wrong flags", []byte{0x60, 0x02, 0x00, 0x01}, ErrInvalidPacketFlags},
		{"PUBACK trailing byte", []byte{0x40, 0x03, 0x00, 0x01, 0x00}, ErrInvalidRemainingLength},
		{"SUBSCRIBE empty", []byte{0x82, 0x02, 0x00, 0x01}, ErrNoTopicFilters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(0).Decode(tt.raw)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestDecoderMatchesReadPacket(t *testing.T) {
	stream, _ := goldenStream()

	r := bytes.NewReader(stream)
	dec := NewDecoder(0)
	decoded, err := dec.Decode(stream)
	require.NoError(t, err)

	for _, pkt := range decoded {
		fromReader, _, err := ReadPacket(r, 0)
		require.NoError(t, err)
		assert.Equal(t, fromReader, pkt)
	}
}

func TestDecoderStateString(t *testing.T) {
	assert.Equal(t, "ready", DecoderReady.String())
	assert.Equal(t, "DecoderState(7)", DecoderState(7).String())
}
