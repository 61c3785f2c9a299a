package mqttv3

import (
	"errors"
	"fmt"
)

// ErrNeedMoreData is returned by Decoder.Next when the buffered bytes do not
// yet hold a complete packet. It is not a failure.
var ErrNeedMoreData = errors.New("mqttv3: need more data")

// DecoderState describes whether a Decoder can still make progress.
type DecoderState int

const (
	// DecoderReady accepts input and yields packets.
	DecoderReady DecoderState = iota
	// DecoderFailed has reported a malformed or oversized packet. The state
	// is absorbing: input is discarded and Next repeats the original error.
	DecoderFailed
)

func (s DecoderState) String() string {
	switch s {
	case DecoderReady:
		return "ready"
	case DecoderFailed:
		return "failed"
	default:
		return fmt.Sprintf("DecoderState(%d)", int(s))
	}
}

// Decoder turns an arbitrarily fragmented byte stream into packets. Bytes are
// appended with Write in whatever chunks the transport delivers; Next yields
// one packet at a time once its last byte has arrived.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	maxSize uint32
	state   DecoderState
	err     error
}

// NewDecoder creates a decoder that rejects packets whose remaining length
// exceeds maxSize. A zero maxSize selects DefaultMaxPacketSize.
func NewDecoder(maxSize uint32) *Decoder {
	if maxSize == 0 {
		maxSize = DefaultMaxPacketSize
	}
	return &Decoder{maxSize: maxSize}
}

// Write buffers p for decoding. It never blocks. Once the decoder has failed
// the input is dropped and the failure is returned.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.state == DecoderFailed {
		return 0, d.err
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next decodes the next complete packet from the buffered input. It returns
// ErrNeedMoreData, consuming nothing, when the input ends mid-packet.
func (d *Decoder) Next() (Packet, error) {
	if d.state == DecoderFailed {
		return nil, d.err
	}

	var header FixedHeader
	headerLen, err := header.decodeBytes(d.buf)
	if errors.Is(err, errIncomplete) {
		return nil, ErrNeedMoreData
	}
	if err != nil {
		return nil, d.fail(err)
	}

	if header.RemainingLength > d.maxSize {
		return nil, d.fail(fmt.Errorf("%w: %s remaining length %d exceeds %d",
			ErrPacketTooLarge, header.PacketType, header.RemainingLength, d.maxSize))
	}

	total := headerLen + int(header.RemainingLength)
	if len(d.buf) < total {
		return nil, ErrNeedMoreData
	}

	packet, err := decodeBody(header, d.buf[headerLen:total])
	if err != nil {
		return nil, d.fail(err)
	}

	d.buf = d.buf[:copy(d.buf, d.buf[total:])]

	return packet, nil
}

// Decode buffers chunk and returns every packet it completes. On failure the
// packets decoded before the malformed one are returned with the error.
func (d *Decoder) Decode(chunk []byte) ([]Packet, error) {
	if _, err := d.Write(chunk); err != nil {
		return nil, err
	}

	var packets []Packet
	for {
		packet, err := d.Next()
		if errors.Is(err, ErrNeedMoreData) {
			return packets, nil
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, packet)
	}
}

// State returns the decoder state.
func (d *Decoder) State() DecoderState {
	return d.state
}

// Err returns the error that failed the decoder, or nil.
func (d *Decoder) Err() error {
	return d.err
}

// Buffered returns the number of bytes held waiting for a complete packet.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards buffered input and returns the decoder to DecoderReady.
// It is used when a new connection reuses the decoder.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.state = DecoderReady
	d.err = nil
}

func (d *Decoder) fail(err error) error {
	d.state = DecoderFailed
	d.err = err
	d.buf = nil
	return err
}
