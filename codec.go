package mqttv3

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxPacketSize bounds the remaining length of an incoming packet.
const DefaultMaxPacketSize = 256 * 1024

var (
	ErrPacketTooLarge = errors.New("mqttv3: packet exceeds maximum size")
	ErrTrailingBytes  = fmt.Errorf("%w: remaining length not fully consumed", ErrMalformedPacket)
)

var packetConstructors = [16]func() Packet{
	PacketCONNECT:     func() Packet { return new(ConnectPacket) },
	PacketCONNACK:     func() Packet { return new(ConnackPacket) },
	PacketPUBLISH:     func() Packet { return new(PublishPacket) },
	PacketPUBACK:      func() Packet { return new(PubackPacket) },
	PacketPUBREC:      func() Packet { return new(PubrecPacket) },
	PacketPUBREL:      func() Packet { return new(PubrelPacket) },
	PacketPUBCOMP:     func() Packet { return new(PubcompPacket) },
	PacketSUBSCRIBE:   func() Packet { return new(SubscribePacket) },
	PacketSUBACK:      func() Packet { return new(SubackPacket) },
	PacketUNSUBSCRIBE: func() Packet { return new(UnsubscribePacket) },
	PacketUNSUBACK:    func() Packet { return new(UnsubackPacket) },
	PacketPINGREQ:     func() Packet { return new(PingreqPacket) },
	PacketPINGRESP:    func() Packet { return new(PingrespPacket) },
	PacketDISCONNECT:  func() Packet { return new(DisconnectPacket) },
}

func newPacket(t PacketType) (Packet, error) {
	if int(t) >= len(packetConstructors) || packetConstructors[t] == nil {
		return nil, ErrUnknownPacketType
	}
	return packetConstructors[t](), nil
}

// decodeBody decodes body, which must be exactly the remaining length
// announced by header.
func decodeBody(header FixedHeader, body []byte) (Packet, error) {
	pkt, err := newPacket(header.PacketType)
	if err != nil {
		return nil, err
	}

	r := acquireReader(body)
	defer releaseReader(r)

	n, err := pkt.Decode(r, header)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: %s body", ErrTruncated, header.PacketType)
	case err != nil:
		return nil, err
	case n != len(body):
		return nil, fmt.Errorf("%w: %s used %d of %d bytes", ErrTrailingBytes, header.PacketType, n, len(body))
	}
	return pkt, nil
}

// ReadPacket reads one packet from r and reports the bytes consumed.
// A positive maxSize rejects larger remaining lengths with ErrPacketTooLarge
// before the body is read.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}
	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	body := make([]byte, header.RemainingLength)
	read, err := io.ReadFull(r, body)
	n += read
	if err != nil {
		return nil, n, err
	}

	pkt, err := decodeBody(header, body)
	return pkt, n, err
}

// WritePacket validates and encodes pkt, then hands it to w in one Write.
// A positive maxSize caps the encoded size.
func WritePacket(w io.Writer, pkt Packet, maxSize uint32) (int, error) {
	buf := acquireBuffer()
	defer releaseBuffer(buf)

	if err := encodeInto(buf, pkt); err != nil {
		return 0, err
	}
	if maxSize > 0 && uint32(buf.Len()) > maxSize {
		return 0, ErrPacketTooLarge
	}
	return w.Write(buf.Bytes())
}

// EncodePacket returns the wire form of pkt.
func EncodePacket(pkt Packet) ([]byte, error) {
	buf := acquireBuffer()
	defer releaseBuffer(buf)

	if err := encodeInto(buf, pkt); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func encodeInto(buf *bytes.Buffer, pkt Packet) error {
	if err := pkt.Validate(); err != nil {
		return err
	}
	_, err := pkt.Encode(buf)
	return err
}

// writeWithHeader prefixes body with its fixed header and issues a single
// Write.
func writeWithHeader(w io.Writer, kind PacketType, flags byte, body []byte) (int, error) {
	if len(body) > maxVarint {
		return 0, ErrVarintTooLarge
	}

	header := FixedHeader{PacketType: kind, Flags: flags, RemainingLength: uint32(len(body))}
	out, err := header.appendTo(make([]byte, 0, header.Size()+len(body)))
	if err != nil {
		return 0, err
	}
	return w.Write(append(out, body...))
}
