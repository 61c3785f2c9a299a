package mqttv3

import (
	"encoding/binary"
	"fmt"
	"io"
)

var (
	ErrZeroPacketID           = fmt.Errorf("%w: packet identifier must be non-zero", ErrMalformedPacket)
	ErrInvalidRemainingLength = fmt.Errorf("%w: invalid remaining length for packet type", ErrMalformedPacket)
)

// The acknowledgment packets below carry nothing but a packet identifier.
// PUBACK closes a QoS 1 exchange, PUBREC/PUBREL/PUBCOMP make up the QoS 2
// handshake and UNSUBACK answers UNSUBSCRIBE.

type PubackPacket struct{ PacketID uint16 }

func (p *PubackPacket) Type() PacketType      { return PacketPUBACK }
func (p *PubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubackPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubackPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubackPacket) Encode(w io.Writer) (int, error) { return encodeAck(w, p) }

func (p *PubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return decodeAck(r, header, p)
}

type PubrecPacket struct{ PacketID uint16 }

func (p *PubrecPacket) Type() PacketType      { return PacketPUBREC }
func (p *PubrecPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubrecPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubrecPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubrecPacket) Encode(w io.Writer) (int, error) { return encodeAck(w, p) }

func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return decodeAck(r, header, p)
}

// PubrelPacket is sent with flags 0x02.
type PubrelPacket struct{ PacketID uint16 }

func (p *PubrelPacket) Type() PacketType      { return PacketPUBREL }
func (p *PubrelPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubrelPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubrelPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubrelPacket) Encode(w io.Writer) (int, error) { return encodeAck(w, p) }

func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return decodeAck(r, header, p)
}

type PubcompPacket struct{ PacketID uint16 }

func (p *PubcompPacket) Type() PacketType      { return PacketPUBCOMP }
func (p *PubcompPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubcompPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubcompPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubcompPacket) Encode(w io.Writer) (int, error) { return encodeAck(w, p) }

func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return decodeAck(r, header, p)
}

type UnsubackPacket struct{ PacketID uint16 }

func (p *UnsubackPacket) Type() PacketType      { return PacketUNSUBACK }
func (p *UnsubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *UnsubackPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *UnsubackPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *UnsubackPacket) Encode(w io.Writer) (int, error) { return encodeAck(w, p) }

func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return decodeAck(r, header, p)
}

func encodeAck(w io.Writer, p PacketWithID) (int, error) {
	id := p.GetPacketID()
	if id == 0 {
		return 0, ErrZeroPacketID
	}

	var body [2]byte
	binary.BigEndian.PutUint16(body[:], id)
	return writeWithHeader(w, p.Type(), requiredFlags[p.Type()], body[:])
}

// decodeAck reads the two byte body into p. The identifier is stored even
// when it is rejected as zero.
func decodeAck(r io.Reader, header FixedHeader, p PacketWithID) (int, error) {
	switch {
	case header.PacketType != p.Type():
		return 0, ErrInvalidPacketType
	case header.RemainingLength != 2:
		return 0, ErrInvalidRemainingLength
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, err
	}
	p.SetPacketID(id)
	return n, validatePacketID(id)
}

func validatePacketID(id uint16) error {
	if id == 0 {
		return ErrZeroPacketID
	}
	return nil
}
