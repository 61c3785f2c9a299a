package mqttv3

import "io"

// PingreqPacket asks the broker to prove the connection is alive.
type PingreqPacket struct{}

// PingrespPacket answers PINGREQ.
type PingrespPacket struct{}

// DisconnectPacket is the last packet a client writes before closing the
// connection. It suppresses the will message.
type DisconnectPacket struct{}

func (*PingreqPacket) Type() PacketType    { return PacketPINGREQ }
func (*PingrespPacket) Type() PacketType   { return PacketPINGRESP }
func (*DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *PingreqPacket) Encode(w io.Writer) (int, error)    { return encodeBodyless(w, p) }
func (p *PingrespPacket) Encode(w io.Writer) (int, error)   { return encodeBodyless(w, p) }
func (p *DisconnectPacket) Encode(w io.Writer) (int, error) { return encodeBodyless(w, p) }

func (p *PingreqPacket) Decode(_ io.Reader, h FixedHeader) (int, error) {
	return 0, checkBodyless(h, p)
}

func (p *PingrespPacket) Decode(_ io.Reader, h FixedHeader) (int, error) {
	return 0, checkBodyless(h, p)
}

func (p *DisconnectPacket) Decode(_ io.Reader, h FixedHeader) (int, error) {
	return 0, checkBodyless(h, p)
}

func (*PingreqPacket) Validate() error    { return nil }
func (*PingrespPacket) Validate() error   { return nil }
func (*DisconnectPacket) Validate() error { return nil }

func encodeBodyless(w io.Writer, p Packet) (int, error) {
	return writeWithHeader(w, p.Type(), 0, nil)
}

func checkBodyless(h FixedHeader, p Packet) error {
	switch {
	case h.PacketType != p.Type():
		return ErrInvalidPacketType
	case h.Flags != 0:
		return ErrInvalidPacketFlags
	case h.RemainingLength != 0:
		return ErrInvalidRemainingLength
	}
	return nil
}
