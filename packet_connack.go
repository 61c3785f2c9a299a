package mqttv3

import (
	"fmt"
	"io"
)

var (
	ErrInvalidConnackFlags = fmt.Errorf("%w: invalid CONNACK flags", ErrMalformedPacket)
	ErrInvalidReturnCode   = fmt.Errorf("%w: invalid return code", ErrMalformedPacket)
)

// connackSessionPresent is the only defined acknowledge flag.
const connackSessionPresent byte = 0x01

// ConnackPacket is the broker's answer to CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var ack byte
	if p.SessionPresent {
		ack = connackSessionPresent
	}
	return writeWithHeader(w, PacketCONNACK, 0, []byte{ack, byte(p.ReturnCode)})
}

func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	switch {
	case header.PacketType != PacketCONNACK:
		return 0, ErrInvalidPacketType
	case header.RemainingLength != 2:
		return 0, ErrInvalidRemainingLength
	}

	in := packetReader{r: r}
	ack := in.readByte()
	code := in.readByte()
	if in.err != nil {
		return in.result()
	}
	if ack&^connackSessionPresent != 0 {
		return in.n, ErrInvalidConnackFlags
	}

	p.SessionPresent = ack == connackSessionPresent
	p.ReturnCode = ConnectReturnCode(code)
	return in.n, p.Validate()
}

// Validate rejects unknown return codes and a session-present flag on a
// refusal.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.Valid() {
		return ErrInvalidReturnCode
	}
	if p.SessionPresent && !p.ReturnCode.Accepted() {
		return ErrInvalidConnackFlags
	}
	return nil
}
