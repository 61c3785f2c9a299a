package mqttv3

import "io"

// SubackPacket answers SUBSCRIBE with one return code per requested filter,
// in request order.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []SubackReturnCode
}

func (p *SubackPacket) Type() PacketType      { return PacketSUBACK }
func (p *SubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	body := packetWriter{buf: make([]byte, 0, 2+len(p.ReturnCodes))}
	body.putUint16(p.PacketID)
	for _, code := range p.ReturnCodes {
		body.putByte(byte(code))
	}
	return body.writeTo(w, PacketSUBACK, 0)
}

func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	switch {
	case header.PacketType != PacketSUBACK:
		return 0, ErrInvalidPacketType
	case header.RemainingLength < 3:
		return 0, ErrInvalidRemainingLength
	}

	in := packetReader{r: r}
	p.PacketID = in.readPacketID()
	raw := in.readRest(header.RemainingLength)

	p.ReturnCodes = make([]SubackReturnCode, 0, len(raw))
	for _, b := range raw {
		code := SubackReturnCode(b)
		if !code.Valid() {
			in.fail(ErrInvalidReturnCode)
			break
		}
		p.ReturnCodes = append(p.ReturnCodes, code)
	}
	return in.result()
}

func (p *SubackPacket) Validate() error {
	if err := validatePacketID(p.PacketID); err != nil {
		return err
	}
	if len(p.ReturnCodes) == 0 {
		return ErrInvalidRemainingLength
	}
	for _, code := range p.ReturnCodes {
		if !code.Valid() {
			return ErrInvalidReturnCode
		}
	}
	return nil
}
