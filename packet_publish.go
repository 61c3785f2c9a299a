package mqttv3

import (
	"fmt"
	"io"
)

var (
	ErrInvalidQoS       = fmt.Errorf("%w: invalid QoS level", ErrMalformedPacket)
	ErrPacketIDRequired = fmt.Errorf("%w: packet identifier required for QoS > 0", ErrZeroPacketID)
)

// PublishPacket carries an application message in either direction.
// PacketID is present on the wire only for QoS 1 and 2.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retain   bool
	DUP      bool
	PacketID uint16
}

func (p *PublishPacket) Type() PacketType      { return PacketPUBLISH }
func (p *PublishPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PublishPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PublishPacket) header() FixedHeader {
	h := FixedHeader{PacketType: PacketPUBLISH}
	h.SetDUP(p.DUP)
	h.SetQoS(p.QoS)
	h.SetRetain(p.Retain)
	return h
}

func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	body := packetWriter{buf: make([]byte, 0, 4+len(p.Topic)+len(p.Payload))}
	body.putString(p.Topic)
	if p.QoS != QoS0 {
		body.putUint16(p.PacketID)
	}
	body.putRaw(p.Payload)

	h := p.header()
	return body.writeTo(w, PacketPUBLISH, h.Flags)
}

// Decode reads the topic, the identifier when QoS > 0, and treats what is
// left of the remaining length as the payload, which may be empty.
func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBLISH {
		return 0, ErrInvalidPacketType
	}

	p.DUP, p.QoS, p.Retain = header.DUP(), header.QoS(), header.Retain()
	if !p.QoS.Valid() {
		return 0, ErrInvalidQoS
	}
	if p.QoS == QoS0 && p.DUP {
		return 0, ErrInvalidPacketFlags
	}

	in := packetReader{r: r}
	p.Topic = in.readString()
	if in.err == nil {
		in.fail(ValidateTopicName(p.Topic))
	}
	if p.QoS != QoS0 {
		p.PacketID = in.readPacketID()
	}
	p.Payload = in.readRest(header.RemainingLength)
	return in.result()
}

func (p *PublishPacket) Validate() error {
	switch {
	case !p.QoS.Valid():
		return ErrInvalidQoS
	case p.QoS == QoS0 && p.DUP:
		return ErrInvalidPacketFlags
	case p.QoS != QoS0 && p.PacketID == 0:
		return ErrPacketIDRequired
	}
	return ValidateTopicName(p.Topic)
}

// ToMessage copies the packet into a Message for delivery.
func (p *PublishPacket) ToMessage() *Message {
	return &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
		PacketID:  p.PacketID,
	}
}

// FromMessage fills the fields a caller controls. The identifier and DUP
// flag are assigned by the client.
func (p *PublishPacket) FromMessage(m *Message) {
	p.Topic, p.Payload, p.QoS, p.Retain = m.Topic, m.Payload, m.QoS, m.Retain
}
