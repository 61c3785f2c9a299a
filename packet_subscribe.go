package mqttv3

import (
	"fmt"
	"io"
)

// ErrNoTopicFilters rejects a SUBSCRIBE or UNSUBSCRIBE without filters.
var ErrNoTopicFilters = fmt.Errorf("%w: at least one topic filter required", ErrMalformedPacket)

// Only the two low bits of a requested QoS byte carry meaning. The rest are
// reserved and dropped on both encode and decode.
const subscribeQoSMask = 0x03

// Subscription pairs a topic filter with the maximum QoS asked for it.
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// SubscribePacket asks the broker for one or more subscriptions.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

func (p *SubscribePacket) Type() PacketType      { return PacketSUBSCRIBE }
func (p *SubscribePacket) GetPacketID() uint16   { return p.PacketID }
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var body packetWriter
	body.putUint16(p.PacketID)
	for _, sub := range p.Subscriptions {
		body.putString(sub.TopicFilter)
		body.putByte(byte(sub.QoS) & subscribeQoSMask)
	}
	return body.writeTo(w, PacketSUBSCRIBE, requiredFlags[PacketSUBSCRIBE])
}

func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}

	in := packetReader{r: r}
	p.PacketID = in.readPacketID()
	p.Subscriptions = in.readFilters(header.RemainingLength, true)
	return in.result()
}

func (p *SubscribePacket) Validate() error {
	if err := validatePacketID(p.PacketID); err != nil {
		return err
	}
	if len(p.Subscriptions) == 0 {
		return ErrNoTopicFilters
	}
	for _, sub := range p.Subscriptions {
		if !sub.QoS.Valid() {
			return ErrInvalidQoS
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
	}
	return nil
}

// UnsubscribePacket removes subscriptions by filter.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

func (p *UnsubscribePacket) Type() PacketType      { return PacketUNSUBSCRIBE }
func (p *UnsubscribePacket) GetPacketID() uint16   { return p.PacketID }
func (p *UnsubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *UnsubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var body packetWriter
	body.putUint16(p.PacketID)
	for _, filter := range p.TopicFilters {
		body.putString(filter)
	}
	return body.writeTo(w, PacketUNSUBSCRIBE, requiredFlags[PacketUNSUBSCRIBE])
}

func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketUNSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}

	in := packetReader{r: r}
	p.PacketID = in.readPacketID()
	p.TopicFilters = nil
	for _, sub := range in.readFilters(header.RemainingLength, false) {
		p.TopicFilters = append(p.TopicFilters, sub.TopicFilter)
	}
	return in.result()
}

// readFilters consumes the filter list that fills the rest of a SUBSCRIBE
// or UNSUBSCRIBE. Each SUBSCRIBE filter is followed by its requested QoS.
func (r *packetReader) readFilters(total uint32, withQoS bool) []Subscription {
	var subs []Subscription
	for r.more(total) {
		var sub Subscription
		sub.TopicFilter = r.readString()
		if withQoS {
			sub.QoS = QoS(r.readByte() & subscribeQoSMask)
		}
		if r.err != nil {
			return nil
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			r.fail(err)
			return nil
		}
		if !sub.QoS.Valid() {
			r.fail(ErrInvalidQoS)
			return nil
		}
		subs = append(subs, sub)
	}
	if r.err == nil && len(subs) == 0 {
		r.fail(ErrNoTopicFilters)
	}
	return subs
}

func (p *UnsubscribePacket) Validate() error {
	if err := validatePacketID(p.PacketID); err != nil {
		return err
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoTopicFilters
	}
	for _, filter := range p.TopicFilters {
		if err := ValidateTopicFilter(filter); err != nil {
			return err
		}
	}
	return nil
}
