package mqttv3

import (
	"bytes"
	"fmt"
	"io"
)

// QoS is the delivery guarantee of a message or subscription.
type QoS byte

const (
	QoS0 QoS = iota
	QoS1
	QoS2

	AtMostOnce  = QoS0
	AtLeastOnce = QoS1
	ExactlyOnce = QoS2
)

var qosNames = [...]string{"at-most-once", "at-least-once", "exactly-once"}

func (q QoS) Valid() bool { return q <= QoS2 }

func (q QoS) String() string {
	if q.Valid() {
		return qosNames[q]
	}
	return fmt.Sprintf("qos(%d)", byte(q))
}

// Packet is one MQTT 3.1.1 control packet. Only the types in this package
// implement it.
//
// Decode is called after the fixed header has been read and must consume
// exactly header.RemainingLength bytes. Encode writes the fixed header too.
// Both report the number of bytes moved.
type Packet interface {
	Type() PacketType
	Encode(w io.Writer) (int, error)
	Decode(r io.Reader, header FixedHeader) (int, error)
	Validate() error

	isPacket()
}

// PacketWithID is a packet carrying a packet identifier.
type PacketWithID interface {
	Packet
	GetPacketID() uint16
	SetPacketID(id uint16)
}

func (*ConnectPacket) isPacket()     {}
func (*ConnackPacket) isPacket()     {}
func (*PublishPacket) isPacket()     {}
func (*PubackPacket) isPacket()      {}
func (*PubrecPacket) isPacket()      {}
func (*PubrelPacket) isPacket()      {}
func (*PubcompPacket) isPacket()     {}
func (*SubscribePacket) isPacket()   {}
func (*SubackPacket) isPacket()      {}
func (*UnsubscribePacket) isPacket() {}
func (*UnsubackPacket) isPacket()    {}
func (*PingreqPacket) isPacket()     {}
func (*PingrespPacket) isPacket()    {}
func (*DisconnectPacket) isPacket()  {}

// Message is an application message as published or delivered.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool

	// Duplicate and PacketID are filled on delivery: the broker's DUP flag
	// and the identifier the PUBLISH carried (zero at QoS 0).
	Duplicate bool
	PacketID  uint16
}

// Clone copies m including its payload. A nil message clones to nil.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Payload = bytes.Clone(m.Payload)
	return &out
}
