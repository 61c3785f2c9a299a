package mqttv3

import (
	"errors"
	"fmt"
	"io"
)

const (
	protocolName    = "MQTT"
	protocolVersion = 4
)

// Bits of the CONNECT flags byte.
const (
	connectFlagReserved     byte = 1 << 0
	connectFlagCleanSession byte = 1 << 1
	connectFlagWill         byte = 1 << 2
	connectFlagWillQoS      byte = 3 << 3
	connectFlagWillRetain   byte = 1 << 5
	connectFlagPassword     byte = 1 << 6
	connectFlagUsername     byte = 1 << 7
)

var (
	ErrInvalidProtocolName     = fmt.Errorf("%w: invalid protocol name", ErrMalformedPacket)
	ErrInvalidProtocolVersion  = fmt.Errorf("%w: unsupported protocol level", ErrMalformedPacket)
	ErrInvalidConnectFlags     = fmt.Errorf("%w: invalid connect flags", ErrMalformedPacket)
	ErrPasswordWithoutUsername = fmt.Errorf("%w: password flag set without username flag", ErrMalformedPacket)
	ErrClientIDRequired        = errors.New("client ID required when clean session is false")
)

// ConnectPacket opens a session. Optional fields travel only when their
// flag is set: the will when WillFlag is true, Username and Password when
// non-nil. Both may be present and empty.
type ConnectPacket struct {
	ClientID     string
	CleanSession bool
	// KeepAlive is in seconds. Zero disables keep-alive.
	KeepAlive uint16

	Username *string
	Password []byte

	WillFlag    bool
	WillRetain  bool
	WillQoS     QoS
	WillTopic   string
	WillPayload []byte
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) flags() byte {
	var f byte
	set := func(bit byte, on bool) {
		if on {
			f |= bit
		}
	}

	set(connectFlagCleanSession, p.CleanSession)
	if p.WillFlag {
		f |= connectFlagWill | byte(p.WillQoS)<<3&connectFlagWillQoS
		set(connectFlagWillRetain, p.WillRetain)
	}
	set(connectFlagPassword, p.Password != nil)
	set(connectFlagUsername, p.Username != nil)
	return f
}

// applyFlags loads the session and will bits from a decoded flags byte and
// checks their combination.
func (p *ConnectPacket) applyFlags(f byte) error {
	p.CleanSession = f&connectFlagCleanSession != 0
	p.WillFlag = f&connectFlagWill != 0
	p.WillQoS = QoS(f & connectFlagWillQoS >> 3)
	p.WillRetain = f&connectFlagWillRetain != 0

	switch {
	case f&connectFlagReserved != 0, !p.WillQoS.Valid():
		return ErrInvalidConnectFlags
	case !p.WillFlag && (p.WillQoS != QoS0 || p.WillRetain):
		return ErrInvalidConnectFlags
	case f&connectFlagPassword != 0 && f&connectFlagUsername == 0:
		return ErrPasswordWithoutUsername
	}
	return nil
}

func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var body packetWriter
	body.putString(protocolName)
	body.putByte(protocolVersion)
	body.putByte(p.flags())
	body.putUint16(p.KeepAlive)
	body.putString(p.ClientID)
	if p.WillFlag {
		body.putString(p.WillTopic)
		body.putBinary(p.WillPayload)
	}
	if p.Username != nil {
		body.putString(*p.Username)
	}
	if p.Password != nil {
		body.putBinary(p.Password)
	}
	return body.writeTo(w, PacketCONNECT, 0)
}

func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}

	in := packetReader{r: r}
	if name := in.readString(); in.err == nil && name != protocolName {
		in.fail(ErrInvalidProtocolName)
	}
	if level := in.readByte(); in.err == nil && level != protocolVersion {
		in.fail(ErrInvalidProtocolVersion)
	}
	flags := in.readByte()
	if in.err == nil {
		in.fail(p.applyFlags(flags))
	}

	p.KeepAlive = in.readUint16()
	p.ClientID = in.readString()

	if p.WillFlag {
		p.WillTopic = in.readString()
		if in.err == nil {
			in.fail(ValidateTopicName(p.WillTopic))
		}
		p.WillPayload = in.readBinary()
	}
	if flags&connectFlagUsername != 0 {
		username := in.readString()
		p.Username = &username
	}
	if flags&connectFlagPassword != 0 {
		// A present but empty password stays distinguishable from none.
		if p.Password = in.readBinary(); p.Password == nil {
			p.Password = []byte{}
		}
	}
	return in.result()
}

func (p *ConnectPacket) Validate() error {
	if err := validateString(p.ClientID); err != nil {
		return err
	}

	switch {
	case !p.CleanSession && p.ClientID == "":
		return ErrClientIDRequired
	case !p.WillQoS.Valid():
		return ErrInvalidConnectFlags
	case !p.WillFlag && (p.WillRetain || p.WillQoS != QoS0):
		return ErrInvalidConnectFlags
	case p.Password != nil && p.Username == nil:
		return ErrPasswordWithoutUsername
	}

	if p.WillFlag {
		return ValidateTopicName(p.WillTopic)
	}
	return nil
}
