package mqttv3

import "fmt"

// ConnectReturnCode is the result carried by a CONNACK packet.
type ConnectReturnCode byte

// CONNACK return codes.
const (
	ConnectAccepted                   ConnectReturnCode = 0x00
	ConnectRefusedProtocolVersion     ConnectReturnCode = 0x01
	ConnectRefusedIdentifierRejected  ConnectReturnCode = 0x02
	ConnectRefusedServerUnavailable   ConnectReturnCode = 0x03
	ConnectRefusedBadUsernamePassword ConnectReturnCode = 0x04
	ConnectRefusedNotAuthorized       ConnectReturnCode = 0x05
	maxConnectReturnCode                                = ConnectRefusedNotAuthorized
)

// Valid reports whether c is one of the six codes defined by MQTT 3.1.1.
func (c ConnectReturnCode) Valid() bool {
	return c <= maxConnectReturnCode
}

// Accepted reports whether the broker accepted the connection.
func (c ConnectReturnCode) Accepted() bool {
	return c == ConnectAccepted
}

func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "connection accepted"
	case ConnectRefusedProtocolVersion:
		return "unacceptable protocol version"
	case ConnectRefusedIdentifierRejected:
		return "identifier rejected"
	case ConnectRefusedServerUnavailable:
		return "server unavailable"
	case ConnectRefusedBadUsernamePassword:
		return "bad user name or password"
	case ConnectRefusedNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("unknown return code 0x%02X", byte(c))
	}
}

// SubackReturnCode is the per-filter result carried by a SUBACK packet:
// the granted QoS, or SubackFailure.
type SubackReturnCode byte

// SUBACK return codes.
const (
	SubackGrantedQoS0 SubackReturnCode = 0x00
	SubackGrantedQoS1 SubackReturnCode = 0x01
	SubackGrantedQoS2 SubackReturnCode = 0x02
	SubackFailure     SubackReturnCode = 0x80
)

// Valid reports whether c is 0, 1, 2 or 0x80.
func (c SubackReturnCode) Valid() bool {
	return c <= SubackGrantedQoS2 || c == SubackFailure
}

// Failed reports whether the broker refused the subscription.
func (c SubackReturnCode) Failed() bool {
	return c == SubackFailure
}

// GrantedQoS returns the QoS granted by the broker. The result is only
// meaningful when Failed returns false.
func (c SubackReturnCode) GrantedQoS() QoS {
	return QoS(c & 0x03)
}

func (c SubackReturnCode) String() string {
	switch c {
	case SubackGrantedQoS0, SubackGrantedQoS1, SubackGrantedQoS2:
		return "granted " + c.GrantedQoS().String()
	case SubackFailure:
		return "failure"
	default:
		return fmt.Sprintf("unknown return code 0x%02X", byte(c))
	}
}
