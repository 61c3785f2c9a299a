package mqttv3

import (
	"fmt"
	"io"
)

// PacketType is the high nibble of the first byte of every control packet.
type PacketType byte

// Control packet types. 0 and 15 are reserved and never valid on the wire.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
)

var packetTypeNames = [16]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
}

func (p PacketType) String() string {
	if !p.Valid() {
		return "UNKNOWN"
	}
	return packetTypeNames[p]
}

// Valid reports whether p names a defined control packet.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketDISCONNECT
}

// requiredFlags is the low nibble every non-PUBLISH packet must carry.
// PUBLISH flags are checked separately.
var requiredFlags = [16]byte{
	PacketPUBREL:      0x02,
	PacketSUBSCRIBE:   0x02,
	PacketUNSUBSCRIBE: 0x02,
}

var (
	ErrInvalidPacketType  = fmt.Errorf("%w: invalid packet type", ErrMalformedPacket)
	ErrUnknownPacketType  = fmt.Errorf("%w: unknown packet type", ErrMalformedPacket)
	ErrInvalidPacketFlags = fmt.Errorf("%w: invalid packet flags", ErrMalformedPacket)
)

// Bits of the PUBLISH low nibble.
const (
	publishFlagRetain byte = 1 << 0
	publishFlagQoS    byte = 3 << 1
	publishFlagDUP    byte = 1 << 3
)

// FixedHeader is the type, flags and remaining length that open every
// control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the header and returns the number of bytes written.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	buf, err := h.appendTo(make([]byte, 0, 1+maxVarintBytes))
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

func (h *FixedHeader) appendTo(dst []byte) ([]byte, error) {
	if !h.PacketType.Valid() {
		return dst, ErrInvalidPacketType
	}
	return appendVarint(append(dst, h.firstByte()), h.RemainingLength)
}

func (h *FixedHeader) firstByte() byte {
	return byte(h.PacketType)<<4 | h.Flags&0x0F
}

// Decode reads a header from r and returns the number of bytes consumed.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	first, n, err := decodeByte(r)
	if err != nil {
		return n, err
	}
	if err := h.parseFirstByte(first); err != nil {
		return n, err
	}

	length, m, err := decodeVarint(r)
	if err != nil {
		return n + m, err
	}
	h.RemainingLength = length
	return n + m, nil
}

// decodeBytes is Decode over a buffer. It returns errIncomplete while buf
// holds only a prefix of the header.
func (h *FixedHeader) decodeBytes(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, errIncomplete
	}
	if err := h.parseFirstByte(buf[0]); err != nil {
		return 0, err
	}

	length, n, err := decodeVarintBytes(buf[1:])
	if err != nil {
		return 0, err
	}
	h.RemainingLength = length
	return n + 1, nil
}

func (h *FixedHeader) parseFirstByte(b byte) error {
	h.PacketType, h.Flags = PacketType(b>>4), b&0x0F

	switch {
	case !h.PacketType.Valid():
		return ErrUnknownPacketType
	case !h.flagsValid():
		return ErrInvalidPacketFlags
	}
	return nil
}

// flagsValid applies the per-type flag rules. QoS 3 is the only invalid
// PUBLISH combination.
func (h *FixedHeader) flagsValid() bool {
	if h.PacketType == PacketPUBLISH {
		return h.QoS() <= QoS2
	}
	return h.Flags == requiredFlags[h.PacketType]
}

// Size is the encoded length of the header.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

func (h *FixedHeader) DUP() bool    { return h.Flags&publishFlagDUP != 0 }
func (h *FixedHeader) Retain() bool { return h.Flags&publishFlagRetain != 0 }
func (h *FixedHeader) QoS() QoS     { return QoS(h.Flags & publishFlagQoS >> 1) }

func (h *FixedHeader) SetDUP(on bool)    { h.setFlag(publishFlagDUP, on) }
func (h *FixedHeader) SetRetain(on bool) { h.setFlag(publishFlagRetain, on) }

func (h *FixedHeader) SetQoS(qos QoS) {
	h.Flags = h.Flags&^publishFlagQoS | byte(qos)<<1&publishFlagQoS
}

func (h *FixedHeader) setFlag(bit byte, on bool) {
	if on {
		h.Flags |= bit
		return
	}
	h.Flags &^= bit
}
