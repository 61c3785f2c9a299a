package mqttv3

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrMalformedPacket is the root of every error caused by bytes that do not
// form a valid MQTT 3.1.1 packet. Use errors.Is to test for the whole class.
var ErrMalformedPacket = errors.New("malformed packet")

var (
	ErrStringTooLong            = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong            = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrVarintTooLarge           = errors.New("remaining length exceeds 268435455")
	ErrInvalidUTF8              = fmt.Errorf("%w: invalid UTF-8 string", ErrMalformedPacket)
	ErrStringContainsNull       = fmt.Errorf("%w: string contains null character", ErrMalformedPacket)
	ErrMalformedRemainingLength = fmt.Errorf("%w: remaining length longer than 4 bytes", ErrMalformedPacket)
	ErrTruncated                = fmt.Errorf("%w: truncated", ErrMalformedPacket)
)

// errIncomplete means a buffer stops in the middle of a value.
var errIncomplete = errors.New("incomplete input")

const (
	maxUint16      = 1<<16 - 1
	maxVarint      = 1<<28 - 1
	maxVarintBytes = 4
)

// validateString enforces the rules for a UTF-8 encoded string field.
func validateString(s string) error {
	switch {
	case len(s) > maxUint16:
		return ErrStringTooLong
	case !utf8.ValidString(s):
		return ErrInvalidUTF8
	case strings.IndexByte(s, 0) >= 0:
		return ErrStringContainsNull
	}
	return nil
}

func appendUint16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

// appendString appends s with its two byte length prefix.
func appendString(dst []byte, s string) ([]byte, error) {
	if err := validateString(s); err != nil {
		return dst, err
	}
	return append(appendUint16(dst, uint16(len(s))), s...), nil
}

// appendBinary appends data with its two byte length prefix.
func appendBinary(dst, data []byte) ([]byte, error) {
	if len(data) > maxUint16 {
		return dst, ErrBinaryTooLong
	}
	return append(appendUint16(dst, uint16(len(data))), data...), nil
}

// decodeString reads a length-prefixed string and applies validateString.
func decodeString(r io.Reader) (string, int, error) {
	raw, n, err := decodeBinary(r)
	if err != nil {
		return "", n, err
	}
	s := string(raw)
	if err := validateString(s); err != nil {
		return "", n, err
	}
	return s, n, nil
}

// decodeBinary reads a length-prefixed byte field. A zero length yields nil.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	size, n, err := decodeUint16(r)
	if err != nil || size == 0 {
		return nil, n, err
	}

	data := make([]byte, size)
	m, err := io.ReadFull(r, data)
	if err != nil {
		return nil, n + m, err
	}
	return data, n + m, nil
}

func decodeUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), n, nil
}

func decodeByte(r io.Reader) (byte, int, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	return buf[0], n, err
}

// appendVarint appends the remaining length encoding of v: seven bits per
// byte, least significant group first, high bit set on all but the last.
func appendVarint(dst []byte, v uint32) ([]byte, error) {
	if v > maxVarint {
		return dst, ErrVarintTooLarge
	}
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v)), nil
}

// varintStep folds byte i of a remaining length into acc. It reports true
// once b is the final byte.
func varintStep(acc uint32, i int, b byte) (uint32, bool) {
	return acc | uint32(b&0x7F)<<(7*i), b&0x80 == 0
}

// decodeVarintBytes decodes a remaining length at the start of buf. It
// returns errIncomplete when buf ends early and ErrMalformedRemainingLength
// when the encoding runs past four bytes.
func decodeVarintBytes(buf []byte) (uint32, int, error) {
	var v uint32
	for i := range maxVarintBytes {
		if i == len(buf) {
			return 0, 0, errIncomplete
		}
		var last bool
		if v, last = varintStep(v, i, buf[i]); last {
			return v, i + 1, nil
		}
	}
	return 0, maxVarintBytes, ErrMalformedRemainingLength
}

func decodeVarint(r io.Reader) (uint32, int, error) {
	var v uint32
	for i := range maxVarintBytes {
		b, n, err := decodeByte(r)
		if err != nil {
			return 0, i + n, err
		}
		var last bool
		if v, last = varintStep(v, i, b); last {
			return v, i + 1, nil
		}
	}
	return 0, maxVarintBytes, ErrMalformedRemainingLength
}

// varintSize is the number of bytes appendVarint produces for v.
func varintSize(v uint32) int {
	size := 1
	for v >= 0x80 && size < maxVarintBytes {
		v >>= 7
		size++
	}
	return size
}

// packetWriter builds a packet body. Once an append fails the error sticks
// and later appends are skipped.
type packetWriter struct {
	buf []byte
	err error
}

func (w *packetWriter) putByte(b byte) {
	if w.err == nil {
		w.buf = append(w.buf, b)
	}
}

func (w *packetWriter) putUint16(v uint16) {
	if w.err == nil {
		w.buf = appendUint16(w.buf, v)
	}
}

func (w *packetWriter) putString(s string) {
	if w.err == nil {
		w.buf, w.err = appendString(w.buf, s)
	}
}

func (w *packetWriter) putBinary(data []byte) {
	if w.err == nil {
		w.buf, w.err = appendBinary(w.buf, data)
	}
}

func (w *packetWriter) putRaw(data []byte) {
	if w.err == nil {
		w.buf = append(w.buf, data...)
	}
}

// writeTo emits the fixed header and the accumulated body.
func (w *packetWriter) writeTo(dst io.Writer, kind PacketType, flags byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return writeWithHeader(dst, kind, flags, w.buf)
}

// packetReader consumes a packet body and counts the bytes read. After the
// first failure every read returns a zero value.
type packetReader struct {
	r   io.Reader
	n   int
	err error
}

func (r *packetReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *packetReader) readByte() byte {
	if r.err != nil {
		return 0
	}
	b, n, err := decodeByte(r.r)
	r.n += n
	r.fail(err)
	return b
}

func (r *packetReader) readUint16() uint16 {
	if r.err != nil {
		return 0
	}
	v, n, err := decodeUint16(r.r)
	r.n += n
	r.fail(err)
	return v
}

// readPacketID reads an identifier and rejects zero.
func (r *packetReader) readPacketID() uint16 {
	id := r.readUint16()
	if r.err == nil && id == 0 {
		r.fail(ErrZeroPacketID)
	}
	return id
}

func (r *packetReader) readString() string {
	if r.err != nil {
		return ""
	}
	s, n, err := decodeString(r.r)
	r.n += n
	r.fail(err)
	return s
}

func (r *packetReader) readBinary() []byte {
	if r.err != nil {
		return nil
	}
	data, n, err := decodeBinary(r.r)
	r.n += n
	r.fail(err)
	return data
}

// readRest reads everything up to the end of a body of total bytes.
func (r *packetReader) readRest(total uint32) []byte {
	left := int(total) - r.n
	if r.err != nil || left <= 0 {
		if left < 0 {
			r.fail(ErrTruncated)
		}
		return nil
	}
	data := make([]byte, left)
	n, err := io.ReadFull(r.r, data)
	r.n += n
	r.fail(err)
	return data
}

// more reports whether unread bytes remain in a body of total bytes.
func (r *packetReader) more(total uint32) bool {
	return r.err == nil && r.n < int(total)
}

func (r *packetReader) result() (int, error) {
	return r.n, r.err
}
