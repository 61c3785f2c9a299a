package mqttv3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckPackets(t *testing.T) {
	tests := []struct {
		name   string
		packet PacketWithID
		first  byte
	}{
		{"PUBACK", &PubackPacket{PacketID: 1}, 0x40},
		{"PUBREC", &PubrecPacket{PacketID: 2}, 0x50},
		{"PUBREL", &PubrelPacket{PacketID: 3}, 0x62},
		{"PUBCOMP", &PubcompPacket{PacketID: 4}, 0x70},
		{"UNSUBACK", &UnsubackPacket{PacketID: 5}, 0xB0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.packet.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.Equal(t, tt.first, buf.Bytes()[0])

			decoded, _, err := ReadPacket(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
		})

		t.Run(tt.name+" zero id", func(t *testing.T) {
			tt.packet.SetPacketID(0)
			assert.ErrorIs(t, tt.packet.Validate(), ErrZeroPacketID)

			_, err := tt.packet.Encode(&bytes.Buffer{})
			assert.ErrorIs(t, err, ErrZeroPacketID)

			_, _, err = ReadPacket(bytes.NewReader([]byte{tt.first, 0x02, 0x00, 0x00}), 0)
			assert.ErrorIs(t, err, ErrZeroPacketID)
		})

		t.Run(tt.name+" wrong length", func(t *testing.T) {
			_, _, err := ReadPacket(bytes.NewReader([]byte{tt.first, 0x03, 0x00, 0x01, 0x00}), 0)
			assert.ErrorIs(t, err, ErrInvalidRemainingLength)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestEmptyPackets(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		first  byte
	}{
		{"PINGREQ", &PingreqPacket{}, 0xC0},
		{"PINGRESP", &PingrespPacket{}, 0xD0},
		{"DISCONNECT", &DisconnectPacket{}, 0xE0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.packet.Validate())

			_, _, err := ReadPacket(bytes.NewReader([]byte{tt.first, 0x01, 0x00}), 0)
			assert.ErrorIs(t, err, ErrInvalidRemainingLength, "body is not allowed")
		})
	}
}

func TestConnackPacket(t *testing.T) {
	t.Run("decode errors", func(t *testing.T) {
		tests := []struct {
			name    string
			raw     []byte
			wantErr error
		}{
			{"reserved flag bits", []byte{0x20, 0x02, 0x02, 0x00}, ErrInvalidConnackFlags},
			{"unknown return code", []byte{0x20, 0x02, 0x00, 0x06}, ErrInvalidReturnCode},
			{"session present on refusal", []byte{0x20, 0x02, 0x01, 0x04}, ErrInvalidConnackFlags},
			{"short body", []byte{0x20, 0x01, 0x00}, ErrInvalidRemainingLength},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := ReadPacket(bytes.NewReader(tt.raw), 0)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrMalformedPacket)
			})
		}
	})

	t.Run("every return code", func(t *testing.T) {
		for code := ConnectAccepted; code <= ConnectRefusedNotAuthorized; code++ {
			pkt := &ConnackPacket{ReturnCode: code}

			var buf bytes.Buffer
			_, err := pkt.Encode(&buf)
			require.NoError(t, err)

			decoded, _, err := ReadPacket(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, pkt, decoded)
		}
	})
}
