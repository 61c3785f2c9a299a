package mqttv3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrTo[T any](v T) *T { return &v }

func TestConnectPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet ConnectPacket
	}{
		{"minimal", ConnectPacket{ClientID: "c", CleanSession: true}},
		{"empty client id", ConnectPacket{CleanSession: true, KeepAlive: 10}},
		{"persistent session", ConnectPacket{ClientID: "persist", KeepAlive: 65535}},
		{"username only", ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo("user")}},
		{"username and password", ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo("user"), Password: []byte("secret")}},
		{"empty password", ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo("user"), Password: []byte{}}},
		{"empty username", ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo("")}},
		{"empty username and password", ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo(""), Password: []byte{}}},
		{
			"will QoS 2 retained",
			ConnectPacket{
				ClientID: "c", CleanSession: true,
				WillFlag: true, WillQoS: QoS2, WillRetain: true,
				WillTopic: "status/c", WillPayload: []byte("offline"),
			},
		},
		{
			"everything",
			ConnectPacket{
				ClientID: "full", KeepAlive: 30,
				WillFlag: true, WillQoS: QoS1, WillTopic: "lwt", WillPayload: []byte{0x00, 0xFF},
				Username: ptrTo("u"), Password: []byte("p"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := tt.packet.Encode(&buf)
			require.NoError(t, err)

			pkt, _, err := ReadPacket(&buf, 0)
			require.NoError(t, err)

			decoded, ok := pkt.(*ConnectPacket)
			require.True(t, ok)
			assert.Equal(t, &tt.packet, decoded)
		})
	}
}

func TestConnectPacketFlags(t *testing.T) {
	tests := []struct {
		name   string
		packet ConnectPacket
		flags  byte
	}{
		{"clean session", ConnectPacket{CleanSession: true}, 0x02},
		{"will QoS 1", ConnectPacket{WillFlag: true, WillQoS: QoS1, WillTopic: "t"}, 0x0C},
		{"will QoS 2 retain", ConnectPacket{WillFlag: true, WillQoS: QoS2, WillRetain: true, WillTopic: "t"}, 0x34},
		{"credentials", ConnectPacket{Username: ptrTo("u"), Password: []byte("p")}, 0xC0},
		{"empty username", ConnectPacket{Username: ptrTo("")}, 0x80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.flags, tt.packet.flags())
		})
	}
}

func TestConnectPacketValidate(t *testing.T) {
	tests := []struct {
		name    string
		packet  ConnectPacket
		wantErr error
	}{
		{"valid", ConnectPacket{ClientID: "c", CleanSession: true}, nil},
		{"empty id without clean session", ConnectPacket{}, ErrClientIDRequired},
		{"password without username", ConnectPacket{ClientID: "c", CleanSession: true, Password: []byte("p")}, ErrPasswordWithoutUsername},
		{"password with empty username", ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo(""), Password: []byte("p")}, nil},
		{"will qos without will", ConnectPacket{ClientID: "c", CleanSession: true, WillQoS: QoS1}, ErrInvalidConnectFlags},
		{"will retain without will", ConnectPacket{ClientID: "c", CleanSession: true, WillRetain: true}, ErrInvalidConnectFlags},
		{"will qos 3", ConnectPacket{ClientID: "c", CleanSession: true, WillFlag: true, WillQoS: 3, WillTopic: "t"}, ErrInvalidConnectFlags},
		{"will topic wildcard", ConnectPacket{ClientID: "c", CleanSession: true, WillFlag: true, WillTopic: "a/#"}, ErrInvalidTopicName},
		{"client id with null", ConnectPacket{ClientID: "a\x00b", CleanSession: true}, ErrStringContainsNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.packet.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = tt.packet.Encode(&bytes.Buffer{})
			assert.ErrorIs(t, err, tt.wantErr, "Encode validates")
		})
	}
}

func TestConnectPacketDecodeErrors(t *testing.T) {
	body := func(name string, level, flags byte, rest ...byte) []byte {
		b := []byte{0x00, byte(len(name))}
		b = append(b, name...)
		b = append(b, level, flags, 0x00, 0x3C)
		return append(b, rest...)
	}
	clientID := []byte{0x00, 0x01, 'c'}

	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{"wrong protocol name", body("MQIsdp", 4, 0x02, clientID...), ErrInvalidProtocolName},
		{"protocol level 3", body("MQTT", 3, 0x02, clientID...), ErrInvalidProtocolVersion},
		{"protocol level 5", body("MQTT", 5, 0x02, clientID...), ErrInvalidProtocolVersion},
		{"reserved flag", body("MQTT", 4, 0x03, clientID...), ErrInvalidConnectFlags},
		{"will qos without will flag", body("MQTT", 4, 0x0A, clientID...), ErrInvalidConnectFlags},
		{"will qos 3", body("MQTT", 4, 0x1E, clientID...), ErrInvalidConnectFlags},
		{"password without username", body("MQTT", 4, 0x42, append(clientID, 0x00, 0x01, 'p')...), ErrPasswordWithoutUsername},
		{"missing client id", body("MQTT", 4, 0x02), ErrTruncated},
		{"trailing bytes", body("MQTT", 4, 0x02, append(clientID, 0xFF)...), ErrTrailingBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := append([]byte{0x10, byte(len(tt.body))}, tt.body...)

			_, _, err := ReadPacket(bytes.NewReader(raw), 0)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestConnectPacketEmptyUsernameWire(t *testing.T) {
	pkt := ConnectPacket{ClientID: "c", CleanSession: true, Username: ptrTo("")}

	var buf bytes.Buffer
	_, err := pkt.Encode(&buf)
	require.NoError(t, err)

	want := []byte{
		0x10, 0x0F,
		0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04,
		0x82, 0x00, 0x00,
		0x00, 0x01, 'c',
		0x00, 0x00,
	}
	assert.Equal(t, want, buf.Bytes())
}
