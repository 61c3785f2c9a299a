package mqttv3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePacketRoundTrip(t *testing.T) {
	pkt := &SubscribePacket{
		PacketID: 10,
		Subscriptions: []Subscription{
			{TopicFilter: "sensors/+/temp", QoS: QoS0},
			{TopicFilter: "alerts/#", QoS: QoS1},
			{TopicFilter: "#", QoS: QoS2},
		},
	}

	var buf bytes.Buffer
	_, err := pkt.Encode(&buf)
	require.NoError(t, err)

	decoded, _, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, pkt, decoded)
}

func TestSubscribePacketIgnoresReservedOptionBits(t *testing.T) {
	raw := []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0xFD}

	pkt, _, err := ReadPacket(bytes.NewReader(raw), 0)
	require.NoError(t, err)

	sub := pkt.(*SubscribePacket)
	assert.Equal(t, []Subscription{{TopicFilter: "a", QoS: QoS1}}, sub.Subscriptions)
}

func TestSubscribePacketErrors(t *testing.T) {
	t.Run("validate", func(t *testing.T) {
		tests := []struct {
			name    string
			packet  SubscribePacket
			wantErr error
		}{
			{"zero id", SubscribePacket{Subscriptions: []Subscription{{TopicFilter: "a"}}}, ErrZeroPacketID},
			{"no filters", SubscribePacket{PacketID: 1}, ErrNoTopicFilters},
			{"bad filter", SubscribePacket{PacketID: 1, Subscriptions: []Subscription{{TopicFilter: "a/#/b"}}}, ErrInvalidTopicFilter},
			{"QoS 3", SubscribePacket{PacketID: 1, Subscriptions: []Subscription{{TopicFilter: "a", QoS: 3}}}, ErrInvalidQoS},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.ErrorIs(t, tt.packet.Validate(), tt.wantErr)
			})
		}
	})

	t.Run("decode", func(t *testing.T) {
		tests := []struct {
			name    string
			raw     []byte
			wantErr error
		}{
			{"no filters", []byte{0x82, 0x02, 0x00, 0x01}, ErrNoTopicFilters},
			{"zero id", []byte{0x82, 0x06, 0x00, 0x00, 0x00, 0x01, 'a', 0x00}, ErrZeroPacketID},
			{"QoS 3", []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x03}, ErrInvalidQoS},
			{"missing options byte", []byte{0x82, 0x05, 0x00, 0x01, 0x00, 0x01, 'a'}, ErrTruncated},
			{"bad filter", []byte{0x82, 0x07, 0x00, 0x01, 0x00, 0x02, 'a', '+', 0x00}, ErrInvalidTopicFilter},
			{"wrong flags", []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x00}, ErrInvalidPacketFlags},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := ReadPacket(bytes.NewReader(tt.raw), 0)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrMalformedPacket)
			})
		}
	})
}

func TestSubackPacket(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		pkt := &SubackPacket{
			PacketID:    3,
			ReturnCodes: []SubackReturnCode{SubackGrantedQoS0, SubackGrantedQoS2, SubackFailure},
		}

		var buf bytes.Buffer
		_, err := pkt.Encode(&buf)
		require.NoError(t, err)

		decoded, _, err := ReadPacket(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, pkt, decoded)
	})

	t.Run("decode errors", func(t *testing.T) {
		tests := []struct {
			name    string
			raw     []byte
			wantErr error
		}{
			{"no return codes", []byte{0x90, 0x02, 0x00, 0x01}, ErrInvalidRemainingLength},
			{"invalid return code", []byte{0x90, 0x03, 0x00, 0x01, 0x03}, ErrInvalidReturnCode},
			{"zero id", []byte{0x90, 0x03, 0x00, 0x00, 0x00}, ErrZeroPacketID},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := ReadPacket(bytes.NewReader(tt.raw), 0)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	})

	t.Run("validate", func(t *testing.T) {
		assert.ErrorIs(t, (&SubackPacket{PacketID: 1}).Validate(), ErrInvalidRemainingLength)
		assert.ErrorIs(t, (&SubackPacket{PacketID: 1, ReturnCodes: []SubackReturnCode{0x40}}).Validate(), ErrInvalidReturnCode)
		assert.ErrorIs(t, (&SubackPacket{ReturnCodes: []SubackReturnCode{0}}).Validate(), ErrZeroPacketID)
	})
}

func TestUnsubscribePacket(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		pkt := &UnsubscribePacket{PacketID: 4, TopicFilters: []string{"a/+", "b/#", "c"}}

		var buf bytes.Buffer
		_, err := pkt.Encode(&buf)
		require.NoError(t, err)

		decoded, _, err := ReadPacket(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, pkt, decoded)
	})

	t.Run("errors", func(t *testing.T) {
		assert.ErrorIs(t, (&UnsubscribePacket{TopicFilters: []string{"a"}}).Validate(), ErrZeroPacketID)
		assert.ErrorIs(t, (&UnsubscribePacket{PacketID: 1}).Validate(), ErrNoTopicFilters)
		assert.ErrorIs(t, (&UnsubscribePacket{PacketID: 1, TopicFilters: []string{""}}).Validate(), ErrEmptyTopic)

		_, _, err := ReadPacket(bytes.NewReader([]byte{0xA2, 0x02, 0x00, 0x01}), 0)
		assert.ErrorIs(t, err, ErrNoTopicFilters)

		_, _, err = ReadPacket(bytes.NewReader([]byte{0xA0, 0x05, 0x00, 0x01, 0x00, 0x01, 'a'}), 0)
		assert.ErrorIs(t, err, ErrInvalidPacketFlags)
	})
}
