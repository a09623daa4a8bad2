package v3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/packets"
)

// roundTrip encodes a packet and reads it back through the full read path.
func roundTrip(t *testing.T, pkt ControlPacket) ControlPacket {
	t.Helper()

	decoded, err := ReadPacket(bytes.NewReader(pkt.Encode()))
	require.NoError(t, err)
	require.Equal(t, pkt.Type(), decoded.Type())
	return decoded
}

func TestConnectRoundTrip(t *testing.T) {
	pkt := &Connect{
		FixedHeader:     FixedHeader{PacketType: ConnectType},
		ProtocolName:    "MQTT",
		ProtocolVersion: 4,
		CleanSession:    true,
		WillFlag:        true,
		WillQoS:         1,
		WillRetain:      true,
		UsernameFlag:    true,
		PasswordFlag:    true,
		KeepAlive:       60,
		ClientID:        "client-1",
		WillTopic:       "will/topic",
		WillPayload:     []byte("gone"),
		Username:        "user",
		Password:        []byte("secret"),
	}

	decoded := roundTrip(t, pkt).(*Connect)
	assert.Equal(t, pkt.ClientID, decoded.ClientID)
	assert.Equal(t, pkt.CleanSession, decoded.CleanSession)
	assert.Equal(t, pkt.WillTopic, decoded.WillTopic)
	assert.Equal(t, pkt.WillPayload, decoded.WillPayload)
	assert.Equal(t, pkt.WillQoS, decoded.WillQoS)
	assert.True(t, decoded.WillRetain)
	assert.Equal(t, pkt.Username, decoded.Username)
	assert.Equal(t, pkt.Password, decoded.Password)
	assert.Equal(t, pkt.KeepAlive, decoded.KeepAlive)
}

func TestConnectValidate(t *testing.T) {
	valid := &Connect{ProtocolName: "MQTT", ProtocolVersion: 4, CleanSession: true, ClientID: "c"}
	assert.Equal(t, packets.ReasonSuccess, valid.Validate())

	badVersion := &Connect{ProtocolName: "MQTT", ProtocolVersion: 3, ClientID: "c"}
	assert.Equal(t, packets.ReasonUnsupportedProtocolVer, badVersion.Validate())

	badName := &Connect{ProtocolName: "HTTP", ProtocolVersion: 4, ClientID: "c"}
	assert.Equal(t, packets.ReasonProtocolError, badName.Validate())

	emptyIDPersistent := &Connect{ProtocolName: "MQTT", ProtocolVersion: 4, CleanSession: false}
	assert.Equal(t, packets.ReasonClientIdentifierNotValid, emptyIDPersistent.Validate())

	passwordOnly := &Connect{ProtocolName: "MQTT", ProtocolVersion: 4, ClientID: "c", PasswordFlag: true}
	assert.Equal(t, packets.ReasonBadUsernameOrPassword, passwordOnly.Validate())
}

func TestConnAckRoundTrip(t *testing.T) {
	pkt := &ConnAck{
		FixedHeader:    FixedHeader{PacketType: ConnAckType},
		SessionPresent: true,
		ReturnCode:     packets.V3RefusedNotAuthorized,
	}

	decoded := roundTrip(t, pkt).(*ConnAck)
	assert.True(t, decoded.SessionPresent)
	assert.Equal(t, pkt.ReturnCode, decoded.ReturnCode)
}

func TestPublishRoundTrip(t *testing.T) {
	cases := []*Publish{
		{
			FixedHeader: FixedHeader{PacketType: PublishType},
			TopicName:   "a/b",
			Payload:     []byte("qos0"),
		},
		{
			FixedHeader: FixedHeader{PacketType: PublishType, QoS: 1, Retain: true},
			TopicName:   "a/b/c",
			ID:          42,
			Payload:     []byte("qos1"),
		},
		{
			FixedHeader: FixedHeader{PacketType: PublishType, QoS: 2, Dup: true},
			TopicName:   "x",
			ID:          65535,
			Payload:     nil,
		},
	}

	for _, pkt := range cases {
		decoded := roundTrip(t, pkt).(*Publish)
		assert.Equal(t, pkt.TopicName, decoded.TopicName)
		assert.Equal(t, pkt.ID, decoded.ID)
		assert.Equal(t, pkt.QoS, decoded.QoS)
		assert.Equal(t, pkt.Retain, decoded.Retain)
		assert.Equal(t, pkt.Dup, decoded.Dup)
		if len(pkt.Payload) > 0 {
			assert.Equal(t, pkt.Payload, decoded.Payload)
		} else {
			assert.Empty(t, decoded.Payload)
		}
	}
}

func TestAckRoundTrips(t *testing.T) {
	puback := roundTrip(t, &PubAck{FixedHeader: FixedHeader{PacketType: PubAckType}, ID: 7}).(*PubAck)
	assert.Equal(t, uint16(7), puback.ID)

	pubrec := roundTrip(t, &PubRec{FixedHeader: FixedHeader{PacketType: PubRecType}, ID: 8}).(*PubRec)
	assert.Equal(t, uint16(8), pubrec.ID)

	pubrel := roundTrip(t, &PubRel{FixedHeader: FixedHeader{PacketType: PubRelType, QoS: 1}, ID: 9}).(*PubRel)
	assert.Equal(t, uint16(9), pubrel.ID)
	assert.Equal(t, byte(1), pubrel.QoS)

	pubcomp := roundTrip(t, &PubComp{FixedHeader: FixedHeader{PacketType: PubCompType}, ID: 10}).(*PubComp)
	assert.Equal(t, uint16(10), pubcomp.ID)
}

func TestSubscribeRoundTrip(t *testing.T) {
	pkt := &Subscribe{
		FixedHeader: FixedHeader{PacketType: SubscribeType, QoS: 1},
		ID:          3,
		Topics:      []string{"a/+", "b/#", "c"},
		QoSList:     []byte{0, 1, 2},
	}

	decoded := roundTrip(t, pkt).(*Subscribe)
	assert.Equal(t, pkt.ID, decoded.ID)
	assert.Equal(t, pkt.Topics, decoded.Topics)
	assert.Equal(t, pkt.QoSList, decoded.QoSList)
}

func TestSubAckRoundTrip(t *testing.T) {
	pkt := &SubAck{
		FixedHeader: FixedHeader{PacketType: SubAckType},
		ID:          3,
		ReturnCodes: []byte{0, 1, 0x80},
	}

	decoded := roundTrip(t, pkt).(*SubAck)
	assert.Equal(t, pkt.ID, decoded.ID)
	assert.Equal(t, pkt.ReturnCodes, decoded.ReturnCodes)
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	pkt := &Unsubscribe{
		FixedHeader: FixedHeader{PacketType: UnsubscribeType, QoS: 1},
		ID:          4,
		Topics:      []string{"a/+", "b"},
	}

	decoded := roundTrip(t, pkt).(*Unsubscribe)
	assert.Equal(t, pkt.ID, decoded.ID)
	assert.Equal(t, pkt.Topics, decoded.Topics)

	unsuback := roundTrip(t, &UnsubAck{FixedHeader: FixedHeader{PacketType: UnsubAckType}, ID: 4}).(*UnsubAck)
	assert.Equal(t, uint16(4), unsuback.ID)
}

func TestZeroBodyPackets(t *testing.T) {
	roundTrip(t, &PingReq{FixedHeader: FixedHeader{PacketType: PingReqType}})
	roundTrip(t, &PingResp{FixedHeader: FixedHeader{PacketType: PingRespType}})
	roundTrip(t, &Disconnect{FixedHeader: FixedHeader{PacketType: DisconnectType}})
}
