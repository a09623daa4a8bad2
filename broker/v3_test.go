package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/config"
	"github.com/driftmq/driftmq/packets"
	v3 "github.com/driftmq/driftmq/packets/v3"
	v5 "github.com/driftmq/driftmq/packets/v5"
)

func (c *testClient) connectV3(clientID string, cleanSession bool) *v3.ConnAck {
	c.t.Helper()

	c.write(&v3.Connect{
		FixedHeader:     packets.FixedHeader{PacketType: packets.ConnectType},
		ProtocolName:    "MQTT",
		ProtocolVersion: 4,
		CleanSession:    cleanSession,
		KeepAlive:       0,
		ClientID:        clientID,
	})

	ack, ok := c.readV3(2 * time.Second).(*v3.ConnAck)
	require.True(c.t, ok, "expected CONNACK")
	return ack
}

func TestV3ConnectPublishSubscribe(t *testing.T) {
	tb := newTestBroker(t, nil)

	sub := dial(t, tb)
	ack := sub.connectV3("v3-sub", true)
	assert.Equal(t, packets.V3Accepted, ack.ReturnCode)
	assert.False(t, ack.SessionPresent)

	sub.write(&v3.Subscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubscribeType, QoS: 1},
		ID:          1,
		Topics:      []string{"legacy/+"},
		QoSList:     []byte{1},
	})
	subAck, ok := sub.readV3(2 * time.Second).(*v3.SubAck)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, subAck.ReturnCodes)

	pub := dial(t, tb)
	pub.connectV3("v3-pub", true)
	pub.write(&v3.Publish{
		FixedHeader: packets.FixedHeader{PacketType: packets.PublishType, QoS: 1},
		TopicName:   "legacy/topic",
		ID:          9,
		Payload:     []byte("old school"),
	})
	pubAck, ok := pub.readV3(2 * time.Second).(*v3.PubAck)
	require.True(t, ok)
	assert.Equal(t, uint16(9), pubAck.ID)

	got, ok := sub.readV3(2 * time.Second).(*v3.Publish)
	require.True(t, ok)
	assert.Equal(t, "legacy/topic", got.TopicName)
	assert.Equal(t, "old school", string(got.Payload))
	assert.Equal(t, byte(1), got.QoS)

	// Acknowledge the delivery.
	sub.write(&v3.PubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
		ID:          got.ID,
	})
}

func TestV3RejectsEmptyIDWithPersistentSession(t *testing.T) {
	tb := newTestBroker(t, nil)

	c := dial(t, tb)
	c.write(&v3.Connect{
		FixedHeader:     packets.FixedHeader{PacketType: packets.ConnectType},
		ProtocolName:    "MQTT",
		ProtocolVersion: 4,
		CleanSession:    false,
		ClientID:        "",
	})

	ack, ok := c.readV3(2 * time.Second).(*v3.ConnAck)
	require.True(t, ok)
	assert.Equal(t, packets.V3RefusedIDRejected, ack.ReturnCode)
}

func TestV3SessionResume(t *testing.T) {
	tb := newTestBroker(t, nil)

	sub := dial(t, tb)
	sub.connectV3("v3-resume", false)
	sub.write(&v3.Subscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubscribeType, QoS: 1},
		ID:          1,
		Topics:      []string{"offline/q"},
		QoSList:     []byte{1},
	})
	_, ok := sub.readV3(2 * time.Second).(*v3.SubAck)
	require.True(t, ok)

	sub.write(&v3.Disconnect{FixedHeader: packets.FixedHeader{PacketType: packets.DisconnectType}})
	sub.conn.Close()
	time.Sleep(100 * time.Millisecond)

	// Messages published while the subscriber is away queue for it.
	pub := dial(t, tb)
	pub.connectV3("v3-away-pub", true)
	pub.write(&v3.Publish{
		FixedHeader: packets.FixedHeader{PacketType: packets.PublishType, QoS: 1},
		TopicName:   "offline/q",
		ID:          5,
		Payload:     []byte("while away"),
	})
	_, ok = pub.readV3(2 * time.Second).(*v3.PubAck)
	require.True(t, ok)

	resumed := dial(t, tb)
	ack := resumed.connectV3("v3-resume", false)
	assert.True(t, ack.SessionPresent)

	got, ok := resumed.readV3(2 * time.Second).(*v3.Publish)
	require.True(t, ok)
	assert.Equal(t, "while away", string(got.Payload))
}

func TestSysTopics(t *testing.T) {
	tb := newTestBroker(t, func(cfg *config.Config) {
		cfg.SysTopicInterval = time.Second
	})

	c := dial(t, tb)
	c.connectV5("sys-watcher", nil)
	c.subscribeV5(1, nil, v5.SubOption{Topic: "$SYS/broker/#"})

	seen := map[string]bool{}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(seen) < 7 {
		pkt, err := c.tryReadV5(2 * time.Second)
		if err != nil {
			break
		}
		if pub, ok := pkt.(*v5.Publish); ok {
			seen[pub.TopicName] = true
		}
	}

	for _, topic := range []string{
		"$SYS/broker/uptime",
		"$SYS/broker/clients/connected",
		"$SYS/broker/clients/total",
		"$SYS/broker/messages/received",
		"$SYS/broker/messages/sent",
		"$SYS/broker/bytes/received",
		"$SYS/broker/bytes/sent",
	} {
		assert.True(t, seen[topic], "missing %s", topic)
	}
}
