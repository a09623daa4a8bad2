package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/config"
	"github.com/driftmq/driftmq/packets"
	v5 "github.com/driftmq/driftmq/packets/v5"
)

func u16ptr(v uint16) *uint16 { return &v }

// A receive maximum of one forces the second message to wait in the pending
// queue until the first is acknowledged.
func TestReceiveMaximumFlowControl(t *testing.T) {
	tb := newTestBroker(t, nil)

	sub := dial(t, tb)
	sub.connectV5("slow-sub", func(p *v5.Connect) {
		p.Properties.ReceiveMaximum = u16ptr(1)
	})
	sub.subscribeV5(1, nil, v5.SubOption{Topic: "flow", MaxQoS: 1})

	pub := dial(t, tb)
	pub.connectV5("flow-pub", nil)
	for i, payload := range []string{"one", "two", "three"} {
		pub.publishV5("flow", []byte(payload), 1, uint16(50+i), nil)
		require.IsType(t, &v5.PubAck{}, pub.readV5(2*time.Second))
	}

	first := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "one", string(first.Payload))

	// Nothing else arrives while the window is full.
	_, err := sub.tryReadV5(300 * time.Millisecond)
	assert.Error(t, err)

	// Acknowledging opens the window for the next queued message.
	sub.write(&v5.PubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
		ID:          first.ID,
	})
	second := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "two", string(second.Payload))

	sub.write(&v5.PubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
		ID:          second.ID,
	})
	third := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "three", string(third.Payload))
}

// Overflowing the pending queue with QoS>0 traffic disconnects the consumer
// with QuotaExceeded.
func TestPendingQueueOverflowDisconnects(t *testing.T) {
	tb := newTestBroker(t, func(cfg *config.Config) {
		cfg.MaxOfflineQueue = 1
	})

	sub := dial(t, tb)
	sub.connectV5("tiny-queue", func(p *v5.Connect) {
		p.Properties.ReceiveMaximum = u16ptr(1)
	})
	sub.subscribeV5(1, nil, v5.SubOption{Topic: "burst", MaxQoS: 1})

	pub := dial(t, tb)
	pub.connectV5("burst-pub", nil)
	for i := 0; i < 3; i++ {
		pub.publishV5("burst", []byte{byte('a' + i)}, 1, uint16(60+i), nil)
		require.IsType(t, &v5.PubAck{}, pub.readV5(2*time.Second))
	}

	// One message is inflight, one queues, the third overflows.
	first := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "a", string(first.Payload))

	pkt := sub.readV5(2 * time.Second)
	disc, ok := pkt.(*v5.Disconnect)
	require.True(t, ok, "expected DISCONNECT, got %s", pkt.String())
	assert.Equal(t, packets.ReasonQuotaExceeded, disc.ReasonCode)
}

// Queued QoS 0 messages are dropped before QoS>0 traffic overflows the
// queue.
func TestQueueDropsQoS0First(t *testing.T) {
	tb := newTestBroker(t, func(cfg *config.Config) {
		cfg.MaxOfflineQueue = 2
	})

	sub := dial(t, tb)
	sub.connectV5("mixed-sub", func(p *v5.Connect) {
		p.Properties.ReceiveMaximum = u16ptr(1)
	})
	sub.subscribeV5(1, nil, v5.SubOption{Topic: "mixed", MaxQoS: 1})

	pub := dial(t, tb)
	pub.connectV5("mixed-pub", nil)

	// Fills the window.
	pub.publishV5("mixed", []byte("w"), 1, 70, nil)
	require.IsType(t, &v5.PubAck{}, pub.readV5(2*time.Second))
	// Queue: one QoS 0, one QoS 1.
	pub.publishV5("mixed", []byte("q0"), 0, 0, nil)
	pub.publishV5("mixed", []byte("q1-a"), 1, 71, nil)
	require.IsType(t, &v5.PubAck{}, pub.readV5(2*time.Second))
	// Overflow drops the QoS 0 entry instead of the session.
	pub.publishV5("mixed", []byte("q1-b"), 1, 72, nil)
	require.IsType(t, &v5.PubAck{}, pub.readV5(2*time.Second))

	first := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "w", string(first.Payload))

	sub.write(&v5.PubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
		ID:          first.ID,
	})

	second := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "q1-a", string(second.Payload))

	sub.write(&v5.PubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
		ID:          second.ID,
	})

	third := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "q1-b", string(third.Payload))
}
