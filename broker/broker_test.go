package broker

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/config"
	"github.com/driftmq/driftmq/packets"
	v3 "github.com/driftmq/driftmq/packets/v3"
	v5 "github.com/driftmq/driftmq/packets/v5"
	"github.com/driftmq/driftmq/storage/memory"
)

// testBroker runs a broker behind a real TCP listener.
type testBroker struct {
	b    *Broker
	addr string
}

func newTestBroker(t *testing.T, mutate func(*config.Config)) *testBroker {
	t.Helper()

	cfg := config.Default()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.SysTopicInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New(memory.New(), cfg, logger, nil, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				b.HandleConnection(b.NewConn(conn))
			}()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		b.Close()
	})

	return &testBroker{b: b, addr: ln.Addr().String()}
}

// testClient drives the broker over a raw TCP connection using the repo's
// own codec.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, tb *testBroker) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", tb.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) write(pkt packets.ControlPacket) {
	c.t.Helper()
	_, err := c.conn.Write(pkt.Encode())
	require.NoError(c.t, err)
}

func (c *testClient) readV5(timeout time.Duration) packets.ControlPacket {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(timeout)))
	pkt, err := v5.ReadPacket(c.conn)
	require.NoError(c.t, err)
	return pkt
}

func (c *testClient) tryReadV5(timeout time.Duration) (packets.ControlPacket, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	return v5.ReadPacket(c.conn)
}

func (c *testClient) readV3(timeout time.Duration) packets.ControlPacket {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(timeout)))
	pkt, err := v3.ReadPacket(c.conn)
	require.NoError(c.t, err)
	return pkt
}

// connectV5 performs a v5 handshake and returns the CONNACK.
func (c *testClient) connectV5(clientID string, mutate func(*v5.Connect)) *v5.ConnAck {
	c.t.Helper()

	pkt := &v5.Connect{
		FixedHeader:     packets.FixedHeader{PacketType: packets.ConnectType},
		ProtocolName:    "MQTT",
		ProtocolVersion: 5,
		CleanStart:      true,
		KeepAlive:       0,
		ClientID:        clientID,
		Properties:      &v5.ConnectProperties{},
	}
	if mutate != nil {
		mutate(pkt)
	}
	c.write(pkt)

	ack, ok := c.readV5(2 * time.Second).(*v5.ConnAck)
	require.True(c.t, ok, "expected CONNACK")
	return ack
}

// subscribeV5 sends SUBSCRIBE and reads until SUBACK, returning any
// retained publishes delivered before it.
func (c *testClient) subscribeV5(packetID uint16, subID *uint32, filters ...v5.SubOption) (*v5.SubAck, []*v5.Publish) {
	c.t.Helper()

	pkt := &v5.Subscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubscribeType, QoS: 1},
		ID:          packetID,
		Opts:        filters,
	}
	if subID != nil {
		pkt.Properties = &v5.SubscribeProperties{SubscriptionID: subID}
	}
	c.write(pkt)

	var retained []*v5.Publish
	for {
		got := c.readV5(2 * time.Second)
		switch p := got.(type) {
		case *v5.SubAck:
			return p, retained
		case *v5.Publish:
			retained = append(retained, p)
		default:
			c.t.Fatalf("unexpected packet %s while waiting for SUBACK", got.String())
		}
	}
}

func (c *testClient) publishV5(topic string, payload []byte, qos byte, packetID uint16, mutate func(*v5.Publish)) {
	c.t.Helper()

	pkt := &v5.Publish{
		FixedHeader: packets.FixedHeader{PacketType: packets.PublishType, QoS: qos},
		TopicName:   topic,
		ID:          packetID,
		Payload:     payload,
	}
	if mutate != nil {
		mutate(pkt)
	}
	c.write(pkt)
}

// expectPublishV5 reads the next packet and requires it to be a PUBLISH.
func (c *testClient) expectPublishV5(timeout time.Duration) *v5.Publish {
	c.t.Helper()

	pkt := c.readV5(timeout)
	pub, ok := pkt.(*v5.Publish)
	require.True(c.t, ok, "expected PUBLISH, got %s", pkt.String())
	return pub
}

func (c *testClient) disconnectV5(reason byte) {
	c.t.Helper()
	c.write(&v5.Disconnect{
		FixedHeader: packets.FixedHeader{PacketType: packets.DisconnectType},
		ReasonCode:  reason,
	})
	c.conn.Close()
}
