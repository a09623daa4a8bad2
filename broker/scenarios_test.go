package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/auth"
	"github.com/driftmq/driftmq/config"
	"github.com/driftmq/driftmq/packets"
	v5 "github.com/driftmq/driftmq/packets/v5"
	"github.com/driftmq/driftmq/storage"
	"gopkg.in/yaml.v3"
)

func u32ptr(v uint32) *uint32 { return &v }

func TestConnectBasic(t *testing.T) {
	tb := newTestBroker(t, nil)

	c := dial(t, tb)
	ack := c.connectV5("basic", nil)

	assert.Equal(t, packets.ReasonSuccess, ack.ReasonCode)
	assert.False(t, ack.SessionPresent)
	require.NotNil(t, ack.Properties)
	assert.Equal(t, uint16(32), *ack.Properties.ReceiveMaximum)
	assert.Equal(t, uint16(32), *ack.Properties.TopicAliasMaximum)
	assert.Equal(t, byte(1), *ack.Properties.SharedSubAvailable)
}

func TestKeepAliveNegotiation(t *testing.T) {
	tb := newTestBroker(t, nil)

	c := dial(t, tb)
	ack := c.connectV5("ka-capped", func(p *v5.Connect) { p.KeepAlive = 120 })
	require.NotNil(t, ack.Properties.ServerKeepAlive)
	assert.Equal(t, uint16(30), *ack.Properties.ServerKeepAlive)

	c2 := dial(t, tb)
	ack2 := c2.connectV5("ka-kept", func(p *v5.Connect) { p.KeepAlive = 10 })
	assert.Nil(t, ack2.Properties.ServerKeepAlive)
}

func TestAssignedClientID(t *testing.T) {
	tb := newTestBroker(t, nil)

	c := dial(t, tb)
	ack := c.connectV5("", nil)
	assert.Equal(t, packets.ReasonSuccess, ack.ReasonCode)
	assert.NotEmpty(t, ack.Properties.AssignedClientID)
}

// S1: overlapping subscriptions produce a single delivery per client with
// every matching subscription identifier attached.
func TestFanOutWithSubscriptionIDs(t *testing.T) {
	tb := newTestBroker(t, nil)

	b := dial(t, tb)
	b.connectV5("sub-b", nil)
	sub1 := uint32(1)
	ack, _ := b.subscribeV5(1, &sub1,
		v5.SubOption{Topic: "a"}, v5.SubOption{Topic: "b"}, v5.SubOption{Topic: "a/1"})
	assert.Equal(t, []byte{0, 0, 0}, ack.ReasonCodes)

	sub2 := uint32(2)
	ack, _ = b.subscribeV5(2, &sub2,
		v5.SubOption{Topic: "c"}, v5.SubOption{Topic: "d"}, v5.SubOption{Topic: "a/+"})
	assert.Equal(t, []byte{0, 0, 0}, ack.ReasonCodes)

	a := dial(t, tb)
	a.connectV5("pub-a", nil)
	for _, pub := range []struct{ topic, payload string }{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"a/1", "5"},
	} {
		a.publishV5(pub.topic, []byte(pub.payload), 0, 0, nil)
	}

	wantIDs := [][]uint32{{1}, {1}, {2}, {2}, {1, 2}}
	wantPayload := []string{"1", "2", "3", "4", "5"}
	for i := range wantIDs {
		got := b.expectPublishV5(2 * time.Second)
		assert.Equal(t, wantPayload[i], string(got.Payload), "delivery %d", i)
		require.NotNil(t, got.Properties, "delivery %d", i)
		assert.ElementsMatch(t, wantIDs[i], got.Properties.SubscriptionIDs, "delivery %d", i)
	}
}

// S2: an unacknowledged QoS 1 window is retransmitted with dup=true when the
// session resumes.
func TestQoS1OfflineResume(t *testing.T) {
	tb := newTestBroker(t, nil)

	b := dial(t, tb)
	ack := b.connectV5("resume-b", func(p *v5.Connect) {
		p.Properties.SessionExpiryInterval = u32ptr(300)
	})
	assert.False(t, ack.SessionPresent)
	b.subscribeV5(1, nil, v5.SubOption{Topic: "test", MaxQoS: 1})

	a := dial(t, tb)
	a.connectV5("resume-a", nil)
	a.publishV5("test", []byte("1"), 1, 11, nil)
	require.IsType(t, &v5.PubAck{}, a.readV5(2*time.Second))
	a.publishV5("test", []byte("2"), 1, 12, nil)
	require.IsType(t, &v5.PubAck{}, a.readV5(2*time.Second))

	first := b.expectPublishV5(2 * time.Second)
	second := b.expectPublishV5(2 * time.Second)
	assert.Equal(t, "1", string(first.Payload))
	assert.Equal(t, "2", string(second.Payload))
	assert.False(t, first.Dup)

	// Disconnect without acknowledging either message.
	b.disconnectV5(packets.ReasonNormalDisconnection)
	time.Sleep(100 * time.Millisecond)

	b2 := dial(t, tb)
	ack = b2.connectV5("resume-b", func(p *v5.Connect) {
		p.CleanStart = false
		p.Properties.SessionExpiryInterval = u32ptr(300)
	})
	assert.True(t, ack.SessionPresent)

	redelivered1 := b2.expectPublishV5(2 * time.Second)
	redelivered2 := b2.expectPublishV5(2 * time.Second)
	assert.Equal(t, "1", string(redelivered1.Payload))
	assert.Equal(t, "2", string(redelivered2.Payload))
	assert.True(t, redelivered1.Dup)
	assert.True(t, redelivered2.Dup)
	assert.Equal(t, first.ID, redelivered1.ID)
	assert.Equal(t, second.ID, redelivered2.ID)
}

// S3: the will fires after its delay, not earlier, when the client vanishes
// abnormally.
func TestWillDelay(t *testing.T) {
	tb := newTestBroker(t, nil)

	b := dial(t, tb)
	b.connectV5("will-watcher", nil)
	b.subscribeV5(1, nil, v5.SubOption{Topic: "test"})

	a := dial(t, tb)
	a.connectV5("will-owner", func(p *v5.Connect) {
		p.Properties.SessionExpiryInterval = u32ptr(30)
		p.WillFlag = true
		p.WillTopic = "test"
		p.WillPayload = []byte("abc")
		p.WillProperties = &v5.WillProperties{WillDelayInterval: u32ptr(1)}
	})

	start := time.Now()
	a.conn.Close() // abnormal termination

	will := b.expectPublishV5(5 * time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, "test", will.TopicName)
	assert.Equal(t, "abc", string(will.Payload))
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "will fired before its delay")
}

func TestWillCancelledOnReconnect(t *testing.T) {
	tb := newTestBroker(t, nil)

	watcher := dial(t, tb)
	watcher.connectV5("watcher", nil)
	watcher.subscribeV5(1, nil, v5.SubOption{Topic: "wills/#"})

	a := dial(t, tb)
	a.connectV5("comeback", func(p *v5.Connect) {
		p.Properties.SessionExpiryInterval = u32ptr(30)
		p.WillFlag = true
		p.WillTopic = "wills/comeback"
		p.WillPayload = []byte("gone")
		p.WillProperties = &v5.WillProperties{WillDelayInterval: u32ptr(2)}
	})
	a.conn.Close()

	// Reconnect before the delay elapses.
	time.Sleep(200 * time.Millisecond)
	a2 := dial(t, tb)
	a2.connectV5("comeback", func(p *v5.Connect) { p.CleanStart = false })

	_, err := watcher.tryReadV5(3 * time.Second)
	assert.Error(t, err, "will must not fire after reconnect")
}

func TestWillCancelledOnCleanDisconnect(t *testing.T) {
	tb := newTestBroker(t, nil)

	watcher := dial(t, tb)
	watcher.connectV5("watcher", nil)
	watcher.subscribeV5(1, nil, v5.SubOption{Topic: "wills/#"})

	a := dial(t, tb)
	a.connectV5("polite", func(p *v5.Connect) {
		p.WillFlag = true
		p.WillTopic = "wills/polite"
		p.WillPayload = []byte("gone")
	})
	a.disconnectV5(packets.ReasonNormalDisconnection)

	_, err := watcher.tryReadV5(2 * time.Second)
	assert.Error(t, err, "clean disconnect cancels the will")
}

// S4: ACL rules decide per user, address and topic.
func TestACL(t *testing.T) {
	tb := newTestBroker(t, nil)

	var cfgs []auth.PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte(`
- type: acl
  rules:
    - user: sunli
      action: pub
    - addr: 1.1.1.1
      action: all
    - topic: a/b/c
      action: sub
`), &cfgs))
	plugins, err := auth.Build(cfgs)
	require.NoError(t, err)
	tb.b.SetAuthEngine(auth.NewEngine(plugins))

	watcher := dial(t, tb)
	watcher.connectV5("watcher", nil)
	subAck, _ := watcher.subscribeV5(1, nil, v5.SubOption{Topic: "a/b/c"})
	assert.Equal(t, []byte{0}, subAck.ReasonCodes, "public topic is subscribable anonymously")

	sunli := dial(t, tb)
	sunli.connectV5("sunli-client", func(p *v5.Connect) {
		p.UsernameFlag = true
		p.Username = "sunli"
	})

	// sunli may publish.
	sunli.publishV5("a/b/c", []byte("hello"), 1, 21, nil)
	pubAck, ok := sunli.readV5(2 * time.Second).(*v5.PubAck)
	require.True(t, ok)
	assert.Nil(t, pubAck.ReasonCode)

	got := watcher.expectPublishV5(2 * time.Second)
	assert.Equal(t, "hello", string(got.Payload))

	// sunli may not subscribe.
	denied, _ := sunli.subscribeV5(2, nil, v5.SubOption{Topic: "test"})
	assert.Equal(t, []byte{packets.ReasonNotAuthorized}, denied.ReasonCodes)

	// An anonymous client may not subscribe to other topics.
	anon := dial(t, tb)
	anon.connectV5("anon", nil)
	denied, _ = anon.subscribeV5(1, nil, v5.SubOption{Topic: "test"})
	assert.Equal(t, []byte{packets.ReasonNotAuthorized}, denied.ReasonCodes)
}

// S5: ordered rewrite rules apply on ingress, first match wins.
func TestRewriteChain(t *testing.T) {
	var (
		mu     sync.Mutex
		topics []string
	)

	tb := newTestBroker(t, func(cfg *config.Config) {
		cfg.Rewrites = []config.RewriteConfig{
			{Pattern: "a/(.*)", Write: "k/$1"},
			{Pattern: "c/1/(.*)", Write: "k/1/$1"},
			{Pattern: "c/(.*)", Write: "k/2/$1"},
		}
		cfg.Subscriptions = []string{"#"}
	})
	tb.b.OnSinkMessage(func(msg *storage.Message) {
		mu.Lock()
		topics = append(topics, msg.Topic)
		mu.Unlock()
	})

	sub := dial(t, tb)
	sub.connectV5("observer", nil)
	sub.subscribeV5(1, nil, v5.SubOption{Topic: "k/#"})

	pub := dial(t, tb)
	pub.connectV5("publisher", nil)
	for _, topic := range []string{"a/1", "a/2", "c/1/33", "c/44"} {
		pub.publishV5(topic, []byte("x"), 0, 0, nil)
	}

	want := []string{"k/1", "k/2", "k/1/33", "k/2/44"}
	for i := range want {
		got := sub.expectPublishV5(2 * time.Second)
		assert.Equal(t, want[i], got.TopicName, "delivery %d", i)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, topics, "broker-side subscription sees rewritten topics in order")
}

// S6: shared subscriptions distribute round-robin, no duplicates within the
// group.
func TestSharedSubscriptionRoundRobin(t *testing.T) {
	tb := newTestBroker(t, nil)

	members := make([]*testClient, 3)
	for i, id := range []string{"m1", "m2", "m3"} {
		members[i] = dial(t, tb)
		members[i].connectV5(id, nil)
		ack, _ := members[i].subscribeV5(1, nil, v5.SubOption{Topic: "$share/g/x"})
		require.Equal(t, []byte{0}, ack.ReasonCodes)
	}

	pub := dial(t, tb)
	pub.connectV5("share-pub", nil)
	for i := 0; i < 6; i++ {
		pub.publishV5("x", []byte{byte('0' + i)}, 0, 0, nil)
	}

	counts := make([]int, 3)
	seen := map[byte]int{}
	for i, m := range members {
		for {
			pkt, err := m.tryReadV5(500 * time.Millisecond)
			if err != nil {
				break
			}
			pub, ok := pkt.(*v5.Publish)
			require.True(t, ok)
			counts[i]++
			seen[pub.Payload[0]]++
		}
	}

	assert.Equal(t, []int{2, 2, 2}, counts, "round-robin distributes evenly")
	for payload, n := range seen {
		assert.Equal(t, 1, n, "payload %c delivered more than once in the group", payload)
	}
}

func TestSessionTakeover(t *testing.T) {
	tb := newTestBroker(t, nil)

	first := dial(t, tb)
	first.connectV5("dup-id", nil)

	second := dial(t, tb)
	second.connectV5("dup-id", nil)

	pkt := first.readV5(2 * time.Second)
	disc, ok := pkt.(*v5.Disconnect)
	require.True(t, ok, "expected DISCONNECT, got %s", pkt.String())
	assert.Equal(t, packets.ReasonSessionTakenOver, disc.ReasonCode)
}

func TestQoS2IngressDedup(t *testing.T) {
	tb := newTestBroker(t, nil)

	sub := dial(t, tb)
	sub.connectV5("dedup-sub", nil)
	sub.subscribeV5(1, nil, v5.SubOption{Topic: "exactly/once", MaxQoS: 2})

	pub := dial(t, tb)
	pub.connectV5("dedup-pub", nil)

	pub.publishV5("exactly/once", []byte("only-one"), 2, 77, nil)
	rec, ok := pub.readV5(2 * time.Second).(*v5.PubRec)
	require.True(t, ok)
	assert.Equal(t, uint16(77), rec.ID)

	// A duplicate before PUBREL re-acknowledges without re-forwarding.
	pub.publishV5("exactly/once", []byte("only-one"), 2, 77, func(p *v5.Publish) { p.Dup = true })
	rec2, ok := pub.readV5(2 * time.Second).(*v5.PubRec)
	require.True(t, ok)
	assert.Equal(t, uint16(77), rec2.ID)

	pub.write(&v5.PubRel{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1},
		ID:          77,
	})
	comp, ok := pub.readV5(2 * time.Second).(*v5.PubComp)
	require.True(t, ok)
	assert.Equal(t, uint16(77), comp.ID)

	got := sub.expectPublishV5(2 * time.Second)
	assert.Equal(t, "only-one", string(got.Payload))

	_, err := sub.tryReadV5(500 * time.Millisecond)
	assert.Error(t, err, "duplicate must not be forwarded")
}

func TestRetainedDelivery(t *testing.T) {
	tb := newTestBroker(t, nil)

	pub := dial(t, tb)
	pub.connectV5("retainer", nil)
	pub.publishV5("state/light", []byte("on"), 0, 0, func(p *v5.Publish) { p.Retain = true })
	time.Sleep(100 * time.Millisecond)

	// retain_handling 0 delivers on subscribe.
	sub := dial(t, tb)
	sub.connectV5("late-sub", nil)
	_, retained := sub.subscribeV5(1, nil, v5.SubOption{Topic: "state/+"})
	require.Len(t, retained, 1)
	assert.Equal(t, "on", string(retained[0].Payload))
	assert.True(t, retained[0].Retain)

	// retain_handling 2 never delivers retained state.
	silent := dial(t, tb)
	silent.connectV5("silent-sub", nil)
	_, retained = silent.subscribeV5(1, nil, v5.SubOption{Topic: "state/+", RetainHandling: 2})
	assert.Empty(t, retained)

	// An empty retained payload clears the entry.
	pub.publishV5("state/light", nil, 0, 0, func(p *v5.Publish) { p.Retain = true })
	time.Sleep(100 * time.Millisecond)

	third := dial(t, tb)
	third.connectV5("third-sub", nil)
	_, retained = third.subscribeV5(1, nil, v5.SubOption{Topic: "state/+"})
	assert.Empty(t, retained)
}

func TestRetainedNotDeliveredToSharedGroup(t *testing.T) {
	tb := newTestBroker(t, nil)

	pub := dial(t, tb)
	pub.connectV5("retainer", nil)
	pub.publishV5("state/light", []byte("on"), 0, 0, func(p *v5.Publish) { p.Retain = true })
	time.Sleep(100 * time.Millisecond)

	member := dial(t, tb)
	member.connectV5("group-member", nil)
	_, retained := member.subscribeV5(1, nil, v5.SubOption{Topic: "$share/g/state/+"})
	assert.Empty(t, retained)
}

func TestMaxPacketSize(t *testing.T) {
	tb := newTestBroker(t, func(cfg *config.Config) {
		cfg.MaxPacketSize = 64
	})

	c := dial(t, tb)
	c.connectV5("oversize", nil)
	c.publishV5("big", make([]byte, 128), 0, 0, nil)

	pkt := c.readV5(2 * time.Second)
	disc, ok := pkt.(*v5.Disconnect)
	require.True(t, ok)
	assert.Equal(t, packets.ReasonPacketTooLarge, disc.ReasonCode)
}

func TestNoLocalSuppression(t *testing.T) {
	tb := newTestBroker(t, nil)

	c := dial(t, tb)
	c.connectV5("self-pub", nil)
	c.subscribeV5(1, nil, v5.SubOption{Topic: "loop", NoLocal: true})

	c.publishV5("loop", []byte("echo"), 0, 0, nil)
	_, err := c.tryReadV5(500 * time.Millisecond)
	assert.Error(t, err, "no_local suppresses self-delivery")
}

func TestUnsubscribe(t *testing.T) {
	tb := newTestBroker(t, nil)

	c := dial(t, tb)
	c.connectV5("unsub", nil)
	c.subscribeV5(1, nil, v5.SubOption{Topic: "t"})

	c.write(&v5.Unsubscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.UnsubscribeType, QoS: 1},
		ID:          2,
		Topics:      []string{"t", "never-subscribed"},
	})
	ack, ok := c.readV5(2 * time.Second).(*v5.UnsubAck)
	require.True(t, ok)
	assert.Equal(t, []byte{packets.ReasonSuccess, packets.ReasonNoSubscriptionExisted}, ack.ReasonCodes)

	pub := dial(t, tb)
	pub.connectV5("unsub-pub", nil)
	pub.publishV5("t", []byte("x"), 0, 0, nil)

	_, err := c.tryReadV5(500 * time.Millisecond)
	assert.Error(t, err, "no delivery after unsubscribe")
}
