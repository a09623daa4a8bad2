package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/driftmq/driftmq/broker/events"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/topics"
)

// ingressPublish runs the ingress pipeline for a client PUBLISH after topic
// alias resolution: rate limit, rewrite, topic validation, ACL, then routing.
// The caller sends the protocol acknowledgment once this returns nil.
func (b *Broker) ingressPublish(s *session.Session, msg *storage.Message) error {
	if !b.rateLimiter.Allow(s.ID) {
		return fmt.Errorf("client %s: %w", s.ID, errRateTooHigh)
	}

	if rewritten, ok := b.rewriter.Rewrite(msg.Topic); ok {
		b.logOp("topic_rewritten", "from", msg.Topic, "to", rewritten)
		msg.Topic = rewritten
	}

	if err := topics.ValidateName(msg.Topic); err != nil {
		return fmt.Errorf("topic %q: %w", msg.Topic, errTopicNameInvalid)
	}

	if b.authEngine != nil && !b.authEngine.CanPublish(b.connInfo(s), msg.Topic) {
		b.stats.IncrementAuthzErrors()
		return fmt.Errorf("publish to %q: %w", msg.Topic, ErrNotAuthorized)
	}

	return b.Publish(msg)
}

// Publish stores the retained state and distributes the message to all
// matching subscribers. QoS 1 ingress is not acknowledged until every
// matched session has accepted the message into its queue.
func (b *Broker) Publish(msg *storage.Message) error {
	b.logOp("publish", "topic", msg.Topic, "qos", int(msg.QoS), "retain", msg.Retain)
	b.stats.IncrementMessagesReceived()
	b.stats.AddBytesReceived(uint64(len(msg.Payload)))
	b.metrics.RecordMessageReceived(context.Background(), msg.QoS, int64(len(msg.Payload)))

	if msg.PublishTime.IsZero() {
		msg.PublishTime = time.Now()
	}
	if msg.MessageExpiry != nil && msg.Expiry.IsZero() {
		msg.Expiry = msg.PublishTime.Add(time.Duration(*msg.MessageExpiry) * time.Second)
	}

	if b.notifier != nil {
		b.notifier.Notify(context.Background(), events.MessagePublished{
			ClientID:    msg.Publisher,
			Topic:       msg.Topic,
			QoS:         msg.QoS,
			Retained:    msg.Retain,
			PayloadSize: len(msg.Payload),
		})
	}

	if msg.Retain {
		if err := b.handleRetained(msg); err != nil {
			return err
		}
	}

	return b.distribute(msg)
}

// handleRetained stores or clears the retained entry for the topic.
func (b *Broker) handleRetained(msg *storage.Message) error {
	ctx := context.Background()
	if len(msg.Payload) == 0 {
		return b.retained.Delete(ctx, msg.Topic)
	}

	retainedMsg := storage.CopyMessage(msg)
	retainedMsg.Retain = true
	return b.retained.Set(ctx, msg.Topic, retainedMsg)
}

// clientDelivery aggregates one client's matching subscriptions into a
// single delivery: one PUBLISH carrying the maximum granted QoS and every
// matching subscription identifier.
type clientDelivery struct {
	maxQoS      byte
	ids         []uint32
	clearRetain bool
}

// distribute fans a message out to matching subscribers. Ordinary
// subscriptions aggregate per client; each shared group delivers to exactly
// one member, round-robin.
func (b *Broker) distribute(msg *storage.Message) error {
	matched := b.router.Match(msg.Topic)

	var perClient map[string]*clientDelivery
	var sharedSeen map[string]bool
	sinkHit := false

	for _, sub := range matched {
		if sub.ClientID == sinkClientID {
			sinkHit = true
			continue
		}

		if sub.ShareGroup != "" {
			key := sharedGroupKey(sub)
			if sharedSeen == nil {
				sharedSeen = make(map[string]bool)
			}
			if sharedSeen[key] {
				continue
			}
			sharedSeen[key] = true
			b.deliverShared(key, sub, msg)
			continue
		}

		if sub.Options.NoLocal && sub.ClientID == msg.Publisher {
			continue
		}

		if perClient == nil {
			perClient = make(map[string]*clientDelivery)
		}
		d, ok := perClient[sub.ClientID]
		if !ok {
			d = &clientDelivery{}
			perClient[sub.ClientID] = d
		}
		if sub.QoS > d.maxQoS {
			d.maxQoS = sub.QoS
		}
		if sub.SubscriptionID != nil {
			d.ids = append(d.ids, *sub.SubscriptionID)
		}
		if !sub.Options.RetainAsPublished {
			d.clearRetain = true
		}
	}

	for clientID, d := range perClient {
		s := b.sessionsMap.Get(clientID)
		if s == nil {
			continue
		}

		deliver := storage.CopyMessage(msg)
		deliver.QoS = min(msg.QoS, d.maxQoS)
		deliver.Retain = msg.Retain && !d.clearRetain
		deliver.SubscriptionIDs = d.ids
		deliver.Dup = false
		deliver.PacketID = 0

		if err := b.DeliverToSession(s, deliver); err != nil {
			b.logError("deliver_failed", err, "client_id", clientID, "topic", msg.Topic)
		}
	}

	if sinkHit {
		b.deliverToSink(msg)
	}

	return nil
}

// deliverShared delivers one copy to a shared group, preferring live
// members; when every member is offline the message queues on the
// round-robin choice.
func (b *Broker) deliverShared(key string, sub *storage.Subscription, msg *storage.Message) {
	clientID, _, ok := b.shared.Next(key, func(id string) bool {
		s := b.sessionsMap.Get(id)
		return s != nil && s.IsConnected()
	})
	if !ok {
		return
	}

	s := b.sessionsMap.Get(clientID)
	if s == nil {
		return
	}

	deliver := storage.CopyMessage(msg)
	deliver.QoS = min(msg.QoS, sub.QoS)
	// Shared subscriptions never see the retain flag.
	deliver.Retain = false
	if sub.SubscriptionID != nil {
		deliver.SubscriptionIDs = []uint32{*sub.SubscriptionID}
	} else {
		deliver.SubscriptionIDs = nil
	}
	deliver.Dup = false
	deliver.PacketID = 0

	if err := b.DeliverToSession(s, deliver); err != nil {
		b.logError("shared_deliver_failed", err, "client_id", clientID, "topic", msg.Topic)
	}
}

// publishWill routes a due will message through the regular publish path.
func (b *Broker) publishWill(will *storage.WillMessage) {
	b.logOp("will_publish", "client_id", will.ClientID, "topic", will.Topic)

	msg := &storage.Message{
		Topic:          will.Topic,
		Payload:        will.Payload,
		Publisher:      will.ClientID,
		QoS:            will.QoS,
		Retain:         will.Retain,
		ContentType:    will.ContentType,
		ResponseTopic:  will.ResponseTopic,
		UserProperties: will.UserProperties,
		PayloadFormat:  will.PayloadFormat,
		MessageExpiry:  will.MessageExpiry,
	}
	if rewritten, ok := b.rewriter.Rewrite(msg.Topic); ok {
		msg.Topic = rewritten
	}
	if err := b.Publish(msg); err != nil {
		b.logError("will_publish_failed", err, "client_id", will.ClientID)
	}
}

// publishSysTopics emits the broker metrics under $SYS/broker. These bypass
// the retained store.
func (b *Broker) publishSysTopics() {
	stats := []struct {
		topic string
		value string
	}{
		{"$SYS/broker/uptime", fmt.Sprintf("%d", int64(b.stats.Uptime().Seconds()))},
		{"$SYS/broker/clients/connected", fmt.Sprintf("%d", b.stats.CurrentConnections())},
		{"$SYS/broker/clients/total", fmt.Sprintf("%d", b.stats.TotalConnections())},
		{"$SYS/broker/messages/received", fmt.Sprintf("%d", b.stats.MessagesReceived())},
		{"$SYS/broker/messages/sent", fmt.Sprintf("%d", b.stats.MessagesSent())},
		{"$SYS/broker/bytes/received", fmt.Sprintf("%d", b.stats.BytesReceived())},
		{"$SYS/broker/bytes/sent", fmt.Sprintf("%d", b.stats.BytesSent())},
	}

	for _, entry := range stats {
		msg := &storage.Message{
			Topic:       entry.topic,
			Payload:     []byte(entry.value),
			Publisher:   "$SYS",
			PublishTime: time.Now(),
		}
		if err := b.distribute(msg); err != nil {
			b.logError("sys_publish", err, "topic", entry.topic)
		}
	}
}
