package broker

import (
	"context"
	"time"

	"github.com/driftmq/driftmq/packets"
	v3 "github.com/driftmq/driftmq/packets/v3"
	v5 "github.com/driftmq/driftmq/packets/v5"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/storage/messages"
)

// DeliverToSession queues or sends a message to one session under
// receive-maximum flow control. Offline sessions queue QoS>0 messages and
// drop QoS 0.
func (b *Broker) DeliverToSession(s *session.Session, msg *storage.Message) error {
	if msg.Expired(time.Now()) {
		b.logOp("message_expired", "client_id", s.ID, "topic", msg.Topic)
		return nil
	}

	if !s.IsConnected() {
		if msg.QoS == 0 {
			return nil
		}
		return b.enqueueOffline(s, msg)
	}

	saturated := s.Inflight().CountOutbound() >= int(s.ReceiveMaximum)
	if msg.QoS == 0 && !saturated {
		return b.sendPublish(s, msg)
	}

	if saturated {
		return b.enqueueSaturated(s, msg)
	}

	return b.sendInflight(s, msg)
}

// sendInflight allocates a packet id, registers the message in the inflight
// window and transmits it.
func (b *Broker) sendInflight(s *session.Session, msg *storage.Message) error {
	packetID, ok := s.AcquirePacketID()
	if !ok {
		return b.enqueueSaturated(s, msg)
	}
	msg.PacketID = packetID

	state := messages.PubAckPending
	if msg.QoS == 2 {
		state = messages.PubRecPending
	}
	if err := s.Inflight().Add(packetID, msg, state, messages.Outbound); err != nil {
		s.ReleasePacketID(packetID)
		return err
	}

	return b.sendPublish(s, msg)
}

// enqueueOffline parks a message for a disconnected session. When the queue
// cannot make room even by dropping old QoS 0 traffic, the oldest message is
// evicted.
func (b *Broker) enqueueOffline(s *session.Session, msg *storage.Message) error {
	if err := s.Pending().Enqueue(msg); err != nil {
		s.Pending().EvictOldest()
		return s.Pending().Enqueue(msg)
	}
	return nil
}

// enqueueSaturated parks a message for a connected session whose
// receive-maximum window is full. Overflow beyond the drop-oldest-QoS0
// policy disconnects the session with QuotaExceeded.
func (b *Broker) enqueueSaturated(s *session.Session, msg *storage.Message) error {
	if err := s.Pending().Enqueue(msg); err != nil {
		b.logOp("pending_queue_overflow", "client_id", s.ID)
		b.sendDisconnect(s, packets.ReasonQuotaExceeded)
		s.Disconnect(false)
		return err
	}
	return nil
}

// sendPublish builds the protocol-level PUBLISH for the session's version
// and writes it.
func (b *Broker) sendPublish(s *session.Session, msg *storage.Message) error {
	b.stats.IncrementMessagesSent()
	b.stats.AddBytesSent(uint64(len(msg.Payload)))
	b.metrics.RecordMessageSent(context.Background(), msg.QoS, int64(len(msg.Payload)))

	var pkt packets.ControlPacket
	switch s.Version {
	case 5:
		p := &v5.Publish{
			FixedHeader: packets.FixedHeader{
				PacketType: packets.PublishType,
				QoS:        msg.QoS,
				Retain:     msg.Retain,
				Dup:        msg.Dup,
			},
			TopicName: msg.Topic,
			ID:        msg.PacketID,
			Payload:   msg.Payload,
		}
		p.Properties = buildPublishProperties(msg)
		if s.TopicAliasMax > 0 {
			if alias, existing, ok := s.OutboundAlias(msg.Topic); ok {
				p.Properties.TopicAlias = &alias
				if existing {
					p.TopicName = ""
				}
			}
		}
		pkt = p
	default:
		pkt = &v3.Publish{
			FixedHeader: packets.FixedHeader{
				PacketType: packets.PublishType,
				QoS:        msg.QoS,
				Retain:     msg.Retain,
				Dup:        msg.Dup,
			},
			TopicName: msg.Topic,
			ID:        msg.PacketID,
			Payload:   msg.Payload,
		}
	}

	return s.WritePacket(pkt)
}

// buildPublishProperties maps the stored message onto v5 PUBLISH properties,
// decrementing the message expiry by the time already spent in the broker.
func buildPublishProperties(msg *storage.Message) *v5.PublishProperties {
	props := &v5.PublishProperties{
		ContentType:     msg.ContentType,
		ResponseTopic:   msg.ResponseTopic,
		CorrelationData: msg.CorrelationData,
		PayloadFormat:   msg.PayloadFormat,
		SubscriptionIDs: msg.SubscriptionIDs,
	}
	if remaining := msg.RemainingExpiry(time.Now()); remaining != nil {
		props.MessageExpiry = remaining
	}
	for k, v := range msg.UserProperties {
		props.User = append(props.User, v5.User{Key: k, Value: v})
	}
	return props
}

// ackOutbound completes an outbound QoS flow: the packet id is released and
// the freed window slot is refilled from the pending queue.
func (b *Broker) ackOutbound(s *session.Session, packetID uint16) {
	if _, err := s.Inflight().Ack(packetID); err != nil {
		b.logOp("ack_unknown_packet", "client_id", s.ID, "packet_id", int(packetID))
		return
	}
	s.ReleasePacketID(packetID)
	b.drainPending(s)
}

// drainPending refills the session's inflight window from its pending queue.
func (b *Broker) drainPending(s *session.Session) {
	now := time.Now()
	for s.IsConnected() && s.Inflight().CountOutbound() < int(s.ReceiveMaximum) {
		msg := s.Pending().Dequeue()
		if msg == nil {
			return
		}
		if msg.Expired(now) {
			continue
		}
		if msg.QoS == 0 {
			b.sendPublish(s, msg)
			continue
		}
		if err := b.sendInflight(s, msg); err != nil {
			b.logError("drain_pending", err, "client_id", s.ID)
			return
		}
	}
}

// resumeSession retransmits the inflight window with dup set and then drains
// the pending queue. Runs after a successful non-clean reconnect.
func (b *Broker) resumeSession(s *session.Session) {
	for _, inf := range s.Inflight().GetAll() {
		if inf.Direction != messages.Outbound {
			continue
		}
		if inf.State == messages.PubCompPending {
			b.sendPubRel(s, inf.PacketID)
			continue
		}
		msg := storage.CopyMessage(inf.Message)
		msg.PacketID = inf.PacketID
		msg.Dup = true
		if err := b.sendPublish(s, msg); err != nil {
			b.logError("retransmit", err, "client_id", s.ID)
			return
		}
		s.Inflight().MarkAttempt(inf.PacketID)
	}

	b.drainPending(s)
}

// sendPubRel transmits a PUBREL for the session's protocol level.
func (b *Broker) sendPubRel(s *session.Session, packetID uint16) error {
	if s.Version == 5 {
		return s.WritePacket(&v5.PubRel{
			FixedHeader: packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1},
			ID:          packetID,
		})
	}
	return s.WritePacket(&v3.PubRel{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1},
		ID:          packetID,
	})
}
