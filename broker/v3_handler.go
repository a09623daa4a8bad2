package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftmq/driftmq/auth"
	"github.com/driftmq/driftmq/broker/events"
	"github.com/driftmq/driftmq/packets"
	v3 "github.com/driftmq/driftmq/packets/v3"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/storage/messages"
	"github.com/driftmq/driftmq/topics"
)

var _ handler = (*V3Handler)(nil)

// V3Handler translates MQTT 3.1 and 3.1.1 packets into broker domain
// operations.
type V3Handler struct {
	broker *Broker
}

// NewV3Handler creates the v3 protocol handler.
func NewV3Handler(b *Broker) *V3Handler {
	return &V3Handler{broker: b}
}

// handleV3Connect performs the v3 CONNECT handshake and runs the session
// loop until the connection ends.
func (b *Broker) handleV3Connect(conn session.Connection, p *v3.Connect) {
	start := time.Now()
	b.logger.Info("v3_connect",
		"remote_addr", conn.RemoteAddr().String(),
		"client_id", p.ClientID)

	if reason := p.Validate(); reason != packets.ReasonSuccess {
		b.stats.IncrementProtocolErrors()
		sendV3ConnAck(conn, false, packets.V3ConnAckCode(reason))
		conn.Close()
		return
	}

	clientID := p.ClientID
	if clientID == "" {
		// v3.1.1 permits an empty client id only with a clean session;
		// Validate rejected the other case already.
		generated, err := GenerateClientID()
		if err != nil {
			b.stats.IncrementProtocolErrors()
			sendV3ConnAck(conn, false, packets.V3RefusedIDRejected)
			conn.Close()
			return
		}
		clientID = generated
	}

	connInfo := auth.ConnInfo{
		ClientID:   clientID,
		Username:   p.Username,
		RemoteAddr: remoteHost(conn.RemoteAddr()),
	}
	if b.authEngine != nil {
		decision := b.authEngine.Authenticate(connInfo, auth.Credentials{
			Username: p.Username,
			Password: p.Password,
		})
		if decision != auth.Accept {
			b.stats.IncrementAuthErrors()
			sendV3ConnAck(conn, false, packets.V3ConnAckCode(connackReason(decision)))
			conn.Close()
			return
		}
	}

	var will *storage.WillMessage
	if p.WillFlag {
		if err := topics.ValidateName(p.WillTopic); err != nil {
			b.stats.IncrementProtocolErrors()
			conn.Close()
			return
		}
		will = &storage.WillMessage{
			ClientID: clientID,
			Topic:    p.WillTopic,
			Payload:  p.WillPayload,
			QoS:      p.WillQoS,
			Retain:   p.WillRetain,
		}
	}

	keepAlive := p.KeepAlive
	if keepAlive > b.keepAliveMax {
		keepAlive = b.keepAliveMax
	}

	// v3 has no session expiry: a non-clean session persists until a clean
	// connect replaces it.
	sessionExpiry := uint32(0)
	if !p.CleanSession {
		sessionExpiry = b.sessionExpiryMax
	}

	opts := SessionOptions{
		CleanStart:    p.CleanSession,
		KeepAlive:     keepAlive,
		SessionExpiry: sessionExpiry,
		Will:          will,
	}

	b.sessionLocks.Lock(clientID)
	s, resumed, err := b.createSession(clientID, p.ProtocolVersion, opts)
	if err != nil {
		b.sessionLocks.Unlock(clientID)
		b.stats.IncrementProtocolErrors()
		b.logError("create_session", err, "client_id", clientID)
		sendV3ConnAck(conn, false, packets.V3RefusedServerUnavail)
		conn.Close()
		return
	}

	s.Username = p.Username
	if err := s.Connect(conn); err != nil {
		b.sessionLocks.Unlock(clientID)
		conn.Close()
		return
	}
	b.wills.Delete(context.Background(), clientID)
	b.sessionLocks.Unlock(clientID)

	// Protocol 3 predates the session-present flag.
	sessionPresent := resumed && !p.CleanSession && p.ProtocolVersion >= packets.V311

	if err := sendV3ConnAck(conn, sessionPresent, packets.V3Accepted); err != nil {
		s.Disconnect(false)
		return
	}

	b.stats.IncrementConnections()
	b.metrics.RecordConnection(context.Background())
	if b.notifier != nil {
		b.notifier.Notify(context.Background(), events.ClientConnected{
			ClientID:   clientID,
			Username:   p.Username,
			RemoteAddr: connInfo.RemoteAddr,
			Protocol:   p.ProtocolVersion,
			CleanStart: p.CleanSession,
		})
	}
	b.logger.Info("v3_connect_success",
		"client_id", clientID,
		"session_present", sessionPresent,
		"duration", time.Since(start))

	s.Touch()
	b.resumeSession(s)
	b.runSession(NewV3Handler(b), s)
}

// HandlePublish handles PUBLISH ingress.
func (h *V3Handler) HandlePublish(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.Publish)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logOp("v3_publish", "client_id", s.ID, "topic", p.TopicName, "qos", int(p.QoS))

	msg := &storage.Message{
		Topic:     p.TopicName,
		Payload:   p.Payload,
		Publisher: s.ID,
		QoS:       p.QoS,
		Retain:    p.Retain,
	}

	switch p.QoS {
	case 0:
		err := b.ingressPublish(s, msg)
		if errors.Is(err, ErrNotAuthorized) {
			// v3 has no way to signal the denial; drop the message.
			return nil
		}
		return err

	case 1:
		err := b.ingressPublish(s, msg)
		if err != nil && !errors.Is(err, ErrNotAuthorized) {
			return err
		}
		// The v3 PUBACK carries no reason; denied messages are dropped but
		// still acknowledged.
		return s.WritePacket(&v3.PubAck{
			FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
			ID:          p.ID,
		})

	case 2:
		if s.Inflight().WasReceived(p.ID) {
			return sendV3PubRec(s, p.ID)
		}

		err := b.ingressPublish(s, msg)
		if err != nil && !errors.Is(err, ErrNotAuthorized) {
			return err
		}

		s.Inflight().MarkReceived(p.ID)
		return sendV3PubRec(s, p.ID)
	}

	return fmt.Errorf("qos 3: %w", ErrProtocolViolation)
}

// HandlePubAck completes an outbound QoS 1 flow.
func (h *V3Handler) HandlePubAck(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.PubAck)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v3_puback", "client_id", s.ID, "packet_id", int(p.ID))
	h.broker.ackOutbound(s, p.ID)
	return nil
}

// HandlePubRec advances an outbound QoS 2 flow to PUBREL.
func (h *V3Handler) HandlePubRec(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.PubRec)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v3_pubrec", "client_id", s.ID, "packet_id", int(p.ID))

	s.Inflight().UpdateState(p.ID, messages.PubCompPending)
	return s.WritePacket(&v3.PubRel{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1},
		ID:          p.ID,
	})
}

// HandlePubRel completes an inbound QoS 2 flow.
func (h *V3Handler) HandlePubRel(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.PubRel)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v3_pubrel", "client_id", s.ID, "packet_id", int(p.ID))

	s.Inflight().ClearReceived(p.ID)
	return s.WritePacket(&v3.PubComp{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubCompType},
		ID:          p.ID,
	})
}

// HandlePubComp completes an outbound QoS 2 flow.
func (h *V3Handler) HandlePubComp(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.PubComp)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v3_pubcomp", "client_id", s.ID, "packet_id", int(p.ID))
	h.broker.ackOutbound(s, p.ID)
	return nil
}

// HandleSubscribe handles SUBSCRIBE, preserving per-filter return code
// order.
func (h *V3Handler) HandleSubscribe(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.Subscribe)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logger.Info("v3_subscribe", "client_id", s.ID, "filters", len(p.Topics))

	if len(p.Topics) == 0 {
		return fmt.Errorf("subscribe without filters: %w", ErrProtocolViolation)
	}

	returnCodes := make([]byte, len(p.Topics))
	for i, filter := range p.Topics {
		if err := topics.ValidateFilter(filter); err != nil {
			returnCodes[i] = 0x80
			continue
		}
		if b.authEngine != nil && !b.authEngine.CanSubscribe(b.connInfo(s), filter) {
			b.stats.IncrementAuthzErrors()
			returnCodes[i] = 0x80
			continue
		}

		granted := p.QoSList[i]
		if granted > 2 {
			granted = 2
		}
		sub := &storage.Subscription{
			ClientID: s.ID,
			Filter:   filter,
			QoS:      granted,
		}

		isNew, err := b.subscribe(s, sub)
		if err != nil {
			b.logError("subscribe", err, "client_id", s.ID, "filter", filter)
			returnCodes[i] = 0x80
			continue
		}
		returnCodes[i] = granted

		b.deliverRetained(s, sub, isNew)
	}

	return s.WritePacket(&v3.SubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubAckType},
		ID:          p.ID,
		ReturnCodes: returnCodes,
	})
}

// HandleUnsubscribe handles UNSUBSCRIBE.
func (h *V3Handler) HandleUnsubscribe(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v3.Unsubscribe)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logger.Info("v3_unsubscribe", "client_id", s.ID, "filters", len(p.Topics))

	for _, filter := range p.Topics {
		if _, err := b.unsubscribe(s, filter); err != nil {
			b.logError("unsubscribe", err, "client_id", s.ID, "filter", filter)
		}
	}

	return s.WritePacket(&v3.UnsubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.UnsubAckType},
		ID:          p.ID,
	})
}

// HandlePingReq answers the keepalive probe.
func (h *V3Handler) HandlePingReq(s *session.Session) error {
	h.broker.logOp("v3_pingreq", "client_id", s.ID)
	return s.WritePacket(&v3.PingResp{
		FixedHeader: packets.FixedHeader{PacketType: packets.PingRespType},
	})
}

// HandleDisconnect ends the session loop cleanly, cancelling the will.
func (h *V3Handler) HandleDisconnect(s *session.Session, pkt packets.ControlPacket) error {
	if _, ok := pkt.(*v3.Disconnect); !ok {
		return ErrInvalidPacketType
	}
	h.broker.logger.Info("v3_disconnect", "client_id", s.ID)
	s.Disconnect(true)
	return errCleanDisconnect
}

// HandleAuth rejects AUTH packets, which do not exist before v5.
func (h *V3Handler) HandleAuth(*session.Session, packets.ControlPacket) error {
	return ErrProtocolViolation
}

func sendV3ConnAck(conn session.Connection, sessionPresent bool, code byte) error {
	return conn.WritePacket(&v3.ConnAck{
		FixedHeader:    packets.FixedHeader{PacketType: packets.ConnAckType},
		SessionPresent: sessionPresent,
		ReturnCode:     code,
	})
}

func sendV3PubRec(s *session.Session, packetID uint16) error {
	return s.WritePacket(&v3.PubRec{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubRecType},
		ID:          packetID,
	})
}
