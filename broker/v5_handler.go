package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/driftmq/driftmq/auth"
	"github.com/driftmq/driftmq/broker/events"
	"github.com/driftmq/driftmq/packets"
	v5 "github.com/driftmq/driftmq/packets/v5"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/storage/messages"
	"github.com/driftmq/driftmq/topics"
)

var _ handler = (*V5Handler)(nil)

// V5Handler translates MQTT 5.0 packets into broker domain operations.
type V5Handler struct {
	broker *Broker
}

// NewV5Handler creates the v5 protocol handler.
func NewV5Handler(b *Broker) *V5Handler {
	return &V5Handler{broker: b}
}

// handleV5Connect performs the v5 CONNECT handshake and runs the session
// loop until the connection ends.
func (b *Broker) handleV5Connect(conn session.Connection, p *v5.Connect) {
	start := time.Now()
	b.logger.Info("v5_connect",
		"remote_addr", conn.RemoteAddr().String(),
		"client_id", p.ClientID)

	if reason := p.Validate(); reason != packets.ReasonSuccess {
		b.stats.IncrementProtocolErrors()
		sendV5ConnAck(conn, false, reason, nil)
		conn.Close()
		return
	}

	clientID := p.ClientID
	assignedID := ""
	if clientID == "" {
		generated, err := GenerateClientID()
		if err != nil {
			b.stats.IncrementProtocolErrors()
			sendV5ConnAck(conn, false, packets.ReasonClientIdentifierNotValid, nil)
			conn.Close()
			return
		}
		clientID = generated
		assignedID = generated
	}

	props := &v5.ConnAckProperties{}

	sessionExpiry := uint32(0)
	clientReceiveMax := uint16(65535)
	clientTopicAliasMax := uint16(0)
	clientMaxPacket := uint32(0)
	if p.Properties != nil {
		if p.Properties.SessionExpiryInterval != nil {
			sessionExpiry = *p.Properties.SessionExpiryInterval
			if sessionExpiry > b.sessionExpiryMax {
				sessionExpiry = b.sessionExpiryMax
				props.SessionExpiryInterval = &sessionExpiry
			}
		}
		if p.Properties.ReceiveMaximum != nil {
			if *p.Properties.ReceiveMaximum == 0 {
				b.stats.IncrementProtocolErrors()
				sendV5ConnAck(conn, false, packets.ReasonProtocolError, nil)
				conn.Close()
				return
			}
			clientReceiveMax = *p.Properties.ReceiveMaximum
		}
		if p.Properties.TopicAliasMaximum != nil {
			clientTopicAliasMax = *p.Properties.TopicAliasMaximum
		}
		if p.Properties.MaximumPacketSize != nil {
			clientMaxPacket = *p.Properties.MaximumPacketSize
		}
	}

	keepAlive := p.KeepAlive
	if keepAlive > b.keepAliveMax {
		keepAlive = b.keepAliveMax
		serverKeepAlive := keepAlive
		props.ServerKeepAlive = &serverKeepAlive
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
			sendV5ConnAck(conn, false, connackReason(decision), nil)
			conn.Close()
			return
		}
	}

	var will *storage.WillMessage
	if p.WillFlag {
		if err := topics.ValidateName(p.WillTopic); err != nil {
			b.stats.IncrementProtocolErrors()
			sendV5ConnAck(conn, false, packets.ReasonTopicNameInvalid, nil)
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
		if wp := p.WillProperties; wp != nil {
			if wp.WillDelayInterval != nil {
				will.Delay = *wp.WillDelayInterval
			}
			will.MessageExpiry = wp.MessageExpiry
			will.ContentType = wp.ContentType
			will.ResponseTopic = wp.ResponseTopic
			will.PayloadFormat = wp.PayloadFormat
			if len(wp.User) > 0 {
				will.UserProperties = make(map[string]string, len(wp.User))
				for _, u := range wp.User {
					will.UserProperties[u.Key] = u.Value
				}
			}
		}
	}

	opts := SessionOptions{
		CleanStart:     p.CleanStart,
		KeepAlive:      keepAlive,
		SessionExpiry:  sessionExpiry,
		ReceiveMaximum: clientReceiveMax,
		MaxPacketSize:  clientMaxPacket,
		TopicAliasMax:  clientTopicAliasMax,
		Will:           will,
	}

	b.sessionLocks.Lock(clientID)
	s, resumed, err := b.createSession(clientID, p.ProtocolVersion, opts)
	if err != nil {
		b.sessionLocks.Unlock(clientID)
		b.stats.IncrementProtocolErrors()
		b.logError("create_session", err, "client_id", clientID)
		sendV5ConnAck(conn, false, packets.ReasonUnspecifiedError, nil)
		conn.Close()
		return
	}

	s.Username = p.Username
	if err := s.Connect(conn); err != nil {
		b.sessionLocks.Unlock(clientID)
		conn.Close()
		return
	}

	// The client is back; any parked will is void.
	b.wills.Delete(context.Background(), clientID)
	b.sessionLocks.Unlock(clientID)

	sessionPresent := resumed && !p.CleanStart

	receiveMax := b.receiveMaximum
	topicAliasMax := b.topicAliasMax
	maxPacketSize := b.maxPacketSize
	available := byte(1)
	props.ReceiveMaximum = &receiveMax
	props.TopicAliasMaximum = &topicAliasMax
	props.MaximumPacketSize = &maxPacketSize
	props.RetainAvailable = &available
	props.WildcardSubAvailable = &available
	props.SubIDAvailable = &available
	props.SharedSubAvailable = &available
	props.AssignedClientID = assignedID

	if err := sendV5ConnAck(conn, sessionPresent, packets.ReasonSuccess, props); err != nil {
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
			CleanStart: p.CleanStart,
		})
	}
	b.logger.Info("v5_connect_success",
		"client_id", clientID,
		"session_present", sessionPresent,
		"duration", time.Since(start))

	s.Touch()
	b.resumeSession(s)
	b.runSession(NewV5Handler(b), s)
}

// HandlePublish handles PUBLISH ingress.
func (h *V5Handler) HandlePublish(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.Publish)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logOp("v5_publish", "client_id", s.ID, "topic", p.TopicName, "qos", int(p.QoS))

	topic := p.TopicName
	if p.Properties != nil && p.Properties.TopicAlias != nil {
		alias := *p.Properties.TopicAlias
		if alias == 0 || alias > b.topicAliasMax {
			return fmt.Errorf("alias %d: %w", alias, errTopicAliasInvalid)
		}
		if topic == "" {
			resolved, ok := s.ResolveInboundAlias(alias)
			if !ok {
				return fmt.Errorf("alias %d not established: %w", alias, ErrProtocolViolation)
			}
			topic = resolved
		} else {
			s.SetInboundAlias(alias, topic)
		}
	}
	if topic == "" {
		return fmt.Errorf("empty topic: %w", ErrProtocolViolation)
	}

	msg := &storage.Message{
		Topic:     topic,
		Payload:   p.Payload,
		Publisher: s.ID,
		QoS:       p.QoS,
		Retain:    p.Retain,
	}
	if props := p.Properties; props != nil {
		msg.ContentType = props.ContentType
		msg.ResponseTopic = props.ResponseTopic
		msg.CorrelationData = props.CorrelationData
		msg.PayloadFormat = props.PayloadFormat
		msg.MessageExpiry = props.MessageExpiry
		if len(props.User) > 0 {
			msg.UserProperties = make(map[string]string, len(props.User))
			for _, u := range props.User {
				msg.UserProperties[u.Key] = u.Value
			}
		}
	}

	switch p.QoS {
	case 0:
		return b.ingressPublish(s, msg)

	case 1:
		err := b.ingressPublish(s, msg)
		switch {
		case err == nil:
			return sendV5PubAck(s, p.ID, packets.ReasonSuccess)
		case errors.Is(err, ErrNotAuthorized):
			return sendV5PubAck(s, p.ID, packets.ReasonNotAuthorized)
		default:
			return err
		}

	case 2:
		if s.Inflight().WasReceived(p.ID) {
			// Duplicate delivery of an unreleased id: acknowledge again,
			// never re-forward the payload.
			return sendV5PubRec(s, p.ID, packets.ReasonSuccess)
		}
		if s.Inflight().CountReceived() >= int(b.receiveMaximum) {
			return fmt.Errorf("client %s: %w", s.ID, errReceiveMaxExceeded)
		}

		err := b.ingressPublish(s, msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotAuthorized):
			return sendV5PubRec(s, p.ID, packets.ReasonNotAuthorized)
		default:
			return err
		}

		s.Inflight().MarkReceived(p.ID)
		return sendV5PubRec(s, p.ID, packets.ReasonSuccess)
	}

	return fmt.Errorf("qos 3: %w", ErrProtocolViolation)
}

// HandlePubAck completes an outbound QoS 1 flow.
func (h *V5Handler) HandlePubAck(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.PubAck)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v5_puback", "client_id", s.ID, "packet_id", int(p.ID))
	h.broker.ackOutbound(s, p.ID)
	return nil
}

// HandlePubRec advances an outbound QoS 2 flow to PUBREL.
func (h *V5Handler) HandlePubRec(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.PubRec)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v5_pubrec", "client_id", s.ID, "packet_id", int(p.ID))

	if p.ReasonCode != nil && *p.ReasonCode >= 0x80 {
		// The receiver refused the message; abandon the flow.
		h.broker.ackOutbound(s, p.ID)
		return nil
	}

	if err := s.Inflight().UpdateState(p.ID, messages.PubCompPending); err != nil {
		return sendV5PubRel(s, p.ID, packets.ReasonPacketIdentifierNotFound)
	}
	return sendV5PubRel(s, p.ID, packets.ReasonSuccess)
}

// HandlePubRel completes an inbound QoS 2 flow.
func (h *V5Handler) HandlePubRel(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.PubRel)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v5_pubrel", "client_id", s.ID, "packet_id", int(p.ID))

	if !s.Inflight().WasReceived(p.ID) {
		return sendV5PubComp(s, p.ID, packets.ReasonPacketIdentifierNotFound)
	}
	s.Inflight().ClearReceived(p.ID)
	return sendV5PubComp(s, p.ID, packets.ReasonSuccess)
}

// HandlePubComp completes an outbound QoS 2 flow.
func (h *V5Handler) HandlePubComp(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.PubComp)
	if !ok {
		return ErrInvalidPacketType
	}
	h.broker.logOp("v5_pubcomp", "client_id", s.ID, "packet_id", int(p.ID))
	h.broker.ackOutbound(s, p.ID)
	return nil
}

// HandleSubscribe handles SUBSCRIBE, preserving per-filter reason code
// order.
func (h *V5Handler) HandleSubscribe(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.Subscribe)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logger.Info("v5_subscribe", "client_id", s.ID, "filters", len(p.Opts))

	if len(p.Opts) == 0 {
		return fmt.Errorf("subscribe without filters: %w", ErrProtocolViolation)
	}

	var subID *uint32
	if p.Properties != nil {
		subID = p.Properties.SubscriptionID
	}

	reasonCodes := make([]byte, len(p.Opts))
	for i, opt := range p.Opts {
		if err := topics.ValidateFilter(opt.Topic); err != nil {
			reasonCodes[i] = packets.ReasonTopicFilterInvalid
			continue
		}
		if topics.IsShared(opt.Topic) && opt.NoLocal {
			return fmt.Errorf("no-local on shared subscription: %w", ErrProtocolViolation)
		}
		if b.authEngine != nil && !b.authEngine.CanSubscribe(b.connInfo(s), opt.Topic) {
			b.stats.IncrementAuthzErrors()
			reasonCodes[i] = packets.ReasonNotAuthorized
			continue
		}

		granted := opt.MaxQoS
		if granted > 2 {
			granted = 2
		}
		sub := &storage.Subscription{
			ClientID:       s.ID,
			Filter:         opt.Topic,
			QoS:            granted,
			SubscriptionID: subID,
			Options: storage.SubscribeOptions{
				NoLocal:           opt.NoLocal,
				RetainAsPublished: opt.RetainAsPublished,
				RetainHandling:    opt.RetainHandling,
			},
		}

		isNew, err := b.subscribe(s, sub)
		if err != nil {
			b.logError("subscribe", err, "client_id", s.ID, "filter", opt.Topic)
			reasonCodes[i] = packets.ReasonUnspecifiedError
			continue
		}
		reasonCodes[i] = granted

		b.deliverRetained(s, sub, isNew)
	}

	return s.WritePacket(&v5.SubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubAckType},
		ID:          p.ID,
		ReasonCodes: reasonCodes,
	})
}

// HandleUnsubscribe handles UNSUBSCRIBE with per-filter reason codes.
func (h *V5Handler) HandleUnsubscribe(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.Unsubscribe)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logger.Info("v5_unsubscribe", "client_id", s.ID, "filters", len(p.Topics))

	reasonCodes := make([]byte, len(p.Topics))
	for i, filter := range p.Topics {
		existed, err := b.unsubscribe(s, filter)
		switch {
		case err != nil:
			reasonCodes[i] = packets.ReasonUnspecifiedError
		case !existed:
			reasonCodes[i] = packets.ReasonNoSubscriptionExisted
		default:
			reasonCodes[i] = packets.ReasonSuccess
		}
	}

	return s.WritePacket(&v5.UnsubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.UnsubAckType},
		ID:          p.ID,
		ReasonCodes: reasonCodes,
	})
}

// HandlePingReq answers the keepalive probe.
func (h *V5Handler) HandlePingReq(s *session.Session) error {
	h.broker.logOp("v5_pingreq", "client_id", s.ID)
	return s.WritePacket(&v5.PingResp{
		FixedHeader: packets.FixedHeader{PacketType: packets.PingRespType},
	})
}

// HandleDisconnect ends the session loop. A NormalDisconnection cancels the
// will; DisconnectWithWillMessage keeps it armed.
func (h *V5Handler) HandleDisconnect(s *session.Session, pkt packets.ControlPacket) error {
	p, ok := pkt.(*v5.Disconnect)
	if !ok {
		return ErrInvalidPacketType
	}

	b := h.broker
	b.logger.Info("v5_disconnect", "client_id", s.ID, "reason_code", int(p.ReasonCode))

	if p.Properties != nil && p.Properties.SessionExpiryInterval != nil {
		override := *p.Properties.SessionExpiryInterval
		if s.ExpiryInterval == 0 && override != 0 {
			return fmt.Errorf("session expiry raised after connect: %w", ErrProtocolViolation)
		}
		if override > b.sessionExpiryMax {
			override = b.sessionExpiryMax
		}
		s.ExpiryInterval = override
	}

	graceful := p.ReasonCode != packets.ReasonDisconnectWithWill
	s.Disconnect(graceful)
	return errCleanDisconnect
}

// HandleAuth rejects AUTH packets. No enhanced authentication method is
// negotiated, so any AUTH is a protocol error.
func (h *V5Handler) HandleAuth(s *session.Session, pkt packets.ControlPacket) error {
	if _, ok := pkt.(*v5.Auth); !ok {
		return ErrInvalidPacketType
	}
	return fmt.Errorf("auth without negotiated method: %w", ErrProtocolViolation)
}

// connInfo snapshots a session's identity for plugin bus decisions.
func (b *Broker) connInfo(s *session.Session) auth.ConnInfo {
	return auth.ConnInfo{
		ClientID:   s.ID,
		Username:   s.Username,
		RemoteAddr: remoteHost(s.RemoteAddr()),
	}
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func connackReason(decision auth.Decision) byte {
	switch decision {
	case auth.RejectBadCredentials:
		return packets.ReasonBadUsernameOrPassword
	case auth.RejectBanned:
		return packets.ReasonBanned
	default:
		return packets.ReasonNotAuthorized
	}
}

// --- Response packet senders ---

func sendV5ConnAck(conn session.Connection, sessionPresent bool, reason byte, props *v5.ConnAckProperties) error {
	return conn.WritePacket(&v5.ConnAck{
		FixedHeader:    packets.FixedHeader{PacketType: packets.ConnAckType},
		SessionPresent: sessionPresent,
		ReasonCode:     reason,
		Properties:     props,
	})
}

func sendV5PubAck(s *session.Session, packetID uint16, reason byte) error {
	rc := reason
	return s.WritePacket(&v5.PubAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType},
		ID:          packetID,
		ReasonCode:  &rc,
	})
}

func sendV5PubRec(s *session.Session, packetID uint16, reason byte) error {
	rc := reason
	return s.WritePacket(&v5.PubRec{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubRecType},
		ID:          packetID,
		ReasonCode:  &rc,
	})
}

func sendV5PubRel(s *session.Session, packetID uint16, reason byte) error {
	rc := reason
	return s.WritePacket(&v5.PubRel{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1},
		ID:          packetID,
		ReasonCode:  &rc,
	})
}

func sendV5PubComp(s *session.Session, packetID uint16, reason byte) error {
	rc := reason
	return s.WritePacket(&v5.PubComp{
		FixedHeader: packets.FixedHeader{PacketType: packets.PubCompType},
		ID:          packetID,
		ReasonCode:  &rc,
	})
}
