package broker

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/driftmq/driftmq/packets"
	v3 "github.com/driftmq/driftmq/packets/v3"
	v5 "github.com/driftmq/driftmq/packets/v5"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/transport"
)

// errCleanDisconnect signals a client-initiated DISCONNECT to the session
// loop.
var errCleanDisconnect = errors.New("client disconnected")

// HandleConnection consumes a packet connection: it waits for CONNECT within
// the connect timeout, runs the handshake and then the session packet loop.
// It blocks until the connection ends.
func (b *Broker) HandleConnection(conn session.Connection) {
	if b.shuttingDown.Load() {
		conn.Close()
		return
	}

	if b.connectTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(b.connectTimeout))
	}

	pkt, err := conn.ReadPacket()
	if err != nil {
		b.logOp("connect_read_failed", "error", err.Error())
		conn.Close()
		return
	}

	switch p := pkt.(type) {
	case *v3.Connect:
		b.handleV3Connect(conn, p)
	case *v5.Connect:
		b.handleV5Connect(conn, p)
	default:
		b.stats.IncrementProtocolErrors()
		conn.Close()
	}
}

// NewConn wraps a raw stream in the broker's transport adapter with the
// configured maximum packet size.
func (b *Broker) NewConn(raw net.Conn) *transport.Conn {
	return transport.NewConn(raw, b.maxPacketSize)
}

// handler dispatches post-CONNECT packets for one protocol level.
type handler interface {
	HandlePublish(s *session.Session, pkt packets.ControlPacket) error
	HandlePubAck(s *session.Session, pkt packets.ControlPacket) error
	HandlePubRec(s *session.Session, pkt packets.ControlPacket) error
	HandlePubRel(s *session.Session, pkt packets.ControlPacket) error
	HandlePubComp(s *session.Session, pkt packets.ControlPacket) error
	HandleSubscribe(s *session.Session, pkt packets.ControlPacket) error
	HandleUnsubscribe(s *session.Session, pkt packets.ControlPacket) error
	HandlePingReq(s *session.Session) error
	HandleDisconnect(s *session.Session, pkt packets.ControlPacket) error
	HandleAuth(s *session.Session, pkt packets.ControlPacket) error
}

// runSession is the per-connection packet loop. It owns error classification:
// keepalive timeouts, transport closes and protocol errors all end here.
func (b *Broker) runSession(h handler, s *session.Session) {
	for {
		pkt, err := s.ReadPacket()
		if err != nil {
			b.classifyReadError(s, err)
			return
		}
		s.Touch()

		err = b.dispatch(h, s, pkt)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errCleanDisconnect):
			return
		default:
			b.logOp("session_error", "client_id", s.ID, "error", err.Error())
			b.stats.IncrementProtocolErrors()
			b.sendDisconnect(s, reasonFor(err))
			s.Disconnect(false)
			return
		}
	}
}

func (b *Broker) dispatch(h handler, s *session.Session, pkt packets.ControlPacket) error {
	switch pkt.Type() {
	case packets.PublishType:
		return h.HandlePublish(s, pkt)
	case packets.PubAckType:
		return h.HandlePubAck(s, pkt)
	case packets.PubRecType:
		return h.HandlePubRec(s, pkt)
	case packets.PubRelType:
		return h.HandlePubRel(s, pkt)
	case packets.PubCompType:
		return h.HandlePubComp(s, pkt)
	case packets.SubscribeType:
		return h.HandleSubscribe(s, pkt)
	case packets.UnsubscribeType:
		return h.HandleUnsubscribe(s, pkt)
	case packets.PingReqType:
		return h.HandlePingReq(s)
	case packets.DisconnectType:
		return h.HandleDisconnect(s, pkt)
	case packets.AuthType:
		return h.HandleAuth(s, pkt)
	case packets.ConnectType:
		// A second CONNECT on a live connection is a protocol error.
		return ErrProtocolViolation
	default:
		return ErrInvalidPacketType
	}
}

// classifyReadError maps a failed read to the disconnect reason and closes
// the session accordingly.
func (b *Broker) classifyReadError(s *session.Session, err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		b.logOp("keepalive_timeout", "client_id", s.ID)
		b.sendDisconnect(s, packets.ReasonKeepAliveTimeout)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, session.ErrNotConnected):
		// Transport close; nothing to send.
	case errors.Is(err, transport.ErrPacketTooLarge):
		b.stats.IncrementProtocolErrors()
		b.sendDisconnect(s, packets.ReasonPacketTooLarge)
	default:
		b.stats.IncrementProtocolErrors()
		b.sendDisconnect(s, packets.ReasonMalformedPacket)
	}
	s.Disconnect(false)
}

// sendDisconnect sends a DISCONNECT with the reason. Protocol levels below 5
// have no DISCONNECT reasons; their connection just closes.
func (b *Broker) sendDisconnect(s *session.Session, reason byte) {
	if s.Version != 5 || !s.IsConnected() {
		return
	}
	s.WritePacket(&v5.Disconnect{
		FixedHeader: packets.FixedHeader{PacketType: packets.DisconnectType},
		ReasonCode:  reason,
	})
}

// reasonFor maps handler errors to v5 DISCONNECT reason codes.
func reasonFor(err error) byte {
	switch {
	case errors.Is(err, ErrNotAuthorized):
		return packets.ReasonNotAuthorized
	case errors.Is(err, ErrProtocolViolation):
		return packets.ReasonProtocolError
	case errors.Is(err, errTopicAliasInvalid):
		return packets.ReasonTopicAliasInvalid
	case errors.Is(err, errReceiveMaxExceeded):
		return packets.ReasonReceiveMaximumExceeded
	case errors.Is(err, errQuotaExceeded):
		return packets.ReasonQuotaExceeded
	case errors.Is(err, errRateTooHigh):
		return packets.ReasonMessageRateTooHigh
	case errors.Is(err, errTopicNameInvalid):
		return packets.ReasonTopicNameInvalid
	default:
		return packets.ReasonUnspecifiedError
	}
}
