// Package session implements the per-client session state machine: the
// connection handle, subscriptions, QoS bookkeeping, topic aliases and
// keepalive tracking.
package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/storage/messages"
)

// ErrNotConnected is returned when writing to a session with no live
// connection.
var ErrNotConnected = errors.New("session not connected")

// State represents the session state.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateOffline
	StateGone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateOffline:
		return "offline"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Connection is a packet-oriented duplex stream attached to a session. Each
// transport adapter provides an implementation.
type Connection interface {
	ReadPacket() (packets.ControlPacket, error)
	WritePacket(pkt packets.ControlPacket) error
	Close() error
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
}

// Options holds options captured from CONNECT.
type Options struct {
	CleanStart     bool
	ExpiryInterval uint32
	ReceiveMaximum uint16
	MaxPacketSize  uint32
	TopicAliasMax  uint16
	KeepAlive      uint16
	Will           *storage.WillMessage
}

// Session represents an MQTT client session with full state management.
type Session struct {
	mu sync.RWMutex

	// Identity
	ID       string
	Version  byte // protocol level (3, 4 or 5)
	Username string

	// Connection (nil when offline)
	conn       Connection
	remoteAddr net.Addr

	state          State
	connectedAt    time.Time
	disconnectedAt time.Time

	// Options from CONNECT
	CleanStart     bool
	ExpiryInterval uint32
	ReceiveMaximum uint16 // client's advertised receive maximum
	MaxPacketSize  uint32
	TopicAliasMax  uint16 // client's advertised topic alias maximum
	KeepAlive      uint16 // negotiated keepalive in seconds

	will *storage.WillMessage

	inflight *messages.Inflight
	pending  *messages.Queue
	ids      *packetIDAllocator

	subscriptions map[string]*storage.Subscription

	lastActivity time.Time

	// Topic aliases (v5), both directions
	outboundAliases map[string]uint16
	inboundAliases  map[uint16]string

	onDisconnect func(s *Session, graceful bool)
}

// New creates a new session.
func New(clientID string, version byte, opts Options, inflight *messages.Inflight, pending *messages.Queue) *Session {
	receiveMax := opts.ReceiveMaximum
	if receiveMax == 0 {
		receiveMax = 65535
	}

	return &Session{
		ID:              clientID,
		Version:         version,
		state:           StateNew,
		CleanStart:      opts.CleanStart,
		ExpiryInterval:  opts.ExpiryInterval,
		ReceiveMaximum:  receiveMax,
		MaxPacketSize:   opts.MaxPacketSize,
		TopicAliasMax:   opts.TopicAliasMax,
		KeepAlive:       opts.KeepAlive,
		will:            opts.Will,
		inflight:        inflight,
		pending:         pending,
		ids:             newPacketIDAllocator(),
		subscriptions:   make(map[string]*storage.Subscription),
		outboundAliases: make(map[string]uint16),
		inboundAliases:  make(map[uint16]string),
		lastActivity:    time.Now(),
	}
}

// Connect attaches a connection to the session.
func (s *Session) Connect(conn Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = conn
	s.remoteAddr = conn.RemoteAddr()
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.lastActivity = time.Now()
	return nil
}

// Disconnect detaches the connection. Graceful disconnects clear the will.
// The disconnect callback runs once per connection.
func (s *Session) Disconnect(graceful bool) error {
	s.mu.Lock()

	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}

	s.state = StateDisconnecting
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateOffline
	s.disconnectedAt = time.Now()

	if graceful {
		s.will = nil
	}

	// Topic aliases do not survive the connection.
	s.outboundAliases = make(map[string]uint16)
	s.inboundAliases = make(map[uint16]string)

	callback := s.onDisconnect
	s.mu.Unlock()

	if callback != nil {
		callback(s, graceful)
	}
	return nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// MarkGone transitions the session to its terminal state.
func (s *Session) MarkGone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateGone
}

// IsConnected reports whether the session has a live connection.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected && s.conn != nil
}

// Conn returns the current connection (may be nil).
func (s *Session) Conn() Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// RemoteAddr returns the address of the current or last connection.
func (s *Session) RemoteAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteAddr
}

// DisconnectedAt returns when the session last lost its connection.
func (s *Session) DisconnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnectedAt
}

// Inflight returns the session's inflight tracker.
func (s *Session) Inflight() *messages.Inflight {
	return s.inflight
}

// Pending returns the session's pending-outbound queue.
func (s *Session) Pending() *messages.Queue {
	return s.pending
}

// AcquirePacketID allocates an unused outbound packet id.
func (s *Session) AcquirePacketID() (uint16, bool) {
	return s.ids.Acquire()
}

// ReleasePacketID returns a packet id to the allocator.
func (s *Session) ReleasePacketID(id uint16) {
	s.ids.Release(id)
}

// ClaimPacketID marks a restored packet id as in use.
func (s *Session) ClaimPacketID(id uint16) {
	s.ids.Claim(id)
}

// WritePacket writes a packet to the connection.
func (s *Session) WritePacket(pkt packets.ControlPacket) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.WritePacket(pkt)
}

// ReadPacket reads a packet from the connection.
func (s *Session) ReadPacket() (packets.ControlPacket, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.ReadPacket()
}

// Touch updates the last activity timestamp and pushes the connection read
// deadline out by 1.5x the negotiated keepalive.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	conn := s.conn
	keepAlive := s.KeepAlive
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if keepAlive > 0 {
		conn.SetReadDeadline(time.Now().Add(time.Duration(keepAlive) * time.Second * 3 / 2))
	} else {
		conn.SetReadDeadline(time.Time{})
	}
}

// SetOnDisconnect sets the disconnect callback.
func (s *Session) SetOnDisconnect(fn func(*Session, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// AddSubscription caches a subscription on the session.
func (s *Session) AddSubscription(sub *storage.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.Filter] = storage.CopySubscription(sub)
}

// RemoveSubscription removes a cached subscription. It reports whether the
// filter was present.
func (s *Session) RemoveSubscription(filter string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[filter]
	delete(s.subscriptions, filter)
	return ok
}

// HasSubscription reports whether the filter is subscribed.
func (s *Session) HasSubscription(filter string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptions[filter]
	return ok
}

// Subscriptions returns a snapshot of the session's subscriptions.
func (s *Session) Subscriptions() map[string]*storage.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*storage.Subscription, len(s.subscriptions))
	for filter, sub := range s.subscriptions {
		result[filter] = storage.CopySubscription(sub)
	}
	return result
}

// SetWill replaces the session's will message.
func (s *Session) SetWill(will *storage.WillMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.will = will
}

// Will returns the session's will message, nil after a clean disconnect.
func (s *Session) Will() *storage.WillMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.will
}

// SetInboundAlias registers a client-to-broker topic alias.
func (s *Session) SetInboundAlias(alias uint16, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboundAliases[alias] = topic
}

// ResolveInboundAlias resolves a client-to-broker alias.
func (s *Session) ResolveInboundAlias(alias uint16) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.inboundAliases[alias]
	return topic, ok
}

// OutboundAlias returns (and allocates if room remains) the broker-to-client
// alias for a topic. The second result reports whether the alias was already
// established, the third whether any alias applies.
func (s *Session) OutboundAlias(topic string) (alias uint16, existing, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alias, ok := s.outboundAliases[topic]; ok {
		return alias, true, true
	}
	if len(s.outboundAliases) >= int(s.TopicAliasMax) {
		return 0, false, false
	}
	alias = uint16(len(s.outboundAliases) + 1)
	s.outboundAliases[topic] = alias
	return alias, false, true
}

// UpdateConnectionOptions refreshes the negotiated options on reconnect.
// Must be called before Connect.
func (s *Session) UpdateConnectionOptions(version byte, opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Version = version
	s.CleanStart = opts.CleanStart
	s.ExpiryInterval = opts.ExpiryInterval
	if opts.ReceiveMaximum > 0 {
		s.ReceiveMaximum = opts.ReceiveMaximum
	}
	s.MaxPacketSize = opts.MaxPacketSize
	s.TopicAliasMax = opts.TopicAliasMax
	s.KeepAlive = opts.KeepAlive
	s.will = opts.Will
}

// Info returns a snapshot for persistence.
func (s *Session) Info() *storage.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &storage.Session{
		ClientID:       s.ID,
		Version:        s.Version,
		CleanStart:     s.CleanStart,
		Connected:      s.state == StateConnected,
		ConnectedAt:    s.connectedAt,
		DisconnectedAt: s.disconnectedAt,
		ExpiryInterval: s.ExpiryInterval,
		ReceiveMaximum: s.ReceiveMaximum,
		MaxPacketSize:  s.MaxPacketSize,
		TopicAliasMax:  s.TopicAliasMax,
	}
}

// RestoreFrom applies persisted session state.
func (s *Session) RestoreFrom(stored *storage.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored.ExpiryInterval > s.ExpiryInterval {
		s.ExpiryInterval = stored.ExpiryInterval
	}
}
