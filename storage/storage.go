// Package storage defines the persistence contracts backing sessions,
// subscriptions, retained messages, wills and offline queues. Implementations
// must be linearizable per client-id.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the composite storage interface providing access to all backends.
type Store interface {
	// Messages returns the message store for inflight and offline queues.
	Messages() MessageStore

	// Sessions returns the session store.
	Sessions() SessionStore

	// Subscriptions returns the subscription store.
	Subscriptions() SubscriptionStore

	// Retained returns the retained message store.
	Retained() RetainedStore

	// Wills returns the will message store.
	Wills() WillStore

	// Close closes all storage backends.
	Close() error
}

// Message represents a stored MQTT application message.
type Message struct {
	Topic           string
	Payload         []byte
	Publisher       string // client id of the publishing session
	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	UserProperties  map[string]string
	SubscriptionIDs []uint32
	PayloadFormat   *byte
	MessageExpiry   *uint32
	Expiry          time.Time // absolute deadline derived from MessageExpiry
	PublishTime     time.Time
	PacketID        uint16
	QoS             byte
	Retain          bool
	Dup             bool
}

// Expired reports whether the message's expiry deadline has passed.
func (m *Message) Expired(now time.Time) bool {
	return !m.Expiry.IsZero() && now.After(m.Expiry)
}

// RemainingExpiry returns the message-expiry interval to send on delivery,
// decremented by the time the message spent in the broker.
func (m *Message) RemainingExpiry(now time.Time) *uint32 {
	if m.MessageExpiry == nil || m.Expiry.IsZero() {
		return m.MessageExpiry
	}
	remaining := m.Expiry.Sub(now)
	if remaining <= 0 {
		zero := uint32(0)
		return &zero
	}
	sec := uint32(remaining / time.Second)
	return &sec
}

// CopyMessage creates a deep copy of a message.
func CopyMessage(msg *Message) *Message {
	if msg == nil {
		return nil
	}

	cp := *msg
	if len(msg.Payload) > 0 {
		cp.Payload = make([]byte, len(msg.Payload))
		copy(cp.Payload, msg.Payload)
	}
	if len(msg.CorrelationData) > 0 {
		cp.CorrelationData = make([]byte, len(msg.CorrelationData))
		copy(cp.CorrelationData, msg.CorrelationData)
	}
	if len(msg.UserProperties) > 0 {
		cp.UserProperties = make(map[string]string, len(msg.UserProperties))
		for k, v := range msg.UserProperties {
			cp.UserProperties[k] = v
		}
	}
	if len(msg.SubscriptionIDs) > 0 {
		cp.SubscriptionIDs = make([]uint32, len(msg.SubscriptionIDs))
		copy(cp.SubscriptionIDs, msg.SubscriptionIDs)
	}
	if msg.PayloadFormat != nil {
		pf := *msg.PayloadFormat
		cp.PayloadFormat = &pf
	}
	if msg.MessageExpiry != nil {
		me := *msg.MessageExpiry
		cp.MessageExpiry = &me
	}
	return &cp
}

// Session represents persisted session state.
type Session struct {
	ClientID       string
	Version        byte // protocol level (3, 4 or 5)
	CleanStart     bool
	Connected      bool
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	ExpiryInterval uint32 // session expiry in seconds
	ReceiveMaximum uint16
	MaxPacketSize  uint32
	TopicAliasMax  uint16
}

// SubscribeOptions holds MQTT 5.0 subscription options.
type SubscribeOptions struct {
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte // 0=send, 1=new only, 2=none
}

// Subscription represents a stored subscription.
type Subscription struct {
	ClientID       string
	Filter         string
	ShareGroup     string // non-empty for shared subscriptions
	SubscriptionID *uint32
	Options        SubscribeOptions
	QoS            byte
}

// CopySubscription creates a copy of a subscription.
func CopySubscription(sub *Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	cp := *sub
	if sub.SubscriptionID != nil {
		id := *sub.SubscriptionID
		cp.SubscriptionID = &id
	}
	return &cp
}

// WillMessage represents a stored will message with its firing deadline.
type WillMessage struct {
	ClientID       string
	Topic          string
	Payload        []byte
	UserProperties map[string]string
	ContentType    string
	ResponseTopic  string
	PayloadFormat  *byte
	MessageExpiry  *uint32
	Delay          uint32    // will delay interval in seconds
	TriggerAt      time.Time // when the will becomes due
	QoS            byte
	Retain         bool
}

// MessageStore handles message persistence for inflight and offline queues.
// Key format: "{clientID}/inflight/{packetID}" and "{clientID}/queue/{seq}".
type MessageStore interface {
	Store(ctx context.Context, key string, msg *Message) error
	Get(ctx context.Context, key string) (*Message, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]*Message, error)
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// SessionStore handles session persistence.
type SessionStore interface {
	Get(ctx context.Context, clientID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, clientID string) error

	// GetExpired returns client ids of disconnected sessions whose expiry
	// deadline passed before the given time.
	GetExpired(ctx context.Context, before time.Time) ([]string, error)

	List(ctx context.Context) ([]*Session, error)
}

// SubscriptionStore handles subscription persistence.
type SubscriptionStore interface {
	Add(ctx context.Context, sub *Subscription) error
	Remove(ctx context.Context, clientID, filter string) error
	RemoveAll(ctx context.Context, clientID string) error
	GetForClient(ctx context.Context, clientID string) ([]*Subscription, error)
	Count(ctx context.Context) int
}

// RetainedStore handles retained message persistence.
type RetainedStore interface {
	// Set stores or replaces a retained message under its exact topic.
	Set(ctx context.Context, topic string, msg *Message) error

	// Get retrieves a retained message by exact topic.
	Get(ctx context.Context, topic string) (*Message, error)

	// Delete removes a retained message.
	Delete(ctx context.Context, topic string) error

	// Match returns all unexpired retained messages whose topic matches the
	// filter.
	Match(ctx context.Context, filter string) ([]*Message, error)

	// DeleteExpired drops entries whose expiry deadline passed.
	DeleteExpired(ctx context.Context, before time.Time) error

	Count(ctx context.Context) int
}

// WillStore handles will message persistence.
type WillStore interface {
	Set(ctx context.Context, clientID string, will *WillMessage) error
	Get(ctx context.Context, clientID string) (*WillMessage, error)
	Delete(ctx context.Context, clientID string) error

	// GetPending returns will messages due at or before the given time.
	GetPending(ctx context.Context, before time.Time) ([]*WillMessage, error)
}
