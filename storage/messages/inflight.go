// Package messages provides the per-session bookkeeping structures for
// QoS delivery: the inflight window and the pending-outbound queue.
package messages

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftmq/driftmq/storage"
)

// State tracks the acknowledgment an inflight message is waiting for.
type State int

const (
	// PubAckPending means PUBLISH was sent at QoS 1, waiting for PUBACK.
	PubAckPending State = iota
	// PubRecPending means PUBLISH was sent at QoS 2, waiting for PUBREC.
	PubRecPending
	// PubCompPending means PUBREL was sent, waiting for PUBCOMP.
	PubCompPending
)

// Direction indicates message direction relative to the broker.
type Direction int

const (
	Outbound Direction = iota // sent by broker to client
	Inbound                   // received from client
)

// InflightMessage represents a message waiting for acknowledgment.
type InflightMessage struct {
	SentAt    time.Time
	Message   *storage.Message
	State     State
	Attempts  int
	Direction Direction
	PacketID  uint16
	seq       uint64 // admission order, drives retransmission order
}

// Inflight tracks QoS 1 and QoS 2 messages in flight for one session.
// A packet id is outstanding in at most one direction at a time.
type Inflight struct {
	mu       sync.RWMutex
	messages map[uint16]*InflightMessage
	maxSize  int
	nextSeq  uint64

	// QoS 2 ingress: packet ids whose payload was already forwarded,
	// awaiting PUBREL.
	receivedIDs map[uint16]time.Time
}

// NewInflight creates a new inflight tracker bounded to maxSize entries.
func NewInflight(maxSize int) *Inflight {
	if maxSize <= 0 {
		maxSize = 65535
	}
	return &Inflight{
		messages:    make(map[uint16]*InflightMessage),
		maxSize:     maxSize,
		receivedIDs: make(map[uint16]time.Time),
	}
}

// Add registers a message under the packet id.
func (t *Inflight) Add(packetID uint16, msg *storage.Message, state State, direction Direction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) >= t.maxSize {
		return ErrInflightFull
	}
	if _, ok := t.messages[packetID]; ok {
		return fmt.Errorf("add packet id %d: already in flight", packetID)
	}

	t.nextSeq++
	t.messages[packetID] = &InflightMessage{
		PacketID:  packetID,
		Message:   msg,
		State:     state,
		SentAt:    time.Now(),
		Direction: direction,
		seq:       t.nextSeq,
	}
	return nil
}

// Get retrieves a copy of the inflight message for the packet id.
func (t *Inflight) Get(packetID uint16) (*InflightMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	msg, ok := t.messages[packetID]
	if !ok {
		return nil, false
	}
	cp := *msg
	return &cp, true
}

// Has reports whether the packet id is in the tracker.
func (t *Inflight) Has(packetID uint16) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.messages[packetID]
	return ok
}

// UpdateState transitions an inflight message to a new state.
func (t *Inflight) UpdateState(packetID uint16, state State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.messages[packetID]
	if !ok {
		return fmt.Errorf("update state for packet id %d: %w", packetID, ErrPacketNotFound)
	}
	msg.State = state
	return nil
}

// Ack removes and returns the message for a completed flow (PUBACK for QoS 1,
// PUBCOMP for QoS 2).
func (t *Inflight) Ack(packetID uint16) (*storage.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.messages[packetID]
	if !ok {
		return nil, fmt.Errorf("ack packet id %d: %w", packetID, ErrPacketNotFound)
	}
	delete(t.messages, packetID)
	return msg.Message, nil
}

// Remove drops an inflight message without returning it.
func (t *Inflight) Remove(packetID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.messages, packetID)
}

// MarkAttempt increments the delivery attempt count and refreshes the sent
// timestamp.
func (t *Inflight) MarkAttempt(packetID uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.messages[packetID]
	if !ok {
		return fmt.Errorf("mark attempt for packet id %d: %w", packetID, ErrPacketNotFound)
	}
	msg.SentAt = time.Now()
	msg.Attempts++
	return nil
}

// Count returns the number of inflight messages.
func (t *Inflight) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// CountOutbound returns the number of outbound inflight messages, the value
// bounded by the client's receive maximum.
func (t *Inflight) CountOutbound() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, msg := range t.messages {
		if msg.Direction == Outbound {
			n++
		}
	}
	return n
}

// GetAll returns copies of all inflight messages in admission order.
func (t *Inflight) GetAll() []*InflightMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*InflightMessage, 0, len(t.messages))
	for _, msg := range t.messages {
		cp := *msg
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// Clear removes all inflight state.
func (t *Inflight) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make(map[uint16]*InflightMessage)
	t.receivedIDs = make(map[uint16]time.Time)
}

// MarkReceived records a QoS 2 ingress packet id awaiting PUBREL.
func (t *Inflight) MarkReceived(packetID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receivedIDs[packetID] = time.Now()
}

// WasReceived reports whether the QoS 2 ingress packet id is pending PUBREL.
func (t *Inflight) WasReceived(packetID uint16) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.receivedIDs[packetID]
	return ok
}

// CountReceived returns the number of QoS 2 ingress packet ids pending
// PUBREL, the value bounded by the broker's receive maximum.
func (t *Inflight) CountReceived() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.receivedIDs)
}

// ClearReceived releases a QoS 2 ingress packet id after PUBCOMP.
func (t *Inflight) ClearReceived(packetID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.receivedIDs, packetID)
}
