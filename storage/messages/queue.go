package messages

import (
	"fmt"
	"sync"

	"github.com/driftmq/driftmq/storage"
)

// Queue is the bounded FIFO of messages pending delivery to a session that
// is offline or saturated by its receive maximum.
type Queue struct {
	mu       sync.Mutex
	messages []*storage.Message
	maxSize  int
}

// NewQueue creates a new message queue bounded to maxSize entries.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Queue{
		messages: make([]*storage.Message, 0),
		maxSize:  maxSize,
	}
}

// Enqueue appends a copy of the message. When the queue is full, the oldest
// QoS 0 entry is dropped to make room; if none exists, ErrQueueFull is
// returned and the caller decides the session's fate.
func (q *Queue) Enqueue(msg *storage.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) >= q.maxSize {
		if !q.dropOldestQoS0Locked() {
			return fmt.Errorf("enqueue message for topic %s (max: %d): %w",
				msg.Topic, q.maxSize, ErrQueueFull)
		}
	}

	q.messages = append(q.messages, storage.CopyMessage(msg))
	return nil
}

// dropOldestQoS0Locked removes the oldest queued QoS 0 message.
func (q *Queue) dropOldestQoS0Locked() bool {
	for i, msg := range q.messages {
		if msg.QoS == 0 {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return true
		}
	}
	return false
}

// EvictOldest removes and returns the oldest message regardless of QoS.
func (q *Queue) EvictOldest() *storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg
}

// Dequeue removes and returns the first message, or nil when empty.
func (q *Queue) Dequeue() *storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg
}

// Peek returns the first message without removing it.
func (q *Queue) Peek() *storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}
	return q.messages[0]
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// IsEmpty reports whether the queue is empty.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// IsFull reports whether the queue is at capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) >= q.maxSize
}

// Drain removes and returns all queued messages in order.
func (q *Queue) Drain() []*storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.messages
	q.messages = make([]*storage.Message, 0)
	return msgs
}
