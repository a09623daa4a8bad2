package messages

import "errors"

var (
	// ErrInflightFull indicates the inflight window is at capacity.
	ErrInflightFull = errors.New("inflight window full")

	// ErrQueueFull indicates the pending-outbound queue is at capacity.
	ErrQueueFull = errors.New("message queue full")

	// ErrPacketNotFound indicates no inflight message exists for a packet id.
	ErrPacketNotFound = errors.New("packet id not found")
)
