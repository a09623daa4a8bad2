package broker

import (
	"sync/atomic"
	"time"
)

// Stats collects broker-wide counters feeding the $SYS topics.
type Stats struct {
	startTime time.Time

	currentConnections atomic.Int64
	totalConnections   atomic.Uint64
	messagesReceived   atomic.Uint64
	messagesSent       atomic.Uint64
	bytesReceived      atomic.Uint64
	bytesSent          atomic.Uint64
	protocolErrors     atomic.Uint64
	authErrors         atomic.Uint64
	authzErrors        atomic.Uint64
}

// NewStats creates a new stats collector anchored at the current time.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) IncrementConnections() {
	s.currentConnections.Add(1)
	s.totalConnections.Add(1)
}

func (s *Stats) DecrementConnections()      { s.currentConnections.Add(-1) }
func (s *Stats) IncrementMessagesReceived() { s.messagesReceived.Add(1) }
func (s *Stats) IncrementMessagesSent()     { s.messagesSent.Add(1) }
func (s *Stats) AddBytesReceived(n uint64)  { s.bytesReceived.Add(n) }
func (s *Stats) AddBytesSent(n uint64)      { s.bytesSent.Add(n) }
func (s *Stats) IncrementProtocolErrors()   { s.protocolErrors.Add(1) }
func (s *Stats) IncrementAuthErrors()       { s.authErrors.Add(1) }
func (s *Stats) IncrementAuthzErrors()      { s.authzErrors.Add(1) }

func (s *Stats) Uptime() time.Duration     { return time.Since(s.startTime) }
func (s *Stats) CurrentConnections() int64 { return s.currentConnections.Load() }
func (s *Stats) TotalConnections() uint64  { return s.totalConnections.Load() }
func (s *Stats) MessagesReceived() uint64  { return s.messagesReceived.Load() }
func (s *Stats) MessagesSent() uint64      { return s.messagesSent.Load() }
func (s *Stats) BytesReceived() uint64     { return s.bytesReceived.Load() }
func (s *Stats) BytesSent() uint64         { return s.bytesSent.Load() }
func (s *Stats) ProtocolErrors() uint64    { return s.protocolErrors.Load() }
func (s *Stats) AuthErrors() uint64        { return s.authErrors.Load() }
func (s *Stats) AuthzErrors() uint64       { return s.authzErrors.Load() }
