package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/driftmq/driftmq/broker/events"
	"github.com/driftmq/driftmq/packets"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/storage/messages"
)

// SessionOptions carries the negotiated CONNECT parameters into session
// creation.
type SessionOptions struct {
	CleanStart     bool
	KeepAlive      uint16
	SessionExpiry  uint32
	ReceiveMaximum uint16 // client's advertised receive maximum
	MaxPacketSize  uint32
	TopicAliasMax  uint16 // client's advertised topic alias maximum
	Will           *storage.WillMessage
}

// createSession creates a fresh session or adopts a stored one. The caller
// must hold the client's key lock. It returns the session and whether prior
// state was resumed (CONNACK session-present).
func (b *Broker) createSession(clientID string, version byte, opts SessionOptions) (*session.Session, bool, error) {
	ctx := context.Background()

	existing := b.sessionsMap.Get(clientID)
	if existing != nil && existing.IsConnected() {
		b.takeOver(existing)
	}

	if opts.CleanStart && existing != nil {
		if err := b.destroySession(existing); err != nil {
			return nil, false, err
		}
		existing = nil
	}

	if existing != nil {
		existing.UpdateConnectionOptions(version, session.Options{
			CleanStart:     opts.CleanStart,
			ExpiryInterval: opts.SessionExpiry,
			ReceiveMaximum: opts.ReceiveMaximum,
			MaxPacketSize:  opts.MaxPacketSize,
			TopicAliasMax:  opts.TopicAliasMax,
			KeepAlive:      opts.KeepAlive,
			Will:           opts.Will,
		})
		existing.SetOnDisconnect(b.handleDisconnect)
		// The disconnect path drained the pending queue into storage.
		if err := b.restoreQueue(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	var stored *storage.Session
	if !opts.CleanStart {
		var err error
		stored, err = b.sessions.Get(ctx, clientID)
		if err != nil && err != storage.ErrNotFound {
			return nil, false, fmt.Errorf("load session: %w", err)
		}
	} else {
		// A clean start discards whatever a previous incarnation left behind.
		b.clearStoredState(ctx, clientID)
	}

	receiveMax := opts.ReceiveMaximum
	if receiveMax == 0 {
		receiveMax = 65535
	}
	inflight := messages.NewInflight(int(receiveMax))
	pending := messages.NewQueue(b.maxOfflineQueue)

	s := session.New(clientID, version, session.Options{
		CleanStart:     opts.CleanStart,
		ExpiryInterval: opts.SessionExpiry,
		ReceiveMaximum: receiveMax,
		MaxPacketSize:  opts.MaxPacketSize,
		TopicAliasMax:  opts.TopicAliasMax,
		KeepAlive:      opts.KeepAlive,
		Will:           opts.Will,
	}, inflight, pending)
	s.SetOnDisconnect(b.handleDisconnect)

	resumed := false
	if stored != nil {
		s.RestoreFrom(stored)
		if err := b.restoreSubscriptions(ctx, s); err != nil {
			return nil, false, err
		}
		if err := b.restoreInflight(ctx, s); err != nil {
			return nil, false, err
		}
		if err := b.restoreQueue(ctx, s); err != nil {
			return nil, false, err
		}
		resumed = true
	}

	b.sessionsMap.Set(clientID, s)

	if err := b.sessions.Save(ctx, s.Info()); err != nil {
		return nil, false, fmt.Errorf("save session: %w", err)
	}

	return s, resumed, nil
}

// takeOver closes the previous connection for a client id. The session
// object survives and is handed to the new connection. The caller holds the
// client's key lock, so the disconnect callback must not re-acquire it: the
// connect path decides the session's fate next.
func (b *Broker) takeOver(s *session.Session) {
	b.logOp("session_taken_over", "client_id", s.ID)
	b.sendDisconnect(s, packets.ReasonSessionTakenOver)

	s.SetOnDisconnect(func(s *session.Session, graceful bool) {
		b.persistOnDisconnect(s, graceful)
	})
	s.Disconnect(false)

	if b.notifier != nil {
		b.notifier.Notify(context.Background(), events.SessionTakenOver{ClientID: s.ID})
	}
}

// destroySession removes a session and all of its stored state. The caller
// must hold the client's key lock.
func (b *Broker) destroySession(s *session.Session) error {
	if s.IsConnected() {
		// The session is being torn down; the usual disconnect bookkeeping
		// would only resurrect state this method deletes next.
		s.SetOnDisconnect(nil)
		s.Disconnect(false)
	}

	ctx := context.Background()
	b.clearStoredState(ctx, s.ID)
	b.sessionsMap.Delete(s.ID)

	for filter, sub := range s.Subscriptions() {
		b.removeFromMatcher(s.ID, filter, sub)
	}

	s.MarkGone()
	return nil
}

func (b *Broker) clearStoredState(ctx context.Context, clientID string) {
	if err := b.sessions.Delete(ctx, clientID); err != nil {
		b.logError("delete_session", err, "client_id", clientID)
	}
	if err := b.subscriptions.RemoveAll(ctx, clientID); err != nil {
		b.logError("delete_subscriptions", err, "client_id", clientID)
	}
	if err := b.messages.DeleteByPrefix(ctx, clientID+"/"); err != nil {
		b.logError("delete_messages", err, "client_id", clientID)
	}
}

// restoreSubscriptions re-arms stored subscriptions into the session cache,
// the matcher and the shared groups.
func (b *Broker) restoreSubscriptions(ctx context.Context, s *session.Session) error {
	subs, err := b.subscriptions.GetForClient(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	for _, sub := range subs {
		s.AddSubscription(sub)
		b.router.Subscribe(storage.CopySubscription(sub))
		if sub.ShareGroup != "" {
			b.shared.Add(sharedGroupKey(sub), s.ID)
		}
	}
	return nil
}

// restoreInflight reloads persisted inflight messages, reclaiming their
// packet ids.
func (b *Broker) restoreInflight(ctx context.Context, s *session.Session) error {
	msgs, err := b.messages.List(ctx, s.ID+inflightPrefix)
	if err != nil {
		return fmt.Errorf("load inflight messages: %w", err)
	}

	for _, msg := range msgs {
		if msg.PacketID == 0 {
			continue
		}
		state := messages.PubAckPending
		if msg.QoS == 2 {
			state = messages.PubRecPending
		}
		if err := s.Inflight().Add(msg.PacketID, msg, state, messages.Outbound); err != nil {
			continue
		}
		s.ClaimPacketID(msg.PacketID)
	}

	return b.messages.DeleteByPrefix(ctx, s.ID+inflightPrefix)
}

// restoreQueue reloads the persisted pending-outbound queue.
func (b *Broker) restoreQueue(ctx context.Context, s *session.Session) error {
	msgs, err := b.messages.List(ctx, s.ID+queuePrefix)
	if err != nil {
		return fmt.Errorf("load queued messages: %w", err)
	}
	for _, msg := range msgs {
		if err := s.Pending().Enqueue(msg); err != nil {
			break
		}
	}
	return b.messages.DeleteByPrefix(ctx, s.ID+queuePrefix)
}

// handleDisconnect runs whenever a session loses its connection. It persists
// state, schedules the will and destroys sessions that do not survive
// disconnection.
func (b *Broker) handleDisconnect(s *session.Session, graceful bool) {
	b.persistOnDisconnect(s, graceful)

	if s.ExpiryInterval == 0 {
		b.sessionLocks.Lock(s.ID)
		if b.sessionsMap.Get(s.ID) == s {
			b.destroySession(s)
		}
		b.sessionLocks.Unlock(s.ID)
	}
}

// persistOnDisconnect flushes session state and schedules the will. It never
// takes the client's key lock.
func (b *Broker) persistOnDisconnect(s *session.Session, graceful bool) {
	ctx := context.Background()

	b.stats.DecrementConnections()
	b.metrics.RecordDisconnection(ctx)
	if b.notifier != nil {
		b.notifier.Notify(ctx, events.ClientDisconnected{ClientID: s.ID, Graceful: graceful})
	}

	if err := b.sessions.Save(ctx, s.Info()); err != nil {
		b.logError("save_session", err, "client_id", s.ID)
	}

	will := s.Will()
	switch {
	case graceful:
		b.wills.Delete(ctx, s.ID)
	case will != nil:
		b.scheduleWill(ctx, s, will)
	}

	// Persist QoS state so a resumed session can retransmit.
	for i, msg := range s.Pending().Drain() {
		key := fmt.Sprintf("%s%s%06d", s.ID, queuePrefix, i)
		if err := b.messages.Store(ctx, key, msg); err != nil {
			b.logError("persist_queue", err, "client_id", s.ID)
		}
	}
	for _, inf := range s.Inflight().GetAll() {
		if inf.Direction != messages.Outbound {
			continue
		}
		key := fmt.Sprintf("%s%s%d", s.ID, inflightPrefix, inf.PacketID)
		if err := b.messages.Store(ctx, key, inf.Message); err != nil {
			b.logError("persist_inflight", err, "client_id", s.ID)
		}
	}
}

// scheduleWill parks the will with its firing deadline,
// min(will_delay_interval, session_expiry).
func (b *Broker) scheduleWill(ctx context.Context, s *session.Session, will *storage.WillMessage) {
	delay := will.Delay
	if s.ExpiryInterval != 0xFFFFFFFF && s.ExpiryInterval < delay {
		delay = s.ExpiryInterval
	}

	cp := *will
	cp.ClientID = s.ID
	cp.TriggerAt = time.Now().Add(time.Duration(delay) * time.Second)
	if err := b.wills.Set(ctx, s.ID, &cp); err != nil {
		b.logError("schedule_will", err, "client_id", s.ID)
	}
}
