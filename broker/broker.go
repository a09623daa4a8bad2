// Package broker implements the MQTT session and routing engine: connection
// handling, the per-client session state machine, publish fan-out, retained
// messages, wills and the $SYS control plane.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftmq/driftmq/auth"
	"github.com/driftmq/driftmq/broker/events"
	"github.com/driftmq/driftmq/broker/router"
	"github.com/driftmq/driftmq/config"
	"github.com/driftmq/driftmq/packets"
	v5 "github.com/driftmq/driftmq/packets/v5"
	"github.com/driftmq/driftmq/ratelimit"
	"github.com/driftmq/driftmq/rewrite"
	"github.com/driftmq/driftmq/server/otel"
	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/storage/memory"
)

const (
	inflightPrefix = "/inflight/"
	queuePrefix    = "/queue/"

	// sinkClientID owns the broker-side always-on subscriptions from the
	// configuration. It never has a network connection.
	sinkClientID = "$driftmq/sink"
)

// Broker is the core MQTT broker.
type Broker struct {
	sessionLocks *keyLock
	globalMu     sync.Mutex // protects lifecycle (Close, expiry sweep)
	wg           sync.WaitGroup

	sessionsMap session.Cache
	router      *router.Router
	shared      *sharedGroups

	messages      storage.MessageStore
	sessions      storage.SessionStore
	subscriptions storage.SubscriptionStore
	retained      storage.RetainedStore
	wills         storage.WillStore

	authEngine  *auth.Engine
	rewriter    *rewrite.Rewriter
	rateLimiter *ratelimit.Limiter
	notifier    events.Notifier
	metrics     *otel.Metrics

	logger *slog.Logger
	stats  *Stats

	sinkMu       sync.RWMutex
	sinkHandlers []func(*storage.Message)

	// Negotiation bounds from configuration.
	keepAliveMax     uint16
	sessionExpiryMax uint32
	receiveMaximum   uint16
	topicAliasMax    uint16
	maxPacketSize    uint32
	maxOfflineQueue  int
	connectTimeout   time.Duration
	sysInterval      time.Duration

	stopCh       chan struct{}
	shuttingDown atomic.Bool
	closed       atomic.Bool
}

// New creates a broker over the given storage backend. A nil store falls
// back to memory storage; nil logger and stats get defaults.
func New(store storage.Store, cfg *config.Config, logger *slog.Logger, stats *Stats, notifier events.Notifier, metrics *otel.Metrics) *Broker {
	if store == nil {
		store = memory.New()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStats()
	}

	b := &Broker{
		sessionLocks:     newKeyLock(),
		sessionsMap:      session.NewShardedCache(),
		router:           router.New(),
		shared:           newSharedGroups(),
		messages:         store.Messages(),
		sessions:         store.Sessions(),
		subscriptions:    store.Subscriptions(),
		retained:         store.Retained(),
		wills:            store.Wills(),
		rateLimiter:      ratelimit.New(cfg.MessageRateLimit, 0),
		notifier:         notifier,
		metrics:          metrics,
		logger:           logger,
		stats:            stats,
		keepAliveMax:     cfg.KeepAliveMax,
		sessionExpiryMax: cfg.SessionExpiryMax,
		receiveMaximum:   cfg.ReceiveMaximum,
		topicAliasMax:    cfg.TopicAliasMax,
		maxPacketSize:    cfg.MaxPacketSize,
		maxOfflineQueue:  cfg.MaxOfflineQueue,
		connectTimeout:   cfg.ConnectTimeout,
		sysInterval:      cfg.SysTopicInterval,
		stopCh:           make(chan struct{}),
	}

	if len(cfg.Rewrites) > 0 {
		rules := make([][2]string, 0, len(cfg.Rewrites))
		for _, r := range cfg.Rewrites {
			rules = append(rules, [2]string{r.Pattern, r.Write})
		}
		rw, err := rewrite.New(rules)
		if err != nil {
			logger.Error("invalid rewrite rules", slog.String("error", err.Error()))
		} else {
			b.rewriter = rw
		}
	}

	for _, filter := range cfg.Subscriptions {
		b.addSinkSubscription(filter)
	}

	b.wg.Add(2)
	go b.expiryLoop()
	go b.sysLoop()

	return b
}

// SetAuthEngine sets the plugin bus engine consulted at connect, publish and
// subscribe time.
func (b *Broker) SetAuthEngine(engine *auth.Engine) {
	b.authEngine = engine
}

// Stats returns the broker statistics.
func (b *Broker) Stats() *Stats {
	return b.stats
}

// Get returns a session by client id.
func (b *Broker) Get(clientID string) *session.Session {
	return b.sessionsMap.Get(clientID)
}

// OnSinkMessage registers a handler for messages matched by the broker-side
// always-on subscriptions.
func (b *Broker) OnSinkMessage(fn func(*storage.Message)) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sinkHandlers = append(b.sinkHandlers, fn)
}

// AddSinkSubscription installs an additional broker-side subscription at
// runtime.
func (b *Broker) AddSinkSubscription(filter string) {
	b.addSinkSubscription(filter)
}

func (b *Broker) addSinkSubscription(filter string) {
	b.router.Subscribe(&storage.Subscription{
		ClientID: sinkClientID,
		Filter:   filter,
		QoS:      2,
	})
}

func (b *Broker) deliverToSink(msg *storage.Message) {
	b.sinkMu.RLock()
	handlers := b.sinkHandlers
	b.sinkMu.RUnlock()

	for _, fn := range handlers {
		fn(storage.CopyMessage(msg))
	}
}

func (b *Broker) logOp(op string, attrs ...any) {
	b.logger.Debug(op, attrs...)
}

func (b *Broker) logError(op string, err error, attrs ...any) {
	if err != nil {
		allAttrs := append([]any{slog.String("error", err.Error())}, attrs...)
		b.logger.Error(op, allAttrs...)
	}
}

// expiryLoop drives the broker timers: session expiry, will delays and
// retained message expiry.
func (b *Broker) expiryLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.expireSessions()
			b.triggerWills()
			b.expireRetained()
		case <-b.stopCh:
			return
		}
	}
}

// expireSessions destroys parked sessions whose expiry deadline passed.
func (b *Broker) expireSessions() {
	now := time.Now()
	var toDelete []string

	b.sessionsMap.ForEach(func(s *session.Session) {
		if s.IsConnected() {
			return
		}
		expiry := s.ExpiryInterval
		if expiry == 0xFFFFFFFF {
			return
		}
		deadline := s.DisconnectedAt().Add(time.Duration(expiry) * time.Second)
		if now.After(deadline) {
			toDelete = append(toDelete, s.ID)
		}
	})

	for _, clientID := range toDelete {
		b.sessionLocks.Lock(clientID)
		if s := b.sessionsMap.Get(clientID); s != nil && !s.IsConnected() {
			b.destroySession(s)
		}
		b.sessionLocks.Unlock(clientID)
	}
}

// triggerWills publishes will messages whose delay elapsed while the client
// stayed away.
func (b *Broker) triggerWills() {
	ctx := context.Background()
	pending, err := b.wills.GetPending(ctx, time.Now())
	if err != nil {
		return
	}

	for _, will := range pending {
		s := b.Get(will.ClientID)
		if s != nil && s.IsConnected() {
			b.wills.Delete(ctx, will.ClientID)
			continue
		}
		b.publishWill(will)
		b.wills.Delete(ctx, will.ClientID)
	}
}

func (b *Broker) expireRetained() {
	if err := b.retained.DeleteExpired(context.Background(), time.Now()); err != nil {
		b.logError("retained_expiry", err)
	}
}

// sysLoop periodically publishes broker metrics under $SYS/broker.
func (b *Broker) sysLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.sysInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.publishSysTopics()
		case <-b.stopCh:
			return
		}
	}
}

// Close shuts down the broker: timers stop, every connected session gets a
// ServerShuttingDown disconnect, and state is flushed via the usual
// disconnect path.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.shuttingDown.Store(true)

	close(b.stopCh)
	b.wg.Wait()

	b.globalMu.Lock()
	defer b.globalMu.Unlock()

	b.sessionsMap.ForEach(func(s *session.Session) {
		if !s.IsConnected() {
			return
		}
		if s.Version == 5 {
			s.WritePacket(&v5.Disconnect{
				FixedHeader: packets.FixedHeader{PacketType: packets.DisconnectType},
				ReasonCode:  packets.ReasonServerShuttingDown,
			})
		}
		s.Disconnect(true)
	})
	return nil
}
