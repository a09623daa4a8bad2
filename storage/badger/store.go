// Package badger provides a BadgerDB-backed storage backend.
package badger

import (
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/driftmq/driftmq/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite BadgerDB store implementing all storage interfaces.
type Store struct {
	db *badger.DB

	messages      *MessageStore
	sessions      *SessionStore
	subscriptions *SubscriptionStore
	retained      *RetainedStore
	wills         *WillStore

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir string
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	// Async writes: MQTT messages are transient and can be re-delivered.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:            db,
		messages:      &MessageStore{db: db},
		sessions:      &SessionStore{db: db},
		subscriptions: &SubscriptionStore{db: db},
		retained:      &RetainedStore{db: db},
		wills:         &WillStore{db: db},
		gcStopCh:      make(chan struct{}),
		gcDone:        make(chan struct{}),
	}

	go s.runGC()

	return s, nil
}

func (s *Store) Messages() storage.MessageStore           { return s.messages }
func (s *Store) Sessions() storage.SessionStore           { return s.sessions }
func (s *Store) Subscriptions() storage.SubscriptionStore { return s.subscriptions }
func (s *Store) Retained() storage.RetainedStore          { return s.retained }
func (s *Store) Wills() storage.WillStore                 { return s.wills }

// Close gracefully closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Returns an error when no GC was needed, which is fine.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
