// Package memory provides the in-memory storage backend. State is lost on
// restart; QoS 2 exactly-once across restarts is therefore not guaranteed
// with this backend.
package memory

import "github.com/driftmq/driftmq/storage"

// Store is the in-memory composite store.
type Store struct {
	messages      *messageStore
	sessions      *sessionStore
	subscriptions *subscriptionStore
	retained      *retainedStore
	wills         *willStore
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		messages:      newMessageStore(),
		sessions:      newSessionStore(),
		subscriptions: newSubscriptionStore(),
		retained:      newRetainedStore(),
		wills:         newWillStore(),
	}
}

func (s *Store) Messages() storage.MessageStore           { return s.messages }
func (s *Store) Sessions() storage.SessionStore           { return s.sessions }
func (s *Store) Subscriptions() storage.SubscriptionStore { return s.subscriptions }
func (s *Store) Retained() storage.RetainedStore          { return s.retained }
func (s *Store) Wills() storage.WillStore                 { return s.wills }

func (s *Store) Close() error { return nil }
