package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/topics"
)

const (
	messagePrefix      = "message:"
	sessionPrefix      = "session:"
	subscriptionPrefix = "subscription:"
	retainedPrefix     = "retained:"
	willPrefix         = "will:"
)

func put(db *badger.DB, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func get(db *badger.DB, key string, v any) error {
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return err
}

func del(db *badger.DB, key string) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func scan(db *badger.DB, prefix string, fn func(key string, val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(db *badger.DB, prefix string) error {
	var keys [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// MessageStore implements storage.MessageStore.
// Key format: message:{clientID}/{kind}/{seq}
type MessageStore struct {
	db *badger.DB
}

func (s *MessageStore) Store(_ context.Context, key string, msg *storage.Message) error {
	return put(s.db, messagePrefix+key, msg)
}

func (s *MessageStore) Get(_ context.Context, key string) (*storage.Message, error) {
	msg := &storage.Message{}
	if err := get(s.db, messagePrefix+key, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageStore) Delete(_ context.Context, key string) error {
	return del(s.db, messagePrefix+key)
}

func (s *MessageStore) List(_ context.Context, prefix string) ([]*storage.Message, error) {
	var result []*storage.Message
	err := scan(s.db, messagePrefix+prefix, func(_ string, val []byte) error {
		msg := &storage.Message{}
		if err := json.Unmarshal(val, msg); err != nil {
			return err
		}
		result = append(result, msg)
		return nil
	})
	return result, err
}

func (s *MessageStore) DeleteByPrefix(_ context.Context, prefix string) error {
	return deletePrefix(s.db, messagePrefix+prefix)
}

// SessionStore implements storage.SessionStore.
// Key format: session:{clientID}
type SessionStore struct {
	db *badger.DB
}

func (s *SessionStore) Get(_ context.Context, clientID string) (*storage.Session, error) {
	sess := &storage.Session{}
	if err := get(s.db, sessionPrefix+clientID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) Save(_ context.Context, sess *storage.Session) error {
	return put(s.db, sessionPrefix+sess.ClientID, sess)
}

func (s *SessionStore) Delete(_ context.Context, clientID string) error {
	return del(s.db, sessionPrefix+clientID)
}

func (s *SessionStore) GetExpired(ctx context.Context, before time.Time) ([]string, error) {
	sessions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, sess := range sessions {
		if sess.Connected || sess.ExpiryInterval == 0xFFFFFFFF {
			continue
		}
		deadline := sess.DisconnectedAt.Add(time.Duration(sess.ExpiryInterval) * time.Second)
		if deadline.Before(before) {
			expired = append(expired, sess.ClientID)
		}
	}
	return expired, nil
}

func (s *SessionStore) List(_ context.Context) ([]*storage.Session, error) {
	var result []*storage.Session
	err := scan(s.db, sessionPrefix, func(_ string, val []byte) error {
		sess := &storage.Session{}
		if err := json.Unmarshal(val, sess); err != nil {
			return err
		}
		result = append(result, sess)
		return nil
	})
	return result, err
}

// SubscriptionStore implements storage.SubscriptionStore.
// Key format: subscription:{clientID}/{filter}
type SubscriptionStore struct {
	db *badger.DB
}

func (s *SubscriptionStore) Add(_ context.Context, sub *storage.Subscription) error {
	return put(s.db, subscriptionPrefix+sub.ClientID+"/"+sub.Filter, sub)
}

func (s *SubscriptionStore) Remove(_ context.Context, clientID, filter string) error {
	return del(s.db, subscriptionPrefix+clientID+"/"+filter)
}

func (s *SubscriptionStore) RemoveAll(_ context.Context, clientID string) error {
	return deletePrefix(s.db, subscriptionPrefix+clientID+"/")
}

func (s *SubscriptionStore) GetForClient(_ context.Context, clientID string) ([]*storage.Subscription, error) {
	var result []*storage.Subscription
	err := scan(s.db, subscriptionPrefix+clientID+"/", func(_ string, val []byte) error {
		sub := &storage.Subscription{}
		if err := json.Unmarshal(val, sub); err != nil {
			return err
		}
		result = append(result, sub)
		return nil
	})
	return result, err
}

func (s *SubscriptionStore) Count(_ context.Context) int {
	n := 0
	_ = scan(s.db, subscriptionPrefix, func(string, []byte) error {
		n++
		return nil
	})
	return n
}

// RetainedStore implements storage.RetainedStore.
// Key format: retained:{topic}
type RetainedStore struct {
	db *badger.DB
}

func (s *RetainedStore) Set(ctx context.Context, topic string, msg *storage.Message) error {
	if len(msg.Payload) == 0 {
		return s.Delete(ctx, topic)
	}
	return put(s.db, retainedPrefix+topic, msg)
}

func (s *RetainedStore) Get(_ context.Context, topic string) (*storage.Message, error) {
	msg := &storage.Message{}
	if err := get(s.db, retainedPrefix+topic, msg); err != nil {
		return nil, err
	}
	if msg.Expired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return msg, nil
}

func (s *RetainedStore) Delete(_ context.Context, topic string) error {
	return del(s.db, retainedPrefix+topic)
}

func (s *RetainedStore) Match(_ context.Context, filter string) ([]*storage.Message, error) {
	now := time.Now()
	var result []*storage.Message
	err := scan(s.db, retainedPrefix, func(key string, val []byte) error {
		topic := strings.TrimPrefix(key, retainedPrefix)
		if !topics.Match(filter, topic) {
			return nil
		}
		msg := &storage.Message{}
		if err := json.Unmarshal(val, msg); err != nil {
			return err
		}
		if msg.Expired(now) {
			return nil
		}
		result = append(result, msg)
		return nil
	})
	return result, err
}

func (s *RetainedStore) DeleteExpired(_ context.Context, before time.Time) error {
	var expired []string
	err := scan(s.db, retainedPrefix, func(key string, val []byte) error {
		msg := &storage.Message{}
		if err := json.Unmarshal(val, msg); err != nil {
			return err
		}
		if msg.Expired(before) {
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *RetainedStore) Count(_ context.Context) int {
	n := 0
	_ = scan(s.db, retainedPrefix, func(string, []byte) error {
		n++
		return nil
	})
	return n
}

// WillStore implements storage.WillStore.
// Key format: will:{clientID}
type WillStore struct {
	db *badger.DB
}

func (s *WillStore) Set(_ context.Context, clientID string, will *storage.WillMessage) error {
	return put(s.db, willPrefix+clientID, will)
}

func (s *WillStore) Get(_ context.Context, clientID string) (*storage.WillMessage, error) {
	will := &storage.WillMessage{}
	if err := get(s.db, willPrefix+clientID, will); err != nil {
		return nil, err
	}
	return will, nil
}

func (s *WillStore) Delete(_ context.Context, clientID string) error {
	return del(s.db, willPrefix+clientID)
}

func (s *WillStore) GetPending(_ context.Context, before time.Time) ([]*storage.WillMessage, error) {
	var pending []*storage.WillMessage
	err := scan(s.db, willPrefix, func(_ string, val []byte) error {
		will := &storage.WillMessage{}
		if err := json.Unmarshal(val, will); err != nil {
			return err
		}
		if !will.TriggerAt.After(before) {
			pending = append(pending, will)
		}
		return nil
	})
	return pending, err
}
