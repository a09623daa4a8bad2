// Package bolt provides a bbolt-backed storage backend, a lighter durable
// alternative to the BadgerDB backend for single-file deployments.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/topics"
)

var _ storage.Store = (*Store)(nil)

var (
	messagesBucket      = []byte("messages")
	sessionsBucket      = []byte("sessions")
	subscriptionsBucket = []byte("subscriptions")
	retainedBucket      = []byte("retained")
	willsBucket         = []byte("wills")
)

// Config holds bbolt configuration.
type Config struct {
	Path string
}

// Store is the composite bbolt store implementing all storage interfaces.
type Store struct {
	db *bolt.DB
}

// New creates a new bbolt-backed store.
func New(cfg Config) (*Store, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{messagesBucket, sessionsBucket, subscriptionsBucket, retainedBucket, willsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Messages() storage.MessageStore           { return &messageStore{db: s.db} }
func (s *Store) Sessions() storage.SessionStore           { return &sessionStore{db: s.db} }
func (s *Store) Subscriptions() storage.SubscriptionStore { return &subscriptionStore{db: s.db} }
func (s *Store) Retained() storage.RetainedStore          { return &retainedStore{db: s.db} }
func (s *Store) Wills() storage.WillStore                 { return &willStore{db: s.db} }

func (s *Store) Close() error { return s.db.Close() }

func putJSON(db *bolt.DB, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func getJSON(db *bolt.DB, bucket []byte, key string, v any) error {
	return db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func deleteKey(db *bolt.DB, bucket []byte, key string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func scanPrefix(db *bolt.DB, bucket []byte, prefix string, fn func(key string, val []byte) error) error {
	return db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteByPrefix(db *bolt.DB, bucket []byte, prefix string) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		c := b.Cursor()
		p := []byte(prefix)
		var keys [][]byte
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

type messageStore struct {
	db *bolt.DB
}

func (s *messageStore) Store(_ context.Context, key string, msg *storage.Message) error {
	return putJSON(s.db, messagesBucket, key, msg)
}

func (s *messageStore) Get(_ context.Context, key string) (*storage.Message, error) {
	msg := &storage.Message{}
	if err := getJSON(s.db, messagesBucket, key, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *messageStore) Delete(_ context.Context, key string) error {
	return deleteKey(s.db, messagesBucket, key)
}

func (s *messageStore) List(_ context.Context, prefix string) ([]*storage.Message, error) {
	var result []*storage.Message
	err := scanPrefix(s.db, messagesBucket, prefix, func(_ string, val []byte) error {
		msg := &storage.Message{}
		if err := json.Unmarshal(val, msg); err != nil {
			return err
		}
		result = append(result, msg)
		return nil
	})
	return result, err
}

func (s *messageStore) DeleteByPrefix(_ context.Context, prefix string) error {
	return deleteByPrefix(s.db, messagesBucket, prefix)
}

type sessionStore struct {
	db *bolt.DB
}

func (s *sessionStore) Get(_ context.Context, clientID string) (*storage.Session, error) {
	sess := &storage.Session{}
	if err := getJSON(s.db, sessionsBucket, clientID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *sessionStore) Save(_ context.Context, sess *storage.Session) error {
	return putJSON(s.db, sessionsBucket, sess.ClientID, sess)
}

func (s *sessionStore) Delete(_ context.Context, clientID string) error {
	return deleteKey(s.db, sessionsBucket, clientID)
}

func (s *sessionStore) GetExpired(ctx context.Context, before time.Time) ([]string, error) {
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

func (s *sessionStore) List(_ context.Context) ([]*storage.Session, error) {
	var result []*storage.Session
	err := scanPrefix(s.db, sessionsBucket, "", func(_ string, val []byte) error {
		sess := &storage.Session{}
		if err := json.Unmarshal(val, sess); err != nil {
			return err
		}
		result = append(result, sess)
		return nil
	})
	return result, err
}

type subscriptionStore struct {
	db *bolt.DB
}

func (s *subscriptionStore) Add(_ context.Context, sub *storage.Subscription) error {
	return putJSON(s.db, subscriptionsBucket, sub.ClientID+"/"+sub.Filter, sub)
}

func (s *subscriptionStore) Remove(_ context.Context, clientID, filter string) error {
	return deleteKey(s.db, subscriptionsBucket, clientID+"/"+filter)
}

func (s *subscriptionStore) RemoveAll(_ context.Context, clientID string) error {
	return deleteByPrefix(s.db, subscriptionsBucket, clientID+"/")
}

func (s *subscriptionStore) GetForClient(_ context.Context, clientID string) ([]*storage.Subscription, error) {
	var result []*storage.Subscription
	err := scanPrefix(s.db, subscriptionsBucket, clientID+"/", func(_ string, val []byte) error {
		sub := &storage.Subscription{}
		if err := json.Unmarshal(val, sub); err != nil {
			return err
		}
		result = append(result, sub)
		return nil
	})
	return result, err
}

func (s *subscriptionStore) Count(_ context.Context) int {
	n := 0
	_ = scanPrefix(s.db, subscriptionsBucket, "", func(string, []byte) error {
		n++
		return nil
	})
	return n
}

type retainedStore struct {
	db *bolt.DB
}

func (s *retainedStore) Set(ctx context.Context, topic string, msg *storage.Message) error {
	if len(msg.Payload) == 0 {
		return s.Delete(ctx, topic)
	}
	return putJSON(s.db, retainedBucket, topic, msg)
}

func (s *retainedStore) Get(_ context.Context, topic string) (*storage.Message, error) {
	msg := &storage.Message{}
	if err := getJSON(s.db, retainedBucket, topic, msg); err != nil {
		return nil, err
	}
	if msg.Expired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return msg, nil
}

func (s *retainedStore) Delete(_ context.Context, topic string) error {
	return deleteKey(s.db, retainedBucket, topic)
}

func (s *retainedStore) Match(_ context.Context, filter string) ([]*storage.Message, error) {
	now := time.Now()
	var result []*storage.Message
	err := scanPrefix(s.db, retainedBucket, "", func(topic string, val []byte) error {
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

func (s *retainedStore) DeleteExpired(_ context.Context, before time.Time) error {
	var expired []string
	err := scanPrefix(s.db, retainedBucket, "", func(topic string, val []byte) error {
		msg := &storage.Message{}
		if err := json.Unmarshal(val, msg); err != nil {
			return err
		}
		if msg.Expired(before) {
			expired = append(expired, topic)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, topic := range expired {
		if err := deleteKey(s.db, retainedBucket, topic); err != nil {
			return err
		}
	}
	return nil
}

func (s *retainedStore) Count(_ context.Context) int {
	n := 0
	_ = scanPrefix(s.db, retainedBucket, "", func(string, []byte) error {
		n++
		return nil
	})
	return n
}

type willStore struct {
	db *bolt.DB
}

func (s *willStore) Set(_ context.Context, clientID string, will *storage.WillMessage) error {
	return putJSON(s.db, willsBucket, clientID, will)
}

func (s *willStore) Get(_ context.Context, clientID string) (*storage.WillMessage, error) {
	will := &storage.WillMessage{}
	if err := getJSON(s.db, willsBucket, clientID, will); err != nil {
		return nil, err
	}
	return will, nil
}

func (s *willStore) Delete(_ context.Context, clientID string) error {
	return deleteKey(s.db, willsBucket, clientID)
}

func (s *willStore) GetPending(_ context.Context, before time.Time) ([]*storage.WillMessage, error) {
	var pending []*storage.WillMessage
	err := scanPrefix(s.db, willsBucket, "", func(_ string, val []byte) error {
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
