package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/topics"
)

type retainedStore struct {
	mu       sync.RWMutex
	messages map[string]*storage.Message
}

func newRetainedStore() *retainedStore {
	return &retainedStore{messages: make(map[string]*storage.Message)}
}

func (s *retainedStore) Set(_ context.Context, topic string, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[topic] = storage.CopyMessage(msg)
	return nil
}

func (s *retainedStore) Get(_ context.Context, topic string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[topic]
	if !ok || msg.Expired(time.Now()) {
		return nil, storage.ErrNotFound
	}
	return storage.CopyMessage(msg), nil
}

func (s *retainedStore) Delete(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, topic)
	return nil
}

func (s *retainedStore) Match(_ context.Context, filter string) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var result []*storage.Message
	for topic, msg := range s.messages {
		if msg.Expired(now) {
			continue
		}
		if topics.Match(filter, topic) {
			result = append(result, storage.CopyMessage(msg))
		}
	}
	return result, nil
}

func (s *retainedStore) DeleteExpired(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, msg := range s.messages {
		if msg.Expired(before) {
			delete(s.messages, topic)
		}
	}
	return nil
}

func (s *retainedStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
