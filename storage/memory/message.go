package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/driftmq/driftmq/storage"
)

type messageStore struct {
	mu       sync.RWMutex
	messages map[string]*storage.Message
}

func newMessageStore() *messageStore {
	return &messageStore{messages: make(map[string]*storage.Message)}
}

func (s *messageStore) Store(_ context.Context, key string, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[key] = storage.CopyMessage(msg)
	return nil
}

func (s *messageStore) Get(_ context.Context, key string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyMessage(msg), nil
}

func (s *messageStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, key)
	return nil
}

func (s *messageStore) List(_ context.Context, prefix string) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.messages {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	result := make([]*storage.Message, 0, len(keys))
	for _, key := range keys {
		result = append(result, storage.CopyMessage(s.messages[key]))
	}
	return result, nil
}

func (s *messageStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.messages {
		if strings.HasPrefix(key, prefix) {
			delete(s.messages, key)
		}
	}
	return nil
}
