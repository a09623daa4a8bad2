package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driftmq/driftmq/storage"
)

type willStore struct {
	mu    sync.RWMutex
	wills map[string]*storage.WillMessage
}

func newWillStore() *willStore {
	return &willStore{wills: make(map[string]*storage.WillMessage)}
}

func (s *willStore) Set(_ context.Context, clientID string, will *storage.WillMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *will
	s.wills[clientID] = &cp
	return nil
}

func (s *willStore) Get(_ context.Context, clientID string) (*storage.WillMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	will, ok := s.wills[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *will
	return &cp, nil
}

func (s *willStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wills, clientID)
	return nil
}

func (s *willStore) GetPending(_ context.Context, before time.Time) ([]*storage.WillMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*storage.WillMessage
	for _, will := range s.wills {
		if !will.TriggerAt.After(before) {
			cp := *will
			pending = append(pending, &cp)
		}
	}
	return pending, nil
}
