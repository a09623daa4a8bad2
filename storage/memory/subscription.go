package memory

import (
	"context"
	"sync"

	"github.com/driftmq/driftmq/storage"
)

type subscriptionStore struct {
	mu sync.RWMutex
	// clientID -> filter -> subscription
	subs map[string]map[string]*storage.Subscription
}

func newSubscriptionStore() *subscriptionStore {
	return &subscriptionStore{subs: make(map[string]map[string]*storage.Subscription)}
}

func (s *subscriptionStore) Add(_ context.Context, sub *storage.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientSubs, ok := s.subs[sub.ClientID]
	if !ok {
		clientSubs = make(map[string]*storage.Subscription)
		s.subs[sub.ClientID] = clientSubs
	}
	clientSubs[sub.Filter] = storage.CopySubscription(sub)
	return nil
}

func (s *subscriptionStore) Remove(_ context.Context, clientID, filter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientSubs, ok := s.subs[clientID]; ok {
		delete(clientSubs, filter)
		if len(clientSubs) == 0 {
			delete(s.subs, clientID)
		}
	}
	return nil
}

func (s *subscriptionStore) RemoveAll(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, clientID)
	return nil
}

func (s *subscriptionStore) GetForClient(_ context.Context, clientID string) ([]*storage.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientSubs, ok := s.subs[clientID]
	if !ok {
		return nil, nil
	}

	result := make([]*storage.Subscription, 0, len(clientSubs))
	for _, sub := range clientSubs {
		result = append(result, storage.CopySubscription(sub))
	}
	return result, nil
}

func (s *subscriptionStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, clientSubs := range s.subs {
		n += len(clientSubs)
	}
	return n
}
