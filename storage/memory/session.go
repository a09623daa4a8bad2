package memory

import (
	"context"
	"sync"
	"time"

	"github.com/driftmq/driftmq/storage"
)

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*storage.Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*storage.Session)}
}

func (s *sessionStore) Get(_ context.Context, clientID string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *sessionStore) Save(_ context.Context, sess *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.sessions[sess.ClientID] = &cp
	return nil
}

func (s *sessionStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, clientID)
	return nil
}

func (s *sessionStore) GetExpired(_ context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []string
	for clientID, sess := range s.sessions {
		if sess.Connected || sess.ExpiryInterval == 0xFFFFFFFF {
			continue
		}
		deadline := sess.DisconnectedAt.Add(time.Duration(sess.ExpiryInterval) * time.Second)
		if deadline.Before(before) {
			expired = append(expired, clientID)
		}
	}
	return expired, nil
}

func (s *sessionStore) List(_ context.Context) ([]*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		result = append(result, &cp)
	}
	return result, nil
}
