package session

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Cache is the live session registry keyed by client id.
type Cache interface {
	Get(clientID string) *Session
	Set(clientID string, s *Session)
	Delete(clientID string)
	ForEach(fn func(s *Session))
	Len() int
}

// shardedCache spreads sessions over fixed shards to reduce lock contention
// on the hot lookup path.
type shardedCache struct {
	shards [shardCount]cacheShard
}

type cacheShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewShardedCache creates a new sharded session cache.
func NewShardedCache() Cache {
	c := &shardedCache{}
	for i := range c.shards {
		c.shards[i].sessions = make(map[string]*Session)
	}
	return c
}

func (c *shardedCache) shard(clientID string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return &c.shards[h.Sum32()%shardCount]
}

func (c *shardedCache) Get(clientID string) *Session {
	shard := c.shard(clientID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.sessions[clientID]
}

func (c *shardedCache) Set(clientID string, s *Session) {
	shard := c.shard(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.sessions[clientID] = s
}

func (c *shardedCache) Delete(clientID string) {
	shard := c.shard(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.sessions, clientID)
}

func (c *shardedCache) ForEach(fn func(s *Session)) {
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.RLock()
		snapshot := make([]*Session, 0, len(shard.sessions))
		for _, s := range shard.sessions {
			snapshot = append(snapshot, s)
		}
		shard.mu.RUnlock()

		for _, s := range snapshot {
			fn(s)
		}
	}
}

func (c *shardedCache) Len() int {
	n := 0
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.RLock()
		n += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return n
}
