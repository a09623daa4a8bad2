package broker

import "sync"

// sharedGroups tracks the membership of shared subscription groups and the
// per-group round-robin index. The group key is "{group}/{filter}".
type sharedGroups struct {
	mu     sync.Mutex
	groups map[string]*sharedGroup
}

type sharedGroup struct {
	members []string
	next    int
}

func newSharedGroups() *sharedGroups {
	return &sharedGroups{groups: make(map[string]*sharedGroup)}
}

// Add registers a group member; duplicate adds are ignored.
func (g *sharedGroups) Add(key, clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, ok := g.groups[key]
	if !ok {
		group = &sharedGroup{}
		g.groups[key] = group
	}
	for _, member := range group.members {
		if member == clientID {
			return
		}
	}
	group.members = append(group.members, clientID)
}

// Remove drops a group member, deleting the group when it empties.
func (g *sharedGroups) Remove(key, clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, ok := g.groups[key]
	if !ok {
		return
	}
	for i, member := range group.members {
		if member == clientID {
			group.members = append(group.members[:i], group.members[i+1:]...)
			if group.next >= len(group.members) {
				group.next = 0
			}
			break
		}
	}
	if len(group.members) == 0 {
		delete(g.groups, key)
	}
}

// Next selects the next member in round-robin order, preferring members the
// live predicate accepts. When no member is live, the round-robin choice is
// returned with live=false so the caller can queue offline.
func (g *sharedGroups) Next(key string, isLive func(clientID string) bool) (clientID string, live, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	group, exists := g.groups[key]
	if !exists || len(group.members) == 0 {
		return "", false, false
	}

	n := len(group.members)
	for i := 0; i < n; i++ {
		candidate := group.members[group.next%n]
		group.next = (group.next + 1) % n
		if isLive(candidate) {
			return candidate, true, true
		}
	}

	candidate := group.members[group.next%n]
	group.next = (group.next + 1) % n
	return candidate, false, true
}
