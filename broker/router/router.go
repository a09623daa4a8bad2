// Package router implements the subscription trie used for topic matching.
package router

import (
	"strings"
	"sync"

	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/topics"
)

const separator = "/"

// Router is the reader-writer locked subscription trie. Shared subscription
// filters are indexed under their nested filter with the group preserved on
// the subscription record.
type Router struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	children map[string]*node
	subs     []*storage.Subscription
}

// New returns a new Router.
func New() *Router {
	return &Router{root: newNode()}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// indexFilter returns the filter levels a subscription is stored under.
func indexFilter(filter string) string {
	if _, tail, shared := topics.ParseShared(filter); shared {
		return tail
	}
	return filter
}

// Subscribe adds a subscription to the trie. An existing subscription for the
// same client and filter is replaced in place.
func (r *Router) Subscribe(sub *storage.Subscription) {
	levels := strings.Split(indexFilter(sub.Filter), separator)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.root
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}

	for i, existing := range n.subs {
		if existing.ClientID == sub.ClientID && existing.Filter == sub.Filter {
			n.subs[i] = sub
			return
		}
	}
	n.subs = append(n.subs, sub)
}

// Unsubscribe removes a client's subscription from the trie, pruning branches
// left empty. It reports whether a subscription was removed.
func (r *Router) Unsubscribe(clientID, filter string) bool {
	levels := strings.Split(indexFilter(filter), separator)

	r.mu.Lock()
	defer r.mu.Unlock()

	return unsubscribe(r.root, levels, 0, clientID, filter)
}

func unsubscribe(n *node, levels []string, index int, clientID, filter string) bool {
	if index == len(levels) {
		for i, sub := range n.subs {
			if sub.ClientID == clientID && sub.Filter == filter {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return true
			}
		}
		return false
	}

	level := levels[index]
	child, ok := n.children[level]
	if !ok {
		return false
	}

	removed := unsubscribe(child, levels, index+1, clientID, filter)
	if removed && len(child.subs) == 0 && len(child.children) == 0 {
		delete(n.children, level)
	}
	return removed
}

// Match returns all subscriptions whose filter matches the topic name.
// Topics whose first level begins with '$' are not matched by '+' or '#' at
// the root.
func (r *Router) Match(topic string) []*storage.Subscription {
	levels := strings.Split(topic, separator)
	reserved := strings.HasPrefix(topic, "$")

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*storage.Subscription
	matchLevel(r.root, levels, 0, reserved, &matched)
	return matched
}

func matchLevel(n *node, levels []string, index int, reserved bool, matched *[]*storage.Subscription) {
	if index == len(levels) {
		*matched = append(*matched, n.subs...)
		// "sport/#" also matches "sport" alone.
		if wild, ok := n.children["#"]; ok {
			*matched = append(*matched, wild.subs...)
		}
		return
	}

	level := levels[index]

	if child, ok := n.children[level]; ok {
		matchLevel(child, levels, index+1, false, matched)
	}

	// Wildcards never match a leading '$' level.
	if reserved && index == 0 {
		return
	}

	if child, ok := n.children["+"]; ok {
		matchLevel(child, levels, index+1, false, matched)
	}
	if child, ok := n.children["#"]; ok {
		*matched = append(*matched, child.subs...)
	}
}

// RemoveAll removes every subscription owned by the client. It returns the
// removed subscriptions.
func (r *Router) RemoveAll(clientID string) []*storage.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*storage.Subscription
	removeAll(r.root, clientID, &removed)
	return removed
}

func removeAll(n *node, clientID string, removed *[]*storage.Subscription) {
	filtered := n.subs[:0]
	for _, sub := range n.subs {
		if sub.ClientID == clientID {
			*removed = append(*removed, sub)
		} else {
			filtered = append(filtered, sub)
		}
	}
	n.subs = filtered

	for level, child := range n.children {
		removeAll(child, clientID, removed)
		if len(child.subs) == 0 && len(child.children) == 0 {
			delete(n.children, level)
		}
	}
}

// Count returns the number of subscriptions in the trie.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return count(r.root)
}

func count(n *node) int {
	total := len(n.subs)
	for _, child := range n.children {
		total += count(child)
	}
	return total
}
