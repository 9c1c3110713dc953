/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: dedup.go
Description: DedupCache remembers the States seen on the base device and on each guest.
A divergence is novel only when neither side's State has been seen before, so one UI
difference is reported once no matter how often the fuzzer walks into it again.
The cache never evicts.
*/

package analysis

import (
	"sync"

	"github.com/kleascm/akaylee-droid/pkg/hierarchy"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"
)

type stateSet struct {
	seen  map[string]struct{}
	order []string
}

func newStateSet() *stateSet { return &stateSet{seen: make(map[string]struct{})} }

func (s *stateSet) has(st *hierarchy.State) bool {
	if st == nil {
		return false
	}
	_, ok := s.seen[st.Hash()]
	return ok
}

func (s *stateSet) add(st *hierarchy.State) {
	if st == nil || s.has(st) {
		return
	}
	s.seen[st.Hash()] = struct{}{}
	s.order = append(s.order, st.Hash())
}

// DedupCache holds the base list and one list per guest role.
type DedupCache struct {
	mu     sync.Mutex
	base   *stateSet
	guests map[interfaces.Role]*stateSet
}

// NewDedupCache creates an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{base: newStateSet(), guests: make(map[interfaces.Role]*stateSet)}
}

func (c *DedupCache) guest(role interfaces.Role) *stateSet {
	g, ok := c.guests[role]
	if !ok {
		g = newStateSet()
		c.guests[role] = g
	}
	return g
}

// Novel reports whether neither State of the pair has been seen.
func (c *DedupCache) Novel(base, guest *hierarchy.State, role interfaces.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.base.has(base) && !c.guest(role).has(guest)
}

// AddBase records a base State.
func (c *DedupCache) AddBase(s *hierarchy.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base.add(s)
}

// AddGuest records a guest State.
func (c *DedupCache) AddGuest(role interfaces.Role, s *hierarchy.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guest(role).add(s)
}

// Len returns the number of distinct States stored across all lists.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.base.order)
	for _, g := range c.guests {
		n += len(g.order)
	}
	return n
}

// Reset empties the cache.
func (c *DedupCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = newStateSet()
	c.guests = make(map[interfaces.Role]*stateSet)
}
