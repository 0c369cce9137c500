package tabs

import (
	"sort"
	"sync"
)

// Claims is the set of tabs discovery has already handed off.
type Claims struct {
	mu   sync.Mutex
	tabs map[TabID]struct{}
}

func NewClaims() *Claims {
	return &Claims{tabs: make(map[TabID]struct{})}
}

// Claim marks tab as tracked. Returns false if it already was.
func (c *Claims) Claim(tab TabID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tabs[tab]; ok {
		return false
	}
	c.tabs[tab] = struct{}{}
	return true
}

func (c *Claims) Unclaim(tab TabID) {
	c.mu.Lock()
	delete(c.tabs, tab)
	c.mu.Unlock()
}

func (c *Claims) Has(tab TabID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tabs[tab]
	return ok
}

// List returns the claimed tabs in ascending order.
func (c *Claims) List() []TabID {
	c.mu.Lock()
	out := make([]TabID, 0, len(c.tabs))
	for t := range c.tabs {
		out = append(out, t)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
