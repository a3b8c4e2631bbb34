// Package mention translates between the wire form of mentions (opaque
// ID-bearing tokens) and the human-readable form internal processing works
// with, backed by a process-wide bidirectional name cache.
package mention

import (
	"strings"
	"sync"
)

// Kind classifies a mentionable entity.
type Kind string

const (
	KindUser    Kind = "user"
	KindChannel Kind = "channel"
	KindRole    Kind = "role"
)

// Cache is the process-wide bidirectional (name, ID) mapping, populated
// opportunistically from every observed message and on-demand lookup.
// Entries are never evicted; the key space is the observed population of
// small strings. Safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	byName map[Kind]map[string]string
	byID   map[Kind]map[string]string
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	c := &Cache{
		byName: make(map[Kind]map[string]string),
		byID:   make(map[Kind]map[string]string),
	}
	for _, kind := range []Kind{KindUser, KindChannel, KindRole} {
		c.byName[kind] = make(map[string]string)
		c.byID[kind] = make(map[string]string)
	}
	return c
}

// Put records a (name, ID) pair in both directions. Empty names or IDs are
// ignored. Name matching is case-insensitive.
func (c *Cache) Put(kind Kind, name, id string) {
	name = strings.TrimSpace(name)
	id = strings.TrimSpace(id)
	if name == "" || id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[kind][strings.ToLower(name)] = id
	c.byID[kind][id] = name
}

// IDByName resolves a name to its platform ID.
func (c *Cache) IDByName(kind Kind, name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[kind][strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// NameByID resolves a platform ID to its last observed name.
func (c *Cache) NameByID(kind Kind, id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[kind][strings.TrimSpace(id)]
	return name, ok
}

// Len returns the number of ID entries for the given kind.
func (c *Cache) Len(kind Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID[kind])
}
