package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/satellite-tracker/model"
)

// Entry is the per-object cache record. Positions are immutable values, so a
// copied Entry never aliases mutable state.
type Entry struct {
	LastReal      *model.Position
	LastRealFetch time.Time
	LastEmitted   *model.Position
	LastEmittedAt time.Time
	Metadata      *model.ObjectMetadata
}

// HasReal reports whether a real fix has ever been stored.
func (e Entry) HasReal() bool { return e.LastReal != nil }

// Populated reports whether anything has been written to the entry.
func (e Entry) Populated() bool {
	return e.LastReal != nil || e.LastEmitted != nil || e.Metadata != nil
}

// RealAge returns how long ago the real fix was fetched.
func (e Entry) RealAge(now time.Time) time.Duration {
	if e.LastReal == nil {
		return 0
	}
	return now.Sub(e.LastRealFetch)
}

// Item pairs an object id with a copy of its entry.
type Item struct {
	ID    int
	Entry Entry
}

type slot struct {
	mu    sync.RWMutex
	entry Entry
}

// Cache stores one Entry per tracked object. Each object has its own lock so
// different objects can be written in parallel while writes to the same
// object are serialized. Readers always get a consistent copy.
type Cache struct {
	mu    sync.RWMutex
	slots map[int]*slot
}

// New creates empty entries for ids.
func New(ids []int) *Cache {
	c := &Cache{slots: make(map[int]*slot, len(ids))}
	for _, id := range ids {
		c.slots[id] = &slot{}
	}
	return c
}

func (c *Cache) slot(id int, create bool) *slot {
	c.mu.RLock()
	s, ok := c.slots[id]
	c.mu.RUnlock()
	if ok || !create {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.slots[id]; !ok {
		s = &slot{}
		c.slots[id] = s
	}
	return s
}

// Get returns a copy of the entry for id. ok is false for unknown ids and for
// entries that have never been written.
func (c *Cache) Get(id int) (Entry, bool) {
	s := c.slot(id, false)
	if s == nil {
		return Entry{}, false
	}
	s.mu.RLock()
	e := s.entry
	s.mu.RUnlock()
	return e, e.Populated()
}

// Put replaces the entry for id wholesale.
func (c *Cache) Put(id int, e Entry) {
	s := c.slot(id, true)
	s.mu.Lock()
	s.entry = e
	s.mu.Unlock()
}

// Update runs fn under the object's write lock. fn receives the current entry
// and returns the replacement plus whether to store it. fn must not block on
// I/O.
func (c *Cache) Update(id int, fn func(Entry) (Entry, bool)) (Entry, bool) {
	s := c.slot(id, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	next, store := fn(s.entry)
	if !store {
		return s.entry, false
	}
	s.entry = next
	return next, true
}

// RecordReal stores a real fix fetched at fetchedAt. A fix older than the one
// already stored is ignored and false is returned.
func (c *Cache) RecordReal(id int, pos model.Position, fetchedAt time.Time) bool {
	_, ok := c.Update(id, func(e Entry) (Entry, bool) {
		if e.LastReal != nil && pos.Timestamp.Before(e.LastReal.Timestamp) {
			return e, false
		}
		p := pos
		e.LastReal = &p
		e.LastRealFetch = fetchedAt
		return e, true
	})
	return ok
}

// Emit records pos as the latest value shown to clients. Positions older than
// the last emitted one are discarded so each object's updates are delivered
// in non-decreasing timestamp order.
func (c *Cache) Emit(id int, pos model.Position, at time.Time) bool {
	_, ok := c.Update(id, func(e Entry) (Entry, bool) {
		if e.LastEmitted != nil && pos.Timestamp.Before(e.LastEmitted.Timestamp) {
			return e, false
		}
		p := pos
		e.LastEmitted = &p
		e.LastEmittedAt = at
		return e, true
	})
	return ok
}

// SetMetadata stores upstream metadata for id.
func (c *Cache) SetMetadata(id int, md model.ObjectMetadata) {
	c.Update(id, func(e Entry) (Entry, bool) {
		m := md
		e.Metadata = &m
		return e, true
	})
}

// SnapshotAll returns a copy of every entry, including empty ones, sorted by
// object id.
func (c *Cache) SnapshotAll() []Item {
	c.mu.RLock()
	ids := make([]int, 0, len(c.slots))
	slots := make(map[int]*slot, len(c.slots))
	for id, s := range c.slots {
		ids = append(ids, id)
		slots[id] = s
	}
	c.mu.RUnlock()

	sort.Ints(ids)
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		s := slots[id]
		s.mu.RLock()
		out = append(out, Item{ID: id, Entry: s.entry})
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}
