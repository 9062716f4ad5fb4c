// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package balance implements the write-back BalanceCache and the
// recent-blocks BalanceProcessor that sits in front of it.
package balance

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkt-cash/pktd/btcutil/er"
)

// DefaultCacheCapacity is the default number of addresses held in Cache's
// base layer.
const DefaultCacheCapacity = 500000

// Store is the durable collaborator a Cache writes confirmed balances
// through to. *store.Store implements this.
type Store interface {
	Get(address string, def int64) (int64, er.R)
	GetBulk(addrs []string) (map[string]int64, er.R)
	Update(insert, update map[string]int64, del map[string]struct{}, height int32) er.R
	Height() (int32, er.R)
}

// Cache is the write-back BalanceCache: an LRU baseline layer ("base") plus
// an unbounded map of deltas not yet written through to the durable store
// ("pending"). Get is linearizable with Update and Commit under the single
// internal lock; Update must never be called concurrently with Commit - the
// sole caller, Processor, enforces this by performing both serially.
type Cache struct {
	mu    sync.Mutex
	base  *lru.Cache
	store Store

	pending    map[string]int64
	tipHeight  int32
	trimLocked bool
	capacity   int

	hits   uint64
	misses uint64
}

// NewCache creates a Cache of the given base capacity backed by s. The
// persisted tip height is loaded immediately so Processor can resume from it.
func NewCache(capacity int, s Store) (*Cache, er.R) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	h, err := s.Height()
	if err != nil {
		return nil, err
	}
	return &Cache{
		base:      lru.New(capacity),
		store:     s,
		pending:   make(map[string]int64),
		tipHeight: h,
		capacity:  capacity,
	}, nil
}

// TipHeight returns the store's tip height as of the last commit.
func (c *Cache) TipHeight() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tipHeight
}

// PendingLen reports the number of addresses with an uncommitted delta, used
// by Processor to decide when a commit is due.
func (c *Cache) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Get returns the current balance for address: base value plus any pending
// delta. A miss loads the durable baseline, inserts it into base (possibly
// evicting the least-recently-used entry) and retries.
func (c *Cache) Get(address string) (int64, er.R) {
	c.mu.Lock()
	for {
		if v, ok := c.base.Get(address); ok {
			c.hits++
			value := v.(int64) + c.pending[address]
			c.mu.Unlock()
			return value, nil
		}
		c.misses++
		c.mu.Unlock()

		baseline, err := c.store.Get(address, 0)
		if err != nil {
			return 0, err
		}

		c.mu.Lock()
		if _, ok := c.base.Get(address); !ok {
			c.base.Add(address, baseline)
			c.trimBase()
		}
	}
}

// Stats reports hit/miss counters, mainly for metrics and tests.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Update adds delta to address's pending balance. A delta of 0 is ignored;
// an update that brings the pending delta back to 0 removes the entry.
func (c *Cache) Update(address string, delta int64) {
	if delta == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.pending[address] + delta
	if v == 0 {
		delete(c.pending, address)
		return
	}
	c.pending[address] = v
}

// Commit flushes every pending delta through to the durable store as of
// height, which must be >= the current tip height. A height equal to the
// current tip is a no-op.
func (c *Cache) Commit(height int32) er.R {
	c.mu.Lock()
	if height < c.tipHeight {
		c.mu.Unlock()
		return er.Errorf("commit height %d precedes tip height %d", height, c.tipHeight)
	}
	if height == c.tipHeight {
		c.mu.Unlock()
		return nil
	}

	// Disable trim: an eviction mid-commit could drop a baseline this
	// commit still needs in order to classify a pending delta correctly.
	c.trimLocked = true

	toLoad := make([]string, 0, len(c.pending))
	for a := range c.pending {
		if _, ok := c.base.Get(a); !ok {
			toLoad = append(toLoad, a)
		}
	}
	c.mu.Unlock()

	var loaded map[string]int64
	if len(toLoad) > 0 {
		var err er.R
		loaded, err = c.store.GetBulk(toLoad)
		if err != nil {
			c.mu.Lock()
			c.trimLocked = false
			c.mu.Unlock()
			return err
		}
	}

	c.mu.Lock()
	for _, a := range toLoad {
		c.base.Add(a, loaded[a])
	}

	insert := make(map[string]int64)
	update := make(map[string]int64)
	del := make(map[string]struct{})
	for a, delta := range c.pending {
		bv, _ := c.base.Get(a)
		b := bv.(int64)
		v := b + delta
		switch {
		case b == 0:
			insert[a] = v
		case v == 0:
			del[a] = struct{}{}
		default:
			update[a] = v
		}
	}

	// Merge into base: every reader from this point on sees the
	// post-commit balance even though the durable write hasn't happened
	// yet, because that write is about to make the store agree.
	for a, delta := range c.pending {
		bv, _ := c.base.Get(a)
		c.base.Add(a, bv.(int64)+delta)
	}
	c.pending = make(map[string]int64)
	c.tipHeight = height
	c.mu.Unlock()

	// No read lock held here: Update cannot run concurrently with Commit
	// (Processor's contract), and every baseline this write needs is
	// already materialized in base.
	if err := c.store.Update(insert, update, del, height); err != nil {
		return err
	}

	c.mu.Lock()
	c.trimLocked = false
	c.trimBase()
	c.mu.Unlock()
	return nil
}

// trimBase shrinks base back to capacity by evicting least-recently-used
// entries. Callers must hold mu. It is a no-op while trimLocked.
func (c *Cache) trimBase() {
	if c.trimLocked {
		return
	}
	for c.base.Len() > c.capacity {
		c.base.RemoveOldest()
	}
}
