// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prevout implements the previous-output resolver cache: a bounded
// LRU mapping (txid, vout) -> Output, refilled in bulk on miss via the
// upstream node.
package prevout

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"

	"github.com/secnot/btcbalance/addr"
)

// DefaultCapacity is the default number of (txid, vout) entries retained.
const DefaultCapacity = 1000000

// Err is the error type for this package.
var Err = er.NewErrorType("prevout.Err")

// VoutNotFound is returned when the fetched transaction exists but does not
// have the requested output index - the upstream node answered, but its
// view of the transaction disagrees with the caller's, the same chain-data
// taxonomy as rpc.ChainInconsistency.
var VoutNotFound = Err.CodeWithDefault("VoutNotFound", nil)

// Fetcher retrieves a full transaction from the upstream node, the only
// external collaborator this cache needs. It is implemented by *rpc.Client.
type Fetcher interface {
	GetRawTransactionOutputs(txid *chainhash.Hash) ([]addr.Output, er.R)
}

type key struct {
	txid chainhash.Hash
	vout uint32
}

// Cache is a bounded, LRU-ordered (txid, vout) -> Output map. It is safe for
// concurrent use, though in this program it is only ever touched by the
// single driver goroutine assembling blocks (see package follower).
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache
	fetcher Fetcher

	hits   uint64
	misses uint64
}

// New creates a Cache of the given capacity backed by fetcher.
func New(capacity int, fetcher Fetcher) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		lru:     lru.New(capacity),
		fetcher: fetcher,
	}
}

// Insert adds an output to the cache, evicting the least-recently-used entry
// if the cache is over capacity.
func (c *Cache) Insert(o addr.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key{o.Txid, o.Vout}, o)
}

// Clear empties the cache. Used after a backtrack, since prevouts that were
// only reachable through the backtracked blocks may no longer be valid to
// serve from cache (their funding transaction could itself be orphaned).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
}

// Get resolves (txid, vout) to the Output it names. On a cache miss it fetches
// the owning transaction from the upstream node and inserts every one of its
// outputs before returning - a single getrawtransaction RPC commonly supplies
// several inputs' worth of prevouts at once, amortizing the round trip.
func (c *Cache) Get(txid *chainhash.Hash, vout uint32) (addr.Output, er.R) {
	c.mu.Lock()
	if v, ok := c.lru.Get(key{*txid, vout}); ok {
		c.hits++
		c.mu.Unlock()
		return v.(addr.Output), nil
	}
	c.misses++
	c.mu.Unlock()

	outs, err := c.fetcher.GetRawTransactionOutputs(txid)
	if err != nil {
		return addr.Output{}, err
	}

	c.mu.Lock()
	for _, o := range outs {
		c.lru.Add(key{o.Txid, o.Vout}, o)
	}
	v, ok := c.lru.Get(key{*txid, vout})
	c.mu.Unlock()
	if !ok {
		return addr.Output{}, VoutNotFound.New(fmt.Sprintf("vout %d not present on transaction %s", vout, txid), nil)
	}
	return v.(addr.Output), nil
}

// Stats reports hit/miss counters, mainly for log lines and tests.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
