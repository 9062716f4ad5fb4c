package balance

import (
	"sync"
	"time"

	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"

	"github.com/secnot/btcbalance/chainblock"
)

// ProcessorErr is the error type for this package's Processor.
var ProcessorErr = er.NewErrorType("balance.ProcessorErr")

// BacktrackLimitReached is returned by Backtrack when the ring of recent
// blocks is already empty - a reorg deeper than the ring's depth W, which
// this program cannot absorb without a resync.
var BacktrackLimitReached = ProcessorErr.CodeWithDefault("BacktrackLimitReached", nil)

// commitPendingThreshold and commitIdlePeriod are the two triggers that
// cause add_block to flush the write-back cache: too many uncommitted
// addresses, or too long since the last flush.
const (
	commitPendingThreshold = 30000
	commitIdlePeriod       = 30 * time.Second
)

// TxRecord is one credit or debit a block applied to an address, retained in
// the ring so recent activity can be reported without a store round trip.
type TxRecord struct {
	Txid   chainhash.Hash
	Value  int64
	Height int32
}

// Processor is the BalanceProcessor: a bounded ring of the W most recent
// blocks, a per-address running sum of the deltas those blocks carry, and the
// write-back Cache that absorbs blocks once they fall out of the ring.
//
// Invariant: for every address a, balance(a) = store(a) + cache.pending(a) +
// sum of deltas from blocks currently in the ring. Each operation below is a
// transactional rearrangement that conserves this sum.
type Processor struct {
	mu    sync.Mutex
	ring  []*chainblock.Block
	depth int

	pendingDeltas map[string]int64
	records       map[string][]TxRecord

	cache *Cache

	lastCommit time.Time
}

// NewProcessor creates a Processor that backs onto cache and retains up to
// depth blocks in its ring before confirming them into the cache.
func NewProcessor(depth int, cache *Cache) *Processor {
	if depth <= 0 {
		depth = 100
	}
	return &Processor{
		depth:         depth,
		pendingDeltas: make(map[string]int64),
		records:       make(map[string][]TxRecord),
		cache:         cache,
		lastCommit:    time.Now(),
	}
}

// blockRecords enumerates the (address, signed delta) pairs a block carries:
// outputs credit their address, non-coinbase inputs debit theirs. Outputs
// with no recognized address and coinbase inputs are skipped entirely.
func blockRecords(b *chainblock.Block) []addressRecord {
	out := make([]addressRecord, 0, len(b.Outputs)+len(b.Inputs))
	for _, o := range b.Outputs {
		if o.Address == "" {
			continue
		}
		out = append(out, addressRecord{address: o.Address, value: o.Value, txid: o.Txid})
	}
	var zero chainhash.Hash
	for _, in := range b.Inputs {
		if in.Address == "" || in.Txid == zero {
			continue
		}
		out = append(out, addressRecord{address: in.Address, value: -in.Value, txid: in.Txid})
	}
	return out
}

type addressRecord struct {
	address string
	value   int64
	txid    chainhash.Hash
}

func (p *Processor) addRecord(height int32, r addressRecord) {
	p.records[r.address] = append(p.records[r.address], TxRecord{Txid: r.txid, Value: r.value, Height: height})
	p.pendingDeltas[r.address] += r.value
	if p.pendingDeltas[r.address] == 0 {
		delete(p.pendingDeltas, r.address)
	}
}

// delOldestRecord removes the oldest retained record for address - used when
// a block leaves the ring from the head. It must match addRecord's effect
// exactly so the running sum stays correct.
func (p *Processor) delOldestRecord(address string, value int64) {
	recs := p.records[address]
	if len(recs) > 0 {
		recs = recs[1:]
		if len(recs) == 0 {
			delete(p.records, address)
		} else {
			p.records[address] = recs
		}
	}
	p.pendingDeltas[address] -= value
	if p.pendingDeltas[address] == 0 {
		delete(p.pendingDeltas, address)
	}
}

// delNewestRecord removes the most recently retained record for address -
// used by Backtrack, which undoes the tail block.
func (p *Processor) delNewestRecord(address string, value int64) {
	recs := p.records[address]
	if len(recs) > 0 {
		recs = recs[:len(recs)-1]
		if len(recs) == 0 {
			delete(p.records, address)
		} else {
			p.records[address] = recs
		}
	}
	p.pendingDeltas[address] -= value
	if p.pendingDeltas[address] == 0 {
		delete(p.pendingDeltas, address)
	}
}

// AddBlock appends block to the ring. If the ring now exceeds depth, the
// oldest block is confirmed into the write-back cache. Regardless, if the
// cache has accumulated enough pending work (by count or by time) it is
// flushed durably.
func (p *Processor) AddBlock(block *chainblock.Block) er.R {
	p.mu.Lock()
	p.ring = append(p.ring, block)
	for _, r := range blockRecords(block) {
		p.addRecord(block.Height, r)
	}

	var toConfirm *chainblock.Block
	if len(p.ring) > p.depth {
		toConfirm = p.ring[0]
		p.ring = p.ring[1:]
		for _, r := range blockRecords(toConfirm) {
			p.delOldestRecord(r.address, r.value)
			p.cache.Update(r.address, r.value)
		}
	}
	// The oldest block still retained in the ring marks how far the store
	// may safely be confirmed: everything older has already been folded
	// into the cache above, nothing at or after it has.
	oldestRingHeight := p.ring[0].Height
	p.mu.Unlock()

	due := p.cache.PendingLen() > commitPendingThreshold || time.Since(p.lastCommit) > commitIdlePeriod
	if due {
		if err := p.cache.Commit(oldestRingHeight - 1); err != nil {
			return err
		}
		p.lastCommit = time.Now()
	}
	return nil
}

// Backtrack undoes the most recently added block still in the ring. It fails
// with BacktrackLimitReached if the ring is empty - the reorg has gone
// deeper than this process can absorb, and the caller must resync from the
// durable tip instead.
func (p *Processor) Backtrack() er.R {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ring) == 0 {
		return BacktrackLimitReached.New("", nil)
	}
	block := p.ring[len(p.ring)-1]
	p.ring = p.ring[:len(p.ring)-1]
	for _, r := range blockRecords(block) {
		p.delNewestRecord(r.address, r.value)
	}
	return nil
}

// GetBalance returns address's current balance: the write-back cache's view
// plus whatever the ring's still-unconfirmed blocks have added or removed.
func (p *Processor) GetBalance(address string) (int64, er.R) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, err := p.cache.Get(address)
	if err != nil {
		return 0, err
	}
	return v + p.pendingDeltas[address], nil
}

// RecentTransactions returns the ring's retained records for address from
// blocks with at least confirmations confirmations (the tip block counts as
// one, so 0 or 1 return every retained record), most recent last. It returns
// nil if nothing is retained for this address - not an error, simply no
// recent activity.
func (p *Processor) RecentTransactions(address string, confirmations int32) []TxRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	recs := p.records[address]
	if len(recs) == 0 {
		return nil
	}
	tip := p.heightLocked()
	out := make([]TxRecord, 0, len(recs))
	for _, r := range recs {
		if tip-r.Height+1 < confirmations {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Commit forces the write-back cache to flush its pending deltas at the
// height just below the oldest block still in the ring. Blocks in the ring
// stay unconfirmed. It does nothing when the ring is empty.
func (p *Processor) Commit() er.R {
	p.mu.Lock()
	if len(p.ring) == 0 {
		p.mu.Unlock()
		return nil
	}
	height := p.ring[0].Height - 1
	p.mu.Unlock()
	if err := p.cache.Commit(height); err != nil {
		return err
	}
	p.lastCommit = time.Now()
	return nil
}

// Height is the tail block's height if the ring is non-empty, otherwise the
// cache's tip height.
func (p *Processor) Height() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heightLocked()
}

func (p *Processor) heightLocked() int32 {
	if len(p.ring) > 0 {
		return p.ring[len(p.ring)-1].Height
	}
	return p.cache.TipHeight()
}

// TipHash returns the hash of the most recently added block still in the
// ring, used by the caller to detect a reorg before assembling the next
// block. The second return value is false when the ring is empty - there is
// nothing yet to compare a candidate block's prev-hash against.
func (p *Processor) TipHash() (chainhash.Hash, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ring) == 0 {
		return chainhash.Hash{}, false
	}
	return p.ring[len(p.ring)-1].Hash, true
}

