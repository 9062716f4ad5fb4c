package balance

import (
	"testing"

	"github.com/pkt-cash/pktd/chaincfg/chainhash"

	"github.com/secnot/btcbalance/addr"
	"github.com/secnot/btcbalance/chainblock"
)

func testBlock(height int32, hash byte, prevHash byte, outs []addr.Output, ins []addr.Output) *chainblock.Block {
	b := &chainblock.Block{Height: height, Outputs: outs, Inputs: ins}
	b.Hash[0] = hash
	b.PrevHash[0] = prevHash
	return b
}

func out(address string, value int64) addr.Output {
	return addr.Output{Address: address, Value: value}
}

func TestProcessorAddBlockUpdatesBalance(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	p := NewProcessor(100, c)

	b := testBlock(1, 1, 0, []addr.Output{out("A", 100)}, nil)
	if err := p.AddBlock(b); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	v, err := p.GetBalance("A")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if v != 100 {
		t.Fatalf("expected 100, got %d", v)
	}
	if p.Height() != 1 {
		t.Fatalf("expected height 1, got %d", p.Height())
	}
}

func TestProcessorInputsDebitAddress(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	p := NewProcessor(100, c)

	funding := testBlock(1, 1, 0, []addr.Output{out("A", 100)}, nil)
	if err := p.AddBlock(funding); err != nil {
		t.Fatalf("AddBlock funding: %v", err)
	}
	spend := testBlock(2, 2, 1, nil, []addr.Output{out("A", 100)})
	if err := p.AddBlock(spend); err != nil {
		t.Fatalf("AddBlock spend: %v", err)
	}

	v, err := p.GetBalance("A")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected 0 after full spend, got %d", v)
	}
}

func TestProcessorBacktrackUndoesTailBlock(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	p := NewProcessor(100, c)

	b1 := testBlock(1, 1, 0, []addr.Output{out("A", 100)}, nil)
	b2 := testBlock(2, 2, 1, []addr.Output{out("A", 50)}, nil)
	if err := p.AddBlock(b1); err != nil {
		t.Fatalf("AddBlock b1: %v", err)
	}
	if err := p.AddBlock(b2); err != nil {
		t.Fatalf("AddBlock b2: %v", err)
	}

	if err := p.Backtrack(); err != nil {
		t.Fatalf("Backtrack: %v", err)
	}

	v, err := p.GetBalance("A")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if v != 100 {
		t.Fatalf("expected 100 after backtrack, got %d", v)
	}
	if p.Height() != 1 {
		t.Fatalf("expected height 1 after backtrack, got %d", p.Height())
	}
}

func TestProcessorBacktrackOnEmptyRingFails(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	p := NewProcessor(100, c)

	if err := p.Backtrack(); err == nil {
		t.Fatal("expected BacktrackLimitReached")
	} else if !BacktrackLimitReached.Is(err) {
		t.Fatalf("expected BacktrackLimitReached code, got %v", err)
	}
}

func TestProcessorConfirmsOldestBlockPastDepth(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	p := NewProcessor(2, c)

	b1 := testBlock(1, 1, 0, []addr.Output{out("A", 10)}, nil)
	b2 := testBlock(2, 2, 1, []addr.Output{out("A", 10)}, nil)
	b3 := testBlock(3, 3, 2, []addr.Output{out("A", 10)}, nil)

	for _, b := range []*chainblock.Block{b1, b2, b3} {
		if err := p.AddBlock(b); err != nil {
			t.Fatalf("AddBlock: %v", err)
		}
	}

	// b1 has been confirmed into the cache's pending deltas; the ring
	// retains only b2 and b3.
	if c.PendingLen() != 1 {
		t.Fatalf("expected cache to have absorbed b1's delta, pending=%d", c.PendingLen())
	}

	v, err := p.GetBalance("A")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if v != 30 {
		t.Fatalf("expected 30 (10 confirmed + 20 in ring), got %d", v)
	}
}

func TestProcessorCoinbaseAndNullAddressSkipped(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	p := NewProcessor(100, c)

	var coinbaseTxid chainhash.Hash
	b := testBlock(1, 1, 0,
		[]addr.Output{{Txid: coinbaseTxid, Address: "", Value: 5000000000}},
		[]addr.Output{{Txid: coinbaseTxid, Address: "somebody", Value: 1}},
	)
	if err := p.AddBlock(b); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	recs := p.RecentTransactions("somebody", 0)
	if len(recs) != 0 {
		t.Fatalf("expected no records for an input derived output, got %d", len(recs))
	}
}
