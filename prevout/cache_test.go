package prevout

import (
	"testing"

	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"

	"github.com/secnot/btcbalance/addr"
)

type fakeFetcher struct {
	calls int
	outs  map[chainhash.Hash][]addr.Output
}

func (f *fakeFetcher) GetRawTransactionOutputs(txid *chainhash.Hash) ([]addr.Output, er.R) {
	f.calls++
	outs, ok := f.outs[*txid]
	if !ok {
		return nil, er.Errorf("unknown txid %s", txid)
	}
	return outs, nil
}

func TestGetFillsBulkOnMiss(t *testing.T) {
	var txid chainhash.Hash
	txid[0] = 1

	f := &fakeFetcher{outs: map[chainhash.Hash][]addr.Output{
		txid: {
			{Txid: txid, Vout: 0, Address: "A", Value: 100},
			{Txid: txid, Vout: 1, Address: "B", Value: 200},
		},
	}}

	c := New(10, f)
	out, err := c.Get(&txid, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Address != "B" || out.Value != 200 {
		t.Fatalf("unexpected output: %+v", out)
	}
	if f.calls != 1 {
		t.Fatalf("expected exactly 1 RPC call, got %d", f.calls)
	}

	// Sibling output (vout 0) should now be served from cache, no RPC.
	out0, err := c.Get(&txid, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out0.Address != "A" {
		t.Fatalf("unexpected output: %+v", out0)
	}
	if f.calls != 1 {
		t.Fatalf("expected bulk insert to avoid a second RPC, got %d calls", f.calls)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("unexpected stats: hits=%d misses=%d", hits, misses)
	}
}

func TestGetMissingVoutOnKnownTxidIsVoutNotFound(t *testing.T) {
	var txid chainhash.Hash
	txid[0] = 1
	f := &fakeFetcher{outs: map[chainhash.Hash][]addr.Output{
		txid: {{Txid: txid, Vout: 0, Address: "A", Value: 100}},
	}}
	c := New(10, f)
	if _, err := c.Get(&txid, 5); err == nil {
		t.Fatal("expected an error for a vout the fetched transaction doesn't have")
	} else if !VoutNotFound.Is(err) {
		t.Fatalf("expected VoutNotFound, got %v", err)
	}
}

func TestGetUnknownTxidPropagatesError(t *testing.T) {
	f := &fakeFetcher{outs: map[chainhash.Hash][]addr.Output{}}
	c := New(10, f)
	var txid chainhash.Hash
	if _, err := c.Get(&txid, 0); err == nil {
		t.Fatal("expected error for unknown txid")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	f := &fakeFetcher{outs: map[chainhash.Hash][]addr.Output{}}
	c := New(2, f)

	var t1, t2, t3 chainhash.Hash
	t1[0], t2[0], t3[0] = 1, 2, 3
	c.Insert(addr.Output{Txid: t1, Vout: 0, Value: 1})
	c.Insert(addr.Output{Txid: t2, Vout: 0, Value: 2})
	c.Insert(addr.Output{Txid: t3, Vout: 0, Value: 3})

	if _, err := c.Get(&t1, 0); err == nil {
		t.Fatal("expected t1 to have been evicted")
	}
}

func TestClear(t *testing.T) {
	f := &fakeFetcher{outs: map[chainhash.Hash][]addr.Output{}}
	c := New(10, f)
	var txid chainhash.Hash
	c.Insert(addr.Output{Txid: txid, Vout: 0, Value: 1})
	c.Clear()
	if _, err := c.Get(&txid, 0); err == nil {
		t.Fatal("expected cache to be empty after Clear")
	}
}
