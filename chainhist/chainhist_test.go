package chainhist

import (
	"testing"

	"github.com/pkt-cash/pktd/chaincfg/chainhash"

	"github.com/secnot/btcbalance/balance"
)

type fakeProcessor struct {
	records map[string][]balance.TxRecord
}

func (f *fakeProcessor) RecentTransactions(address string, confirmations int32) []balance.TxRecord {
	return f.records[address]
}

func TestRecentReturnsNilForUnknownAddress(t *testing.T) {
	p := &fakeProcessor{records: map[string][]balance.TxRecord{}}
	if got := Recent(p, "nobody", 0); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestRecentTranslatesRecords(t *testing.T) {
	var txid chainhash.Hash
	txid[0] = 7
	p := &fakeProcessor{records: map[string][]balance.TxRecord{
		"A": {{Txid: txid, Value: 100, Height: 5}},
	}}
	got := Recent(p, "A", 0)
	if len(got) != 1 || got[0].Value != 100 || got[0].Height != 5 || got[0].Txid != txid {
		t.Fatalf("unexpected result: %+v", got)
	}
}
