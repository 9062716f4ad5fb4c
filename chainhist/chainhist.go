// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainhist provides a bounded, read-only view of an address's
// recent transaction activity, reconstructed from the balance.Processor's
// ring of retained blocks. It completes the unfinished
// get_transactions sketch of the program this one is modeled on: a
// per-address history view was clearly intended (the ring already retains
// per-address records for exactly this purpose) but never wired up to a
// public call.
package chainhist

import (
	"github.com/pkt-cash/pktd/chaincfg/chainhash"

	"github.com/secnot/btcbalance/balance"
)

// Record is one credit or debit a retained block applied to an address.
type Record struct {
	Txid   chainhash.Hash
	Value  int64
	Height int32
}

// Processor is the subset of *balance.Processor this package reads from.
type Processor interface {
	RecentTransactions(address string, confirmations int32) []balance.TxRecord
}

// Recent returns address's transaction records from blocks still held in the
// processor's ring, most recent last, filtered to those with at least
// confirmations confirmations (0 includes everything still in the ring,
// confirmed or not). It returns nil when the address has no activity within
// the ring's window - this is a bounded view, not a full history: anything
// older than the ring's depth was already folded into the durable balance
// and is no longer individually retrievable.
func Recent(p Processor, address string, confirmations int32) []Record {
	recs := p.RecentTransactions(address, confirmations)
	if len(recs) == 0 {
		return nil
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Record{Txid: r.Txid, Value: r.Value, Height: r.Height}
	}
	return out
}
