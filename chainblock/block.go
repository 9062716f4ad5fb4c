// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainblock implements the BlockAssembler: given a raw block from
// the upstream node, it produces a normalized Block in which every spending
// input has been resolved to the full output it consumes.
package chainblock

import (
	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"
	"github.com/pkt-cash/pktd/wire"

	"github.com/secnot/btcbalance/addr"
	"github.com/secnot/btcbalance/prevout"
)

// Block is the normalized representation the rest of the pipeline operates
// on. Every non-coinbase input is fully resolved (address and value present).
type Block struct {
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Height   int32
	Inputs   []addr.Output
	Outputs  []addr.Output
}

// Resolver supplies the (txid, vout) -> Output lookups a block's inputs need.
// *prevout.Cache implements this.
type Resolver interface {
	Get(txid *chainhash.Hash, vout uint32) (addr.Output, er.R)
	Insert(addr.Output)
}

// Assembler turns raw blocks into normalized Blocks.
type Assembler struct {
	resolver Resolver
	params   *chaincfg.Params
}

// New creates an Assembler that resolves prevouts through resolver and
// derives addresses for params.
func New(resolver Resolver, params *chaincfg.Params) *Assembler {
	return &Assembler{resolver: resolver, params: params}
}

// Build assembles a normalized Block from a raw wire block at the given
// height. Outputs of every transaction are inserted into the resolver before
// any input is resolved, so that outputs spent within the same block resolve
// without a round trip to the upstream node.
func (a *Assembler) Build(block *wire.MsgBlock, height int32) (*Block, er.R) {
	b := &Block{
		Hash:     block.BlockHash(),
		PrevHash: block.Header.PrevBlock,
		Height:   height,
	}

	// Every output - including value-0 or non-standard-script ones - is
	// inserted so later spends of it (possibly in this same block) resolve
	// without a round trip. Filtering of which outputs/inputs move a
	// balance happens downstream, in balance.Processor.
	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		for n, txOut := range tx.TxOut {
			out := addr.Output{
				Txid:    txid,
				Vout:    uint32(n),
				Address: addr.FromScript(txOut.PkScript, a.params),
				Value:   txOut.Value,
			}
			a.resolver.Insert(out)
			b.Outputs = append(b.Outputs, out)
		}
	}

	for _, tx := range block.Transactions {
		for _, txIn := range tx.TxIn {
			prev := txIn.PreviousOutPoint
			if isCoinbase(prev.Hash) {
				continue
			}
			out, err := a.resolver.Get(&prev.Hash, prev.Index)
			if err != nil {
				return nil, err
			}
			b.Inputs = append(b.Inputs, out)
		}
	}

	return b, nil
}

func isCoinbase(h chainhash.Hash) bool {
	var zero chainhash.Hash
	return h == zero
}
