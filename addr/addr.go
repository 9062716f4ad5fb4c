// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addr validates payment-network address strings and derives
// addresses from locking scripts.
package addr

import (
	"github.com/pkt-cash/pktd/btcutil"
	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"
	"github.com/pkt-cash/pktd/txscript"
)

// Err is the error type for this package.
var Err = er.NewErrorType("addr.Err")

// InvalidAddress is returned when a user-supplied address fails codec
// validation. It must never be propagated into the indexing pipeline - only
// to the caller at the balance-query boundary.
var InvalidAddress = Err.CodeWithDefault("InvalidAddress", nil)

// Output is a value-bearing transaction output as it flows through the
// indexing pipeline. Address is empty when the locking script is not a
// recognized standard form.
type Output struct {
	Txid  chainhash.Hash
	Vout  uint32
	Address string
	Value int64
}

// Validate checks that address is a well-formed, checksum-valid address for
// the given chain parameters - base-58-check decoding plus a recognized
// version byte, or a valid bech32 segwit address for params.
func Validate(address string, params *chaincfg.Params) er.R {
	if len(address) == 0 {
		return InvalidAddress.New("empty address", nil)
	}
	a, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return InvalidAddress.New("address decode failed", err)
	}
	if !a.IsForNet(params) {
		return InvalidAddress.New("address is not valid for this network", nil)
	}
	return nil
}

// FromScript derives the address an output's locking script pays to. It
// returns "" for non-standard or unrecognized scripts - the script simply has
// no address, not an error.
func FromScript(script []byte, params *chaincfg.Params) string {
	a := txscript.PkScriptToAddress(script, params)
	if a == nil {
		return ""
	}
	return a.EncodeAddress()
}
