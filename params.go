// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/pkt-cash/pktd/chaincfg"
)

// activeNetParams is a pointer to the parameters specific to the currently
// selected chain.
var activeNetParams = &pktMainNetParams

// params groups a chain's address/script parameters together with the
// default port its full node's RPC server listens on, used to build the
// default upstream_url when none is configured.
type params struct {
	*chaincfg.Params
	rpcPort string
}

var pktMainNetParams = params{
	Params:  &chaincfg.PktMainNetParams,
	rpcPort: "64765",
}

var pktTestNetParams = params{
	Params:  &chaincfg.PktTestNetParams,
	rpcPort: "64513",
}

var testNet3Params = params{
	Params:  &chaincfg.TestNet3Params,
	rpcPort: "18334",
}

var btcMainNetParams = params{
	Params:  &chaincfg.MainNetParams,
	rpcPort: "8334",
}
