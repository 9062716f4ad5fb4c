// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpc wraps the upstream full node's JSON-RPC client with automatic
// reconnection, classifying every transport failure into one of two error
// codes the rest of the pipeline already knows how to react to.
package rpc

import (
	"strings"
	"sync"
	"time"

	"github.com/pkt-cash/pktd/btcutil"
	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"
	"github.com/pkt-cash/pktd/pktlog/log"
	"github.com/pkt-cash/pktd/rpcclient"
	"github.com/pkt-cash/pktd/wire"

	"github.com/secnot/btcbalance/addr"
)

// Err is the error type for this package.
var Err = er.NewErrorType("rpc.Err")

// UpstreamUnavailable covers transport failures, decode errors, and the node
// still being in its "warming up" state - conditions the caller should
// retry after a poll period rather than treat as fatal.
var UpstreamUnavailable = Err.CodeWithDefault("UpstreamUnavailable", nil)

// ChainInconsistency covers an RPC call the node answered but rejected as
// referring to something it doesn't have - unknown block hash, unknown
// txid. Unlike UpstreamUnavailable this usually means the caller's view of
// the chain is stale (racing a reorg), not that the node is unhealthy.
var ChainInconsistency = Err.CodeWithDefault("ChainInconsistency", nil)

// Config describes how to reach and authenticate to the upstream node.
type Config struct {
	Host            string
	User            string
	Pass            string
	DisableTLS      bool
	ReconnectPeriod time.Duration
	Params          *chaincfg.Params
}

// Client is a thread-safe wrapper around *rpcclient.Client with automatic
// reconnection: a background goroutine retries the connection every
// ReconnectPeriod whenever it is down, mirroring the upstream node contact
// point the rest of the pipeline drives through Height/Hash/Block/Output
// lookups.
type Client struct {
	cfg Config

	mu     sync.Mutex
	client *rpcclient.Client

	onError func(class string)

	stop chan struct{}
	done chan struct{}
}

// OnError registers a callback invoked with "chain_inconsistency" or
// "upstream_unavailable" whenever a call fails, letting the caller feed a
// metrics collector without this package importing one.
func (c *Client) OnError(fn func(class string)) {
	c.onError = fn
}

// classifyAndReport classifies err and reports it via onError, if set.
func (c *Client) classifyAndReport(err er.R) er.R {
	classified := classify(err)
	if classified != nil && c.onError != nil {
		class := "upstream_unavailable"
		if ChainInconsistency.Is(classified) {
			class = "chain_inconsistency"
		}
		c.onError(class)
	}
	return classified
}

// Dial creates a Client and starts its background reconnect goroutine. The
// initial connection attempt happens synchronously, but its failure is not
// reported: Dial always returns a nil error, calls fail with
// UpstreamUnavailable while disconnected, and the background goroutine keeps
// retrying.
func Dial(cfg Config) (*Client, er.R) {
	if cfg.ReconnectPeriod <= 0 {
		cfg.ReconnectPeriod = 5 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.reconnect()
	go c.reconnectLoop()
	return c, nil
}

func (c *Client) connConfig() *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:         c.cfg.Host,
		User:         c.cfg.User,
		Pass:         c.cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   c.cfg.DisableTLS,
	}
}

// reconnect attempts a single (re)connection. A working connection is
// confirmed with a cheap call before being published, since rpcclient
// itself connects lazily.
func (c *Client) reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return
	}
	cl, err := rpcclient.New(c.connConfig(), nil)
	if err != nil {
		log.Debugf("rpc: connect attempt failed: %s", err)
		return
	}
	if _, _, err := cl.GetBestBlock(); err != nil {
		log.Debugf("rpc: connect attempt failed health check: %s", err)
		cl.Shutdown()
		return
	}
	c.client = cl
}

func (c *Client) reconnectLoop() {
	defer close(c.done)
	t := time.NewTicker(c.cfg.ReconnectPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.mu.Lock()
			down := c.client == nil
			c.mu.Unlock()
			if down {
				c.reconnect()
			}
		}
	}
}

// Close stops the reconnect goroutine and tears down any live connection.
func (c *Client) Close() {
	close(c.stop)
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Shutdown()
		c.client = nil
	}
}

// withClient runs fn against the live connection, dropping it on any
// transport-classified error so the reconnect loop picks it back up.
func (c *Client) withClient(fn func(*rpcclient.Client) er.R) er.R {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return UpstreamUnavailable.New("not connected", nil)
	}

	err := fn(cl)
	if err != nil && UpstreamUnavailable.Is(classify(err)) {
		c.mu.Lock()
		if c.client == cl {
			c.client = nil
		}
		c.mu.Unlock()
	}
	return err
}

// classify maps a raw rpcclient error onto this package's two error codes.
// Anything not recognized as a chain-data-not-found response is treated as
// an upstream availability problem, which is the conservative choice: it is
// always safe to retry a GetBlockHash-for-unknown-height as "come back
// later", since the node may simply not have synced that far yet.
func classify(err er.R) er.R {
	if err == nil {
		return nil
	}
	msg := err.Message()
	for _, marker := range []string{"-5", "-8", "not found", "No such", "No information"} {
		if strings.Contains(msg, marker) {
			return ChainInconsistency.New(msg, err)
		}
	}
	return UpstreamUnavailable.New(msg, err)
}

// Height returns the upstream node's current best block height.
func (c *Client) Height() (int32, er.R) {
	var height int32
	err := c.withClient(func(cl *rpcclient.Client) er.R {
		_, h, err := cl.GetBestBlock()
		height = h
		return err
	})
	if err != nil {
		return 0, c.classifyAndReport(err)
	}
	return height, nil
}

// BlockHash returns the hash of the block at the given height.
func (c *Client) BlockHash(height int32) (*chainhash.Hash, er.R) {
	var hash *chainhash.Hash
	err := c.withClient(func(cl *rpcclient.Client) er.R {
		h, err := cl.GetBlockHash(int64(height))
		hash = h
		return err
	})
	if err != nil {
		return nil, c.classifyAndReport(err)
	}
	return hash, nil
}

// Block fetches the full block named by hash.
func (c *Client) Block(hash *chainhash.Hash) (*wire.MsgBlock, er.R) {
	var block *wire.MsgBlock
	err := c.withClient(func(cl *rpcclient.Client) er.R {
		b, err := cl.GetBlock(hash)
		block = b
		return err
	})
	if err != nil {
		return nil, c.classifyAndReport(err)
	}
	return block, nil
}

// GetRawTransactionOutputs fetches a transaction by id and returns every one
// of its outputs as addr.Output, implementing prevout.Fetcher.
func (c *Client) GetRawTransactionOutputs(txid *chainhash.Hash) ([]addr.Output, er.R) {
	var tx *btcutil.Tx
	err := c.withClient(func(cl *rpcclient.Client) er.R {
		t, err := cl.GetRawTransaction(txid)
		tx = t
		return err
	})
	if err != nil {
		return nil, c.classifyAndReport(err)
	}

	msgTx := tx.MsgTx()
	outs := make([]addr.Output, len(msgTx.TxOut))
	for i, txOut := range msgTx.TxOut {
		outs[i] = addr.Output{
			Txid:    *txid,
			Vout:    uint32(i),
			Address: addr.FromScript(txOut.PkScript, c.cfg.Params),
			Value:   txOut.Value,
		}
	}
	return outs, nil
}
