// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package follower implements the ChainFollower: a prefetcher goroutine that
// pulls blocks from the upstream node ahead of a driver goroutine, which
// assembles and applies them to a balance.Processor, detecting and reacting
// to reorgs along the way.
package follower

import (
	"context"
	"sync"
	"time"

	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/chaincfg/chainhash"
	"github.com/pkt-cash/pktd/pktlog/log"
	"github.com/pkt-cash/pktd/wire"

	"github.com/secnot/btcbalance/balance"
	"github.com/secnot/btcbalance/chainblock"
	"github.com/secnot/btcbalance/prevout"
	"github.com/secnot/btcbalance/rpc"
)

// DefaultPrefetchDepth is the default number of blocks the prefetcher keeps
// queued ahead of the driver.
const DefaultPrefetchDepth = 10

// DefaultPollPeriod is how often the prefetcher checks for a new tip once it
// has caught up, and how long the driver waits before retrying a transient
// upstream failure mid-assembly.
const DefaultPollPeriod = 3 * time.Second

// Upstream is the subset of *rpc.Client the follower needs.
type Upstream interface {
	Height() (int32, er.R)
	BlockHash(height int32) (*chainhash.Hash, er.R)
	Block(hash *chainhash.Hash) (*wire.MsgBlock, er.R)
}

// Follower drives processor forward from the upstream node.
type Follower struct {
	upstream   Upstream
	assembler  *chainblock.Assembler
	processor  *balance.Processor
	prevouts   *prevout.Cache
	pollPeriod time.Duration
	depth      int

	onReorg func()

	mu         sync.Mutex
	nextHeight int32
	generation uint64

	queue chan queuedBlock
	wg    sync.WaitGroup
}

type queuedBlock struct {
	height     int32
	raw        *wire.MsgBlock
	generation uint64
}

// New creates a Follower. depth and pollPeriod fall back to their package
// defaults when <= 0.
func New(upstream Upstream, assembler *chainblock.Assembler, processor *balance.Processor, prevouts *prevout.Cache, depth int, pollPeriod time.Duration) *Follower {
	if depth <= 0 {
		depth = DefaultPrefetchDepth
	}
	if pollPeriod <= 0 {
		pollPeriod = DefaultPollPeriod
	}
	return &Follower{
		upstream:   upstream,
		assembler:  assembler,
		processor:  processor,
		prevouts:   prevouts,
		pollPeriod: pollPeriod,
		depth:      depth,
		nextHeight: processor.Height() + 1,
		queue:      make(chan queuedBlock, depth),
	}
}

// OnReorg installs a callback invoked every time the driver backtracks due
// to a detected reorg, for metrics.
func (f *Follower) OnReorg(fn func()) {
	f.onReorg = fn
}

// Run starts the prefetcher and driver goroutines and blocks until ctx is
// canceled, at which point it waits for the prefetcher to exit, calls
// processor.Commit, and returns. Blocks still queued when ctx is canceled
// are not applied.
func (f *Follower) Run(ctx context.Context) er.R {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.prefetchLoop(ctx)
	}()

	err := f.driverLoop(ctx)

	f.wg.Wait()
	if commitErr := f.processor.Commit(); commitErr != nil {
		log.Errorf("follower: final commit failed: %s", commitErr)
		if err == nil {
			err = commitErr
		}
	}
	return err
}

func (f *Follower) currentFetch() (int32, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextHeight, f.generation
}

func (f *Follower) advanceFetch(height int32, generation uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation == generation {
		f.nextHeight = height + 1
	}
}

// restart bumps the generation (invalidating anything already queued) and
// resets the next height to fetch to processor.Height()+1 - the state the
// driver has just rewound to.
func (f *Follower) restart() {
	f.mu.Lock()
	f.generation++
	f.nextHeight = f.processor.Height() + 1
	f.mu.Unlock()

	// Purge: stale blocks past the fork point must never reach the
	// driver, since they would be applied out of order.
	for {
		select {
		case <-f.queue:
		default:
			return
		}
	}
}

func (f *Follower) prefetchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		height, generation := f.currentFetch()

		tip, err := f.upstream.Height()
		if err != nil {
			if sleepOrDone(ctx, f.pollPeriod) {
				return
			}
			continue
		}
		if height > tip {
			if sleepOrDone(ctx, f.pollPeriod) {
				return
			}
			continue
		}

		hash, err := f.upstream.BlockHash(height)
		if err != nil {
			if sleepOrDone(ctx, f.pollPeriod) {
				return
			}
			continue
		}
		raw, err := f.upstream.Block(hash)
		if err != nil {
			if sleepOrDone(ctx, f.pollPeriod) {
				return
			}
			continue
		}

		select {
		case f.queue <- queuedBlock{height: height, raw: raw, generation: generation}:
			f.advanceFetch(height, generation)
		case <-ctx.Done():
			return
		}
	}
}

func (f *Follower) driverLoop(ctx context.Context) er.R {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-f.queue:
			_, generation := f.currentFetch()
			if item.generation != generation {
				continue // stale, left over from before a purge
			}

			if tip, ok := f.processor.TipHash(); ok && item.raw.Header.PrevBlock != tip {
				log.Infof("follower: reorg detected at height %d, backtracking", item.height)
				if err := f.processor.Backtrack(); err != nil {
					return err
				}
				f.prevouts.Clear()
				if f.onReorg != nil {
					f.onReorg()
				}
				f.restart()
				continue
			}

			block, err := f.assembleWithRetry(ctx, item.raw, item.height)
			if err != nil {
				return err
			}
			if block == nil {
				return nil // shutdown requested mid-retry
			}
			if err := f.processor.AddBlock(block); err != nil {
				return err
			}
		}
	}
}

// assembleWithRetry retries an upstream failure during assembly (a prevout
// cache miss that fails against a momentarily unreachable node, or a node
// that does not know a txid the block depends on) after pollPeriod. Only
// UpstreamUnavailable and ChainInconsistency are retried here - any other
// error is fatal to the driver.
func (f *Follower) assembleWithRetry(ctx context.Context, raw *wire.MsgBlock, height int32) (*chainblock.Block, er.R) {
	for {
		block, err := f.assembler.Build(raw, height)
		if err == nil {
			return block, nil
		}
		if !rpc.UpstreamUnavailable.Is(err) && !rpc.ChainInconsistency.Is(err) {
			return nil, err
		}
		if sleepOrDone(ctx, f.pollPeriod) {
			return nil, nil
		}
	}
}

// sleepOrDone waits for d or ctx's cancellation, whichever comes first,
// reporting whether ctx ended the wait.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
