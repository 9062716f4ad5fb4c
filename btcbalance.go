// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/pktlog/log"

	"github.com/secnot/btcbalance/balance"
	"github.com/secnot/btcbalance/chainblock"
	"github.com/secnot/btcbalance/chainhist"
	"github.com/secnot/btcbalance/follower"
	"github.com/secnot/btcbalance/metrics"
	"github.com/secnot/btcbalance/prevout"
	"github.com/secnot/btcbalance/rpc"
	"github.com/secnot/btcbalance/store"
)

var cfg *config

// parseUpstreamURL splits a "user:pass@host:port" upstream descriptor into
// its rpc.Config fields.
func parseUpstreamURL(s string) (user, pass, host string, err er.R) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return "", "", "", er.Errorf("upstream_url %q is missing a user:pass@ prefix", s)
	}
	auth, host := s[:at], s[at+1:]
	colon := strings.Index(auth, ":")
	if colon < 0 {
		return "", "", "", er.Errorf("upstream_url %q is missing a : between user and pass", s)
	}
	return auth[:colon], auth[colon+1:], host, nil
}

// run wires together the store, caches, upstream client and follower, then
// drives the interactive stdin balance-query loop until ctx is cancelled.
func run(ctx context.Context, cfg *config) er.R {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return er.Errorf("creating data directory %q: %v", cfg.DataDir, err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "balances.db"), store.Options{NoSync: cfg.FastSync})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("closing balance store: %v", err)
		}
	}()

	balanceCache, err := balance.NewCache(cfg.BalanceCacheSize, st)
	if err != nil {
		return err
	}
	processor := balance.NewProcessor(cfg.MaxBacktrackBlocks, balanceCache)

	m := metrics.New()
	reg := prometheus.NewRegistry()
	m.Register(reg)

	user, pass, host, err := parseUpstreamURL(cfg.UpstreamURL)
	if err != nil {
		return err
	}
	client, err := rpc.Dial(rpc.Config{
		Host:            host,
		User:            user,
		Pass:            pass,
		ReconnectPeriod: cfg.UpstreamReconnectPeriod,
		Params:          activeNetParams.Params,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	client.OnError(func(class string) { m.RPCErrorsByClass.WithLabelValues(class).Inc() })

	prevouts := prevout.New(cfg.PrevoutCacheSize, client)
	assembler := chainblock.New(prevouts, activeNetParams.Params)

	f := follower.New(client, assembler, processor, prevouts, follower.DefaultPrefetchDepth, cfg.UpstreamPollPeriod)
	f.OnReorg(func() { m.ReorgTotal.Inc() })

	if cfg.DebugListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.DebugListen, Handler: mux}
		go func() {
			log.Infof("Metrics server listening on %s", cfg.DebugListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	go reportMetricsPeriodically(ctx, m, prevouts, balanceCache, processor)

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr er.R
	go func() {
		defer wg.Done()
		runErr = f.Run(ctx)
	}()

	queryLoop(ctx, processor)

	wg.Wait()
	return runErr
}

// reportMetricsPeriodically samples cache hit/miss counters and the
// processor's height into the Prometheus gauges/counters, since those
// packages track running totals internally rather than pushing to a
// collector directly.
func reportMetricsPeriodically(ctx context.Context, m *metrics.Metrics, prevouts *prevout.Cache, balanceCache *balance.Cache, processor *balance.Processor) {
	var prevHits, prevMisses uint64
	var bcHits, bcMisses uint64
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hits, misses := prevouts.Stats()
			m.PrevoutCacheHits.Add(float64(hits - prevHits))
			m.PrevoutCacheMisses.Add(float64(misses - prevMisses))
			prevHits, prevMisses = hits, misses

			hits, misses = balanceCache.Stats()
			m.BalanceCacheHits.Add(float64(hits - bcHits))
			m.BalanceCacheMisses.Add(float64(misses - bcMisses))
			bcHits, bcMisses = hits, misses

			m.IndexedHeight.Set(float64(processor.Height()))
		}
	}
}

// queryLoop reads addresses from stdin, one per line, and prints the
// indexed balance and recent activity for each until stdin closes or ctx is
// cancelled. A blank line or "q" exits early.
func queryLoop(ctx context.Context, processor *balance.Processor) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			address := strings.TrimSpace(line)
			if address == "" || address == "q" {
				return
			}
			bal, err := processor.GetBalance(address)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			recent := chainhist.Recent(processor, address, 0)
			fmt.Printf("%s: %d (%d recent %s)\n", address, bal, len(recent), pickNoun(len(recent), "transaction", "transactions"))
		}
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received signal %v, shutting down", sig)
		cancel()
	}()
	return ctx, cancel
}

func main() {
	loadedCfg, _, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	cfg = loadedCfg

	log.Infof("btcbalance starting, chain %s, data dir %s", activeNetParams.Name, cfg.DataDir)

	ctx, cancel := signalContext()
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}
