// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics collects the operational counters the rest of the program
// updates as it indexes blocks, exposed as Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector this program registers. All counters are
// monotonic; gauges reflect a point-in-time value the caller is responsible
// for setting.
type Metrics struct {
	PrevoutCacheHits   prometheus.Counter
	PrevoutCacheMisses prometheus.Counter

	BalanceCacheHits   prometheus.Counter
	BalanceCacheMisses prometheus.Counter

	IndexedHeight prometheus.Gauge
	ReorgTotal    prometheus.Counter

	RPCErrorsByClass *prometheus.CounterVec
}

// New creates the collector set. It does not register them; call Register.
func New() *Metrics {
	return &Metrics{
		PrevoutCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcbalance",
			Subsystem: "prevout_cache",
			Name:      "hits_total",
			Help:      "Prevout cache lookups served from the in-memory LRU.",
		}),
		PrevoutCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcbalance",
			Subsystem: "prevout_cache",
			Name:      "misses_total",
			Help:      "Prevout cache lookups that required an upstream RPC call.",
		}),
		BalanceCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcbalance",
			Subsystem: "balance_cache",
			Name:      "hits_total",
			Help:      "Balance cache reads served from the base LRU without a store load.",
		}),
		BalanceCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcbalance",
			Subsystem: "balance_cache",
			Name:      "misses_total",
			Help:      "Balance cache reads that required loading a baseline from the store.",
		}),
		IndexedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "btcbalance",
			Name:      "indexed_height",
			Help:      "Height of the most recently processed block.",
		}),
		ReorgTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "btcbalance",
			Name:      "reorg_total",
			Help:      "Number of backtrack operations performed due to a detected reorg.",
		}),
		RPCErrorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "btcbalance",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "Upstream RPC errors, partitioned by classification.",
		}, []string{"class"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.PrevoutCacheHits,
		m.PrevoutCacheMisses,
		m.BalanceCacheHits,
		m.BalanceCacheMisses,
		m.IndexedHeight,
		m.ReorgTotal,
		m.RPCErrorsByClass,
	)
}
