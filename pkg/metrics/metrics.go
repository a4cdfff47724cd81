// Package metrics exposes storage engine counters to Prometheus. A nil
// *Metrics is valid and records nothing, so components can call it
// unconditionally.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recdb"

type Metrics struct {
	BlockReads   prometheus.Counter
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	Commits      prometheus.Counter
	Rollbacks    prometheus.Counter
	Checkpoints  prometheus.Counter
	LogBytes     prometheus.Counter
	CachedBlocks prometheus.Gauge
	PendingTxns  prometheus.Gauge
}

// New creates the engine collectors and registers them on reg. Passing a
// nil registerer returns unregistered collectors, handy in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BlockReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pager",
			Name:      "block_reads_total",
			Help:      "Blocks read from the data file.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pager",
			Name:      "cache_hits_total",
			Help:      "Block requests served from the block cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pager",
			Name:      "cache_misses_total",
			Help:      "Block requests that had to load the block.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "commits_total",
			Help:      "Transactions appended to the log.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pager",
			Name:      "rollbacks_total",
			Help:      "Transactions discarded.",
		}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "checkpoints_total",
			Help:      "Checkpoints applied to the data file.",
		}),
		LogBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "log_bytes_total",
			Help:      "Bytes appended to the log.",
		}),
		CachedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pager",
			Name:      "cached_blocks",
			Help:      "Blocks currently held in the block cache.",
		}),
		PendingTxns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "pending_transactions",
			Help:      "Committed transactions not yet checkpointed.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BlockReads, m.CacheHits, m.CacheMisses, m.Commits, m.Rollbacks,
		m.Checkpoints, m.LogBytes, m.CachedBlocks, m.PendingTxns,
	}
}

func (m *Metrics) BlockRead() {
	if m != nil {
		m.BlockReads.Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) Commit(logBytes int) {
	if m != nil {
		m.Commits.Inc()
		m.LogBytes.Add(float64(logBytes))
	}
}

func (m *Metrics) Rollback() {
	if m != nil {
		m.Rollbacks.Inc()
	}
}

func (m *Metrics) Checkpoint() {
	if m != nil {
		m.Checkpoints.Inc()
	}
}

func (m *Metrics) SetCachedBlocks(n int) {
	if m != nil {
		m.CachedBlocks.Set(float64(n))
	}
}

func (m *Metrics) SetPendingTxns(n int) {
	if m != nil {
		m.PendingTxns.Set(float64(n))
	}
}
