// Package metrics exposes the indexer's progress as Prometheus gauges and
// a /healthz liveness endpoint. It is additive to the indexing pipeline —
// no indexing decision ever reads these values back.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CurrentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseexplorer_indexer_current_block",
		Help: "Highest block height durably indexed so far.",
	})

	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseexplorer_indexer_chain_height",
		Help: "Latest block height reported by the chain endpoint.",
	})

	BlocksBehind = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseexplorer_indexer_blocks_behind",
		Help: "Difference between chain height and current block.",
	})

	ProgressRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseexplorer_indexer_progress_ratio",
		Help: "Fraction of the chain indexed so far, in [0, 1].",
	})

	BatchesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulseexplorer_indexer_batches_failed_total",
		Help: "Batches that exhausted their retry budget during backfill.",
	}, []string{"stage"})

	ReorgsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulseexplorer_indexer_reorgs_detected_total",
		Help: "Chain reorganizations detected and repaired.",
	})

	RPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulseexplorer_indexer_rpc_errors_total",
		Help: "RPC call failures by method, after the retry budget is exhausted.",
	}, []string{"method"})
)

// Observe records one progress snapshot. pctUsed ranges 0..1; values
// outside that range are clamped rather than rejected, since a stale
// chain-height read could otherwise momentarily push the ratio past 1.
func Observe(currentBlock, chainHeight, behind uint64, pctUsed float64) {
	CurrentBlock.Set(float64(currentBlock))
	ChainHeight.Set(float64(chainHeight))
	BlocksBehind.Set(float64(behind))
	if pctUsed < 0 {
		pctUsed = 0
	}
	if pctUsed > 1 {
		pctUsed = 1
	}
	ProgressRatio.Set(pctUsed)
}
