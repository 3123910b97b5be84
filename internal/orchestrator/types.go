// Package orchestrator drives the indexing loop end-to-end: it decides
// what to fetch, when, and in what parallelism, detects and repairs chain
// reorganizations, transitions between backfill and tail modes, reports
// progress, and shuts down cleanly. It is the one component that mutates
// the in-memory currentBlock cursor.
package orchestrator

import (
	"context"
	"time"

	"github.com/b-rucel/pulseexplorer/internal/rpcclient"
	"github.com/b-rucel/pulseexplorer/internal/store"
)

// Config enumerates every knob the orchestrator's behavior depends on.
// Defaults mirror spec §4.3.1 / the INDEXER_* environment variables.
type Config struct {
	StartBlock       uint64
	BatchSize        int
	ParallelBatches  int
	BlockDelay       time.Duration
	EnableReorgCheck bool
	RPCRetries       int
	PollInterval     time.Duration
}

// DefaultConfig matches the source defaults named in spec §4.3.1.
func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		ParallelBatches:  5,
		EnableReorgCheck: true,
		RPCRetries:       3,
		PollInterval:     12 * time.Second,
	}
}

// State is one of the five lifecycle states an Orchestrator moves through.
type State int

const (
	StateNew State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Batch is a contiguous height range processed as one fetch-and-commit
// unit.
type Batch struct {
	From, To uint64
}

// FailedRange records a batch that exhausted its retry budget during
// backfill. Sync continues past it rather than aborting.
type FailedRange struct {
	From, To uint64
	Err      error
}

// BackfillSummary is emitted after the final chunk of a backfill run.
type BackfillSummary struct {
	Completed int
	Failed    []FailedRange
}

// RPC is the subset of rpcclient.Client the orchestrator depends on,
// narrow enough to fake in tests per spec §8.
type RPC interface {
	HeadHeight(ctx context.Context) (uint64, error)
	GetRange(ctx context.Context, from, to uint64) ([]*rpcclient.RemoteBlock, error)
	Healthy(ctx context.Context) bool
	Close()
}

// Writer is the subset of store.Store the orchestrator depends on.
type Writer interface {
	SaveBatch(ctx context.Context, blocks []*store.Block) (int, error)
	Get(ctx context.Context, number uint64) (*store.Block, error)
	Highest(ctx context.Context) (uint64, bool, error)
	Count(ctx context.Context) (uint64, error)
	DeleteFrom(ctx context.Context, number uint64) (uint64, error)
	GetStats(ctx context.Context) (*store.Stats, error)
}
