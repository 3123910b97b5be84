package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// Orchestrator is the indexing loop: backfill from currentBlock to the
// chain tip, then tail new blocks as they arrive, repairing reorgs along
// the way. One Orchestrator owns exactly one RPC client and one Writer.
type Orchestrator struct {
	cfg   Config
	rpc   RPC
	store Writer

	mu    sync.Mutex
	state State

	// currentBlock is the highest contiguous-or-not height known durable,
	// or -1 if the store holds nothing yet. Mutated by both the chunk
	// loop (after a chunk completes) and reorg repair (mid-chunk), so it
	// is an atomic rather than plain orchestrator-owned state — see
	// SPEC_FULL.md's note on the parallel-reorg race.
	currentBlock atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Orchestrator in the New state. Call Initialize before
// Start.
func New(cfg Config, rpc RPC, store Writer) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		rpc:   rpc,
		store: store,
		state: StateNew,
	}
}

// Initialize loads the durable cursor: currentBlock becomes the highest
// stored height, or cfg.StartBlock - 1 if the store is empty. It also
// verifies RPC reachability once so configuration mistakes fail fast.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateNew {
		return fmt.Errorf("orchestrator: initialize called in state %s", o.state)
	}

	if _, err := o.rpc.HeadHeight(ctx); err != nil {
		return fmt.Errorf("orchestrator: rpc unreachable at startup: %w", err)
	}

	highest, ok, err := o.store.Highest(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: load cursor: %w", err)
	}
	if ok {
		o.currentBlock.Store(int64(highest))
	} else {
		o.currentBlock.Store(int64(o.cfg.StartBlock) - 1)
	}

	o.state = StateInitialized
	log.Info("orchestrator initialized", "currentBlock", o.currentBlock.Load())
	return nil
}

// Start runs the backfill-then-tail loop until the context is canceled or
// Stop is called. It blocks until the loop has exited cleanly.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateInitialized {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: start called in state %s", o.state)
	}
	o.state = StateRunning
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	defer close(o.doneCh)

	head, err := o.rpc.HeadHeight(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: initial head height: %w", err)
	}
	if summary := o.runBackfill(ctx, head); len(summary.Failed) > 0 {
		log.Warn("backfill completed with failed ranges", "completed", summary.Completed, "failed", len(summary.Failed))
	}

	if o.stopRequested(ctx) {
		o.setStopped()
		return nil
	}

	o.tailLoop(ctx)
	o.setStopped()
	return nil
}

// Stop requests a graceful shutdown: the loop finishes its current chunk
// or poll tick, then returns from Start. Safe to call once; a second call
// is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state == StateRunning {
		o.state = StateStopping
		close(o.stopCh)
	}
	done := o.doneCh
	o.mu.Unlock()

	if done != nil {
		<-done
	}
}

// stopRequested reports whether a graceful Stop was requested or the work
// context was canceled — either one ends the backfill/tail loop at its
// next chunk or poll-tick boundary.
func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	select {
	case <-o.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (o *Orchestrator) setStopped() {
	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	log.Info("orchestrator stopped", "currentBlock", o.currentBlock.Load())
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentBlock returns the cursor's current value. Returns (0, false) if
// nothing has been indexed yet (cursor below zero).
func (o *Orchestrator) CurrentBlock() (uint64, bool) {
	v := o.currentBlock.Load()
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// raiseCurrentBlock moves the cursor up to to if to is higher than the
// current value. Used after a chunk of batches completes successfully.
func (o *Orchestrator) raiseCurrentBlock(to uint64) {
	for {
		cur := o.currentBlock.Load()
		if cur >= int64(to) {
			return
		}
		if o.currentBlock.CompareAndSwap(cur, int64(to)) {
			return
		}
	}
}

// lowerCurrentBlock rewinds the cursor to to if to is lower than the
// current value. Used by reorg repair, which may run concurrently with
// other batch workers inside the same chunk.
func (o *Orchestrator) lowerCurrentBlock(to int64) {
	for {
		cur := o.currentBlock.Load()
		if cur <= to {
			return
		}
		if o.currentBlock.CompareAndSwap(cur, to) {
			return
		}
	}
}
