package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/b-rucel/pulseexplorer/internal/metrics"
	"github.com/b-rucel/pulseexplorer/internal/store"
)

// partitionBatches splits [from, to] into contiguous batches of at most
// size heights each, in ascending order.
func partitionBatches(from, to uint64, size int) []Batch {
	if from > to || size < 1 {
		return nil
	}
	var batches []Batch
	step := uint64(size)
	for start := from; start <= to; start += step {
		end := start + step - 1
		if end > to {
			end = to
		}
		batches = append(batches, Batch{From: start, To: end})
		if end == to {
			break
		}
	}
	return batches
}

// runBackfill drives currentBlock+1..head to completion in chunks of at
// most cfg.ParallelBatches batches running concurrently. blockDelay and
// the stop flag are honored only at chunk boundaries, never mid-chunk —
// a chunk's batches always run to completion once started.
func (o *Orchestrator) runBackfill(ctx context.Context, head uint64) BackfillSummary {
	cur, ok := o.CurrentBlock()
	from := uint64(0)
	if ok {
		from = cur + 1
	}
	batches := partitionBatches(from, head, o.cfg.BatchSize)
	summary := BackfillSummary{}
	if len(batches) == 0 {
		return summary
	}

	log.Info("backfill starting", "from", from, "to", head, "batches", len(batches))

	chunkSize := o.cfg.ParallelBatches
	if chunkSize < 1 {
		chunkSize = 1
	}

	for i := 0; i < len(batches); i += chunkSize {
		end := i + chunkSize
		if end > len(batches) {
			end = len(batches)
		}
		chunk := batches[i:end]

		type outcome struct {
			batch    Batch
			inserted int
			err      error
		}
		results := make([]outcome, len(chunk))

		var wg sync.WaitGroup
		for j, b := range chunk {
			wg.Add(1)
			go func(j int, b Batch) {
				defer wg.Done()
				inserted, err := o.fetchAndCommitWithRetry(ctx, b)
				results[j] = outcome{batch: b, inserted: inserted, err: err}
			}(j, b)
		}
		wg.Wait()

		for _, r := range results {
			if r.err != nil {
				summary.Failed = append(summary.Failed, FailedRange{From: r.batch.From, To: r.batch.To, Err: r.err})
				metrics.BatchesFailed.WithLabelValues("backfill").Inc()
				log.Error("batch failed after retry budget exhausted", "from", r.batch.From, "to", r.batch.To, "err", r.err)
				continue
			}
			summary.Completed++
			o.raiseCurrentBlock(r.batch.To)
		}

		isLastChunk := end == len(batches)
		if o.stopRequested(ctx) {
			log.Info("backfill stopping early", "chunksProcessed", i/chunkSize+1)
			break
		}
		if !isLastChunk && o.cfg.BlockDelay > 0 {
			select {
			case <-time.After(o.cfg.BlockDelay):
			case <-o.stopCh:
			case <-ctx.Done():
			}
		}
	}

	log.Info("backfill summary", "completed", summary.Completed, "failed", len(summary.Failed))
	return summary
}

// fetchAndCommitWithRetry fetches, reorg-checks, and saves one batch as a
// single unit, retrying the whole unit up to cfg.RPCRetries extra times.
// Between attempt k and k+1 it sleeps 2^k seconds (2s, 4s, 8s, ...) —
// deliberately heavier than the per-call RPC backoff, since a batch
// failure is a coarser signal than a single stalled call.
func (o *Orchestrator) fetchAndCommitWithRetry(ctx context.Context, b Batch) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RPCRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := batchBackoffFn(ctx, attempt); sleepErr != nil {
				return 0, sleepErr
			}
		}

		remote, err := o.rpc.GetRange(ctx, b.From, b.To)
		if err != nil {
			lastErr = err
			continue
		}

		rows := make([]*store.Block, 0, len(remote))
		transformErr := error(nil)
		for _, rb := range remote {
			row, err := store.Transform(rb)
			if err != nil {
				transformErr = err
				break
			}
			rows = append(rows, row)
		}
		if transformErr != nil {
			lastErr = transformErr
			continue
		}

		if o.cfg.EnableReorgCheck {
			if reorgAt, err := o.checkForReorgs(ctx, rows); err != nil {
				lastErr = err
				continue
			} else if reorgAt != nil {
				o.lowerCurrentBlock(int64(*reorgAt) - 1)
				metrics.ReorgsDetected.Inc()
				log.Warn("reorg detected, rewound cursor", "divergedAt", *reorgAt)
			}
		}

		inserted, err := o.store.SaveBatch(ctx, rows)
		if err != nil {
			lastErr = err
			continue
		}
		return inserted, nil
	}
	return 0, lastErr
}

// batchBackoffFn sleeps 2^attempt seconds (2s, 4s, 8s, ...) between batch
// retry attempts. Tests stub this out to avoid real delays.
var batchBackoffFn = func(ctx context.Context, attempt int) error {
	d := time.Duration(1<<uint(attempt)) * time.Second
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkForReorgs compares each freshly fetched row against whatever is
// already durable at that height. The first mismatch wins: it deletes
// every stored row from that height forward and returns the diverging
// height so the caller can rewind the cursor. Height 0 (genesis) is
// never considered reorg-able.
func (o *Orchestrator) checkForReorgs(ctx context.Context, rows []*store.Block) (*uint64, error) {
	for _, row := range rows {
		if row.Number == 0 {
			continue
		}
		existing, err := o.store.Get(ctx, row.Number)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			continue
		}
		if string(existing.Hash) != string(row.Hash) {
			n := row.Number
			if _, err := o.store.DeleteFrom(ctx, n); err != nil {
				return nil, err
			}
			return &n, nil
		}
	}
	return nil, nil
}
