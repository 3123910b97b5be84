package orchestrator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// tailLoop polls the chain tip every cfg.PollInterval and runs a backfill
// over any new range since the last poll. It returns when Stop is called
// or the context is canceled.
func (o *Orchestrator) tailLoop(ctx context.Context) {
	interval := o.cfg.PollInterval
	if interval <= 0 {
		interval = 12 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := o.rpc.HeadHeight(ctx)
			if err != nil {
				log.Error("tail: failed to read chain head, will retry next tick", "err", err)
				continue
			}
			cur, ok := o.CurrentBlock()
			if ok && head <= cur {
				continue // nothing new since the last tick
			}
			o.runBackfill(ctx, head)
		}
	}
}
