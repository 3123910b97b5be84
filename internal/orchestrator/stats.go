package orchestrator

import (
	"context"
	"fmt"
)

// Progress is the snapshot reported by Stats: where the chain tip is,
// where the indexer's durable cursor is, and how far behind it sits.
type Progress struct {
	ChainHeight       uint64
	Indexed           uint64
	Behind            uint64
	ProgressPct       string // formatted to 2 decimal places, e.g. "99.42%"
	FirstBlock        *uint64
	LastBlock         *uint64
	TotalTransactions uint64
}

// Stats fetches the chain tip and store aggregates and combines them into
// a Progress snapshot. progressPct is "0%" whenever the store has no rows
// yet, matching the convention of reporting 0 rather than NaN.
func (o *Orchestrator) Stats(ctx context.Context) (*Progress, error) {
	head, err := o.rpc.HeadHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: stats head height: %w", err)
	}
	storeStats, err := o.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: stats store aggregate: %w", err)
	}

	p := &Progress{
		ChainHeight:       head,
		FirstBlock:        storeStats.FirstBlock,
		LastBlock:         storeStats.LastBlock,
		TotalTransactions: storeStats.TotalTransactions,
	}

	if storeStats.LastBlock == nil {
		p.ProgressPct = "0%"
		p.Behind = head
		return p, nil
	}

	p.Indexed = *storeStats.LastBlock
	if head > p.Indexed {
		p.Behind = head - p.Indexed
	}
	if head == 0 {
		p.ProgressPct = "100.00%"
	} else {
		pct := float64(p.Indexed) / float64(head) * 100
		if pct > 100 {
			pct = 100
		}
		p.ProgressPct = fmt.Sprintf("%.2f%%", pct)
	}
	return p, nil
}
