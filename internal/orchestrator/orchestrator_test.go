package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/b-rucel/pulseexplorer/internal/rpcclient"
	"github.com/b-rucel/pulseexplorer/internal/store"
)

// TestMain stubs the batch retry backoff to be instantaneous so tests that
// exercise the retry path don't pay real wall-clock delays.
func TestMain(m *testing.M) {
	batchBackoffFn = func(ctx context.Context, attempt int) error { return nil }
	os.Exit(m.Run())
}

// fakeRPC is an in-memory chain: blocksByHeight holds the canonical chain,
// mutable mid-test to simulate a reorg.
type fakeRPC struct {
	mu            sync.Mutex
	blocksByHeight map[uint64]*rpcclient.RemoteBlock
	head          uint64
	failHeights   map[uint64]int // remaining failures before success
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		blocksByHeight: make(map[uint64]*rpcclient.RemoteBlock),
		failHeights:    make(map[uint64]int),
	}
}

func (f *fakeRPC) setBlock(n uint64, hash byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocksByHeight[n] = remoteBlockAt(n, hash)
	if n > f.head {
		f.head = n
	}
}

func (f *fakeRPC) HeadHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeRPC) Healthy(ctx context.Context) bool { return true }
func (f *fakeRPC) Close()                           {}

func (f *fakeRPC) GetRange(ctx context.Context, from, to uint64) ([]*rpcclient.RemoteBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rpcclient.RemoteBlock, 0, to-from+1)
	for n := from; n <= to; n++ {
		if remaining, ok := f.failHeights[n]; ok && remaining > 0 {
			f.failHeights[n] = remaining - 1
			return nil, fmt.Errorf("fake transient failure at %d", n)
		}
		blk, ok := f.blocksByHeight[n]
		if !ok {
			return nil, fmt.Errorf("fake: no block at %d", n)
		}
		out = append(out, blk)
	}
	return out, nil
}

func remoteBlockAt(n uint64, hashByte byte) *rpcclient.RemoteBlock {
	hash := fmt.Sprintf("0x%02x%062d", hashByte, 0)
	parent := hash
	zero32 := "0x" + fmt.Sprintf("%064d", 0)
	return &rpcclient.RemoteBlock{
		Number:           fmt.Sprintf("0x%x", n),
		Hash:             hash,
		ParentHash:       parent,
		Miner:            "0x000000000000000000000000000000000000aa",
		Timestamp:        "0x5f5e100",
		GasLimit:         "0x1c9c380",
		GasUsed:          "0x0",
		TransactionsRoot: zero32,
		StateRoot:        zero32,
		ReceiptsRoot:     zero32,
		Nonce:            "0x0000000000000000",
	}
}

// fakeStore is an in-memory Writer backed by a map keyed on height.
type fakeStore struct {
	mu   sync.Mutex
	rows map[uint64]*store.Block
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uint64]*store.Block)}
}

func (s *fakeStore) SaveBatch(ctx context.Context, blocks []*store.Block) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, b := range blocks {
		if _, exists := s.rows[b.Number]; exists {
			continue
		}
		s.rows[b.Number] = b
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) Get(ctx context.Context, number uint64) (*store.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[number], nil
}

func (s *fakeStore) Highest(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	found := false
	for n := range s.rows {
		if !found || n > max {
			max = n
			found = true
		}
	}
	return max, found, nil
}

func (s *fakeStore) Count(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.rows)), nil
}

func (s *fakeStore) DeleteFrom(ctx context.Context, n uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted uint64
	for height := range s.rows {
		if height >= n {
			delete(s.rows, height)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeStore) GetStats(ctx context.Context) (*store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &store.Stats{TotalBlocks: uint64(len(s.rows))}
	var first, last *uint64
	for n := range s.rows {
		nCopy := n
		if first == nil || n < *first {
			first = &nCopy
		}
		if last == nil || n > *last {
			last = &nCopy
		}
	}
	stats.FirstBlock = first
	stats.LastBlock = last
	return stats, nil
}

func seedChain(rpc *fakeRPC, upTo uint64) {
	for n := uint64(0); n <= upTo; n++ {
		rpc.setBlock(n, 0xAA)
	}
}

func TestInitializeEmptyStoreUsesStartBlock(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 10)
	s := newFakeStore()

	orc := New(Config{StartBlock: 5, BatchSize: 10, ParallelBatches: 2, RPCRetries: 0}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	cur, ok := orc.CurrentBlock()
	require.True(t, ok)
	require.Equal(t, uint64(4), cur)
}

func TestInitializeResumesFromHighestStored(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 10)
	s := newFakeStore()
	s.rows[7] = &store.Block{Number: 7}

	orc := New(Config{StartBlock: 0, BatchSize: 10, ParallelBatches: 2, RPCRetries: 0}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	cur, ok := orc.CurrentBlock()
	require.True(t, ok)
	require.Equal(t, uint64(7), cur)
}

func TestBackfillIndexesEntireRange(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 99)
	s := newFakeStore()

	orc := New(Config{StartBlock: 0, BatchSize: 10, ParallelBatches: 3, RPCRetries: 0}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary := orc.runBackfill(ctx, 99)

	require.Empty(t, summary.Failed)
	count, _ := s.Count(ctx)
	require.Equal(t, uint64(100), count)
	cur, ok := orc.CurrentBlock()
	require.True(t, ok)
	require.Equal(t, uint64(99), cur)
}

func TestFetchAndCommitRetriesThenSucceeds(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 20)
	rpc.failHeights[5] = 2 // batch covering height 5 fails twice, then succeeds
	s := newFakeStore()

	orc := New(Config{StartBlock: 0, BatchSize: 10, ParallelBatches: 1, RPCRetries: 3}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	inserted, err := orc.fetchAndCommitWithRetry(context.Background(), Batch{From: 0, To: 9})
	require.NoError(t, err)
	require.Equal(t, 10, inserted)
}

func TestFetchAndCommitExhaustsRetryBudget(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 20)
	rpc.failHeights[5] = 100 // never succeeds within budget
	s := newFakeStore()

	orc := New(Config{StartBlock: 0, BatchSize: 10, ParallelBatches: 1, RPCRetries: 1}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	_, err := orc.fetchAndCommitWithRetry(context.Background(), Batch{From: 0, To: 9})
	require.Error(t, err)
}

func TestReorgDetectionDeletesFromDivergedHeight(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 20)
	s := newFakeStore()

	orc := New(Config{StartBlock: 0, BatchSize: 25, ParallelBatches: 1, RPCRetries: 0, EnableReorgCheck: true}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	ctx := context.Background()
	_, err := orc.fetchAndCommitWithRetry(ctx, Batch{From: 0, To: 20})
	require.NoError(t, err)

	// Simulate a reorg: heights 15..20 now have a different hash.
	for n := uint64(15); n <= 20; n++ {
		rpc.setBlock(n, 0xBB)
	}

	reorgAt, err := orc.checkForReorgs(ctx, mustTransform(t, rpc, 10, 20))
	require.NoError(t, err)
	require.NotNil(t, reorgAt)
	require.Equal(t, uint64(15), *reorgAt)

	remaining, _ := s.Count(ctx)
	require.Equal(t, uint64(15), remaining) // heights 0..14 survive
}

func mustTransform(t *testing.T, rpc *fakeRPC, from, to uint64) []*store.Block {
	t.Helper()
	remote, err := rpc.GetRange(context.Background(), from, to)
	require.NoError(t, err)
	rows := make([]*store.Block, 0, len(remote))
	for _, rb := range remote {
		row, err := store.Transform(rb)
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestStatsReportsProgress(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 100)
	s := newFakeStore()
	for n := uint64(0); n <= 50; n++ {
		s.rows[n] = &store.Block{Number: n}
	}

	orc := New(Config{StartBlock: 0, BatchSize: 10, ParallelBatches: 2, RPCRetries: 0}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	p, err := orc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), p.ChainHeight)
	require.Equal(t, uint64(50), p.Indexed)
	require.Equal(t, uint64(50), p.Behind)
	require.Equal(t, "50.00%", p.ProgressPct)
}

func TestStatsZeroWhenStoreEmpty(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 10)
	s := newFakeStore()

	orc := New(Config{StartBlock: 0, BatchSize: 10, ParallelBatches: 2, RPCRetries: 0}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	p, err := orc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0%", p.ProgressPct)
}

func TestStopStopsBackfillBetweenChunks(t *testing.T) {
	rpc := newFakeRPC()
	seedChain(rpc, 99)
	s := newFakeStore()

	orc := New(Config{StartBlock: 0, BatchSize: 5, ParallelBatches: 1, RPCRetries: 0}, rpc, s)
	require.NoError(t, orc.Initialize(context.Background()))

	go func() {
		require.NoError(t, orc.Start(context.Background()))
	}()

	time.Sleep(20 * time.Millisecond)
	orc.Stop()

	require.Equal(t, StateStopped, orc.State())
}
