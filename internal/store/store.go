package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the blocks table: writes, existence/lookup/delete queries,
// and aggregate stats. Every method acquires-and-releases its own
// connection except SaveBatch, which holds one connection for the whole
// transaction, per spec's connection-pool contract.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using dsn (a libpq-style connection string,
// see config.Config.DSN) and returns a Store backed by a bounded pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const insertBlockSQL = `
INSERT INTO blocks (
	hash, number, parent_hash, miner, timestamp,
	gas_limit, gas_used, base_fee_per_gas,
	transactions_root, state_root, receipts_root,
	difficulty, nonce, extra_data, size, transaction_count
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8,
	$9, $10, $11,
	$12, $13, $14, $15, $16
)
ON CONFLICT (hash) DO NOTHING`

func blockArgs(b *Block) []any {
	return []any{
		b.Hash, b.Number, b.ParentHash, b.Miner, b.Timestamp,
		b.GasLimit, b.GasUsed, b.BaseFeePerGas,
		b.TransactionsRoot, b.StateRoot, b.ReceiptsRoot,
		b.Difficulty, b.Nonce, b.ExtraData, b.Size, b.TransactionCount,
	}
}

// SaveOne inserts a single block. ON CONFLICT (hash) DO NOTHING makes
// re-inserting an identical hash a no-op; the bool return reports whether
// a new row was actually written.
func (s *Store) SaveOne(ctx context.Context, b *Block) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertBlockSQL, blockArgs(b)...)
	if err != nil {
		return false, fmt.Errorf("store: save one block %d: %w", b.Number, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveBatch opens a transaction, inserts every block with the same
// conflict clause, and commits atomically. Either every block in blocks
// ends up durable or none do — on any error the transaction rolls back
// and the error propagates, so the caller's currentBlock cursor is never
// advanced past a half-written batch. Returns the count of newly
// inserted rows; a block skipped by conflict is not a failure.
func (s *Store) SaveBatch(ctx context.Context, blocks []*Block) (int, error) {
	if len(blocks) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	inserted := 0
	for _, b := range blocks {
		tag, err := tx.Exec(ctx, insertBlockSQL, blockArgs(b)...)
		if err != nil {
			return 0, fmt.Errorf("store: insert block %d in batch: %w", b.Number, err)
		}
		if tag.RowsAffected() == 1 {
			inserted++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit batch: %w", err)
	}
	return inserted, nil
}

// Exists reports whether a row exists at the given height.
func (s *Store) Exists(ctx context.Context, number uint64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM blocks WHERE number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: exists %d: %w", number, err)
	}
	return exists, nil
}

// Get returns the row at the given height, or (nil, nil) if none exists.
func (s *Store) Get(ctx context.Context, number uint64) (*Block, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT hash, number, parent_hash, miner, timestamp,
		       gas_limit, gas_used, base_fee_per_gas,
		       transactions_root, state_root, receipts_root,
		       difficulty, nonce, extra_data, size, transaction_count
		FROM blocks WHERE number = $1`, number)

	b := &Block{}
	err := row.Scan(
		&b.Hash, &b.Number, &b.ParentHash, &b.Miner, &b.Timestamp,
		&b.GasLimit, &b.GasUsed, &b.BaseFeePerGas,
		&b.TransactionsRoot, &b.StateRoot, &b.ReceiptsRoot,
		&b.Difficulty, &b.Nonce, &b.ExtraData, &b.Size, &b.TransactionCount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %d: %w", number, err)
	}
	return b, nil
}

// Highest returns the maximum stored block number, or (0, false) if the
// store is empty.
func (s *Store) Highest(ctx context.Context) (uint64, bool, error) {
	var n *uint64
	err := s.pool.QueryRow(ctx, `SELECT MAX(number) FROM blocks`).Scan(&n)
	if err != nil {
		return 0, false, fmt.Errorf("store: highest: %w", err)
	}
	if n == nil {
		return 0, false, nil
	}
	return *n, true, nil
}

// Count returns the total row count.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// DeleteFrom removes every row with number >= n and returns the delete
// count. This is the only in-place mutation the writer performs, used
// exclusively by reorg repair.
func (s *Store) DeleteFrom(ctx context.Context, n uint64) (uint64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blocks WHERE number >= $1`, n)
	if err != nil {
		return 0, fmt.Errorf("store: delete from %d: %w", n, err)
	}
	return uint64(tag.RowsAffected()), nil
}

// Stats aggregates the metrics described in spec §4.2.
type Stats struct {
	TotalBlocks       uint64
	FirstBlock        *uint64
	LastBlock         *uint64
	TotalTransactions uint64
	AvgTxPerBlock     float64
	TotalGasUsed      string
	AvgGasPerBlock    float64
}

// GetStats computes the writer-side aggregate statistics.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			MIN(number),
			MAX(number),
			COALESCE(SUM(transaction_count), 0),
			COALESCE(SUM(gas_used), 0)::text,
			COALESCE(AVG(gas_used), 0)::float8
		FROM blocks`)

	var stats Stats
	var totalGas string
	if err := row.Scan(&stats.TotalBlocks, &stats.FirstBlock, &stats.LastBlock,
		&stats.TotalTransactions, &totalGas, &stats.AvgGasPerBlock); err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	stats.TotalGasUsed = totalGas
	if stats.TotalBlocks > 0 {
		stats.AvgTxPerBlock = float64(stats.TotalTransactions) / float64(stats.TotalBlocks)
	}
	return &stats, nil
}
