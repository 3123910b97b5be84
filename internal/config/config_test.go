package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearIndexerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_MAX_CONNECTIONS",
		"RPC_URL", "RPC_WS_URL", "RPC_TIMEOUT", "RPC_RETRIES",
		"INDEXER_START_BLOCK", "INDEXER_BATCH_SIZE", "INDEXER_PARALLEL_BATCHES",
		"INDEXER_BLOCK_DELAY", "INDEXER_ENABLE_REORG_CHECK", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearIndexerEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://rpc.pulsechain.com", cfg.RPCURL)
	require.Equal(t, 5432, cfg.DBPort)
	require.Equal(t, 20, cfg.DBMaxConnections)
	require.Equal(t, 30*time.Second, cfg.RPCTimeout)
	require.Equal(t, 3, cfg.RPCRetries)
	require.Equal(t, uint64(0), cfg.StartBlock)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 5, cfg.ParallelBatches)
	require.Equal(t, time.Duration(0), cfg.BlockDelay)
	require.True(t, cfg.EnableReorgCheck)
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
}

func TestLoadOverrides(t *testing.T) {
	clearIndexerEnv(t)
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("INDEXER_START_BLOCK", "1000")
	t.Setenv("INDEXER_BATCH_SIZE", "10")
	t.Setenv("INDEXER_PARALLEL_BATCHES", "2")
	t.Setenv("INDEXER_BLOCK_DELAY", "500")
	t.Setenv("INDEXER_ENABLE_REORG_CHECK", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8545", cfg.RPCURL)
	require.Equal(t, uint64(1000), cfg.StartBlock)
	require.Equal(t, 10, cfg.BatchSize)
	require.Equal(t, 2, cfg.ParallelBatches)
	require.Equal(t, 500*time.Millisecond, cfg.BlockDelay)
	require.False(t, cfg.EnableReorgCheck)
}

func TestLoadRejectsBadRPCURL(t *testing.T) {
	clearIndexerEnv(t)
	t.Setenv("RPC_URL", "ftp://example.com")

	_, err := Load()
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "RPC_URL", cfgErr.Field)
}

func TestLoadRejectsZeroBatchSize(t *testing.T) {
	clearIndexerEnv(t)
	t.Setenv("INDEXER_BATCH_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonIntegerEnv(t *testing.T) {
	clearIndexerEnv(t)
	t.Setenv("DB_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db.internal", DBPort: 5433, DBName: "chain",
		DBUser: "idx", DBPassword: "secret", DBMaxConnections: 7,
	}
	require.Equal(t, "host=db.internal port=5433 dbname=chain user=idx password=secret pool_max_conns=7", cfg.DSN())
}
