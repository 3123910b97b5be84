// Package config binds the indexer's environment variables into a single
// validated struct, constructed once in main and threaded through the rest
// of the program. No package outside config reads os.Getenv directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PulseChain's nominal block interval; tail-mode polling cadence is pinned
// to it rather than independently configured.
const defaultPollInterval = 12 * time.Second

// ChainID is the fixed chain identity this indexer targets. Cross-chain
// support is a non-goal; this is a constant, not a configuration knob.
const ChainID = 369

// Config is the fully resolved, validated configuration for one run of the
// indexer. Every field here has already passed validation by the time
// Load returns a non-nil Config.
type Config struct {
	DBHost           string
	DBPort           int
	DBName           string
	DBUser           string
	DBPassword       string
	DBMaxConnections int

	RPCURL     string
	RPCWSURL   string
	RPCTimeout time.Duration
	RPCRetries int

	StartBlock       uint64
	BatchSize        int
	ParallelBatches  int
	BlockDelay       time.Duration
	EnableReorgCheck bool
	PollInterval     time.Duration

	LogLevel string
}

// ConfigError marks a fatal configuration problem discovered before the
// indexer enters its Running state. The process must exit 1 on this error
// without attempting to start the RPC or DB connections.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Load reads and validates the environment, returning a ready-to-use
// Config or a *ConfigError describing the first problem found.
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:           getenv("DB_HOST", "localhost"),
		DBName:           getenv("DB_NAME", "pulsechain_explorer"),
		DBUser:           getenv("DB_USER", "postgres"),
		DBPassword:       os.Getenv("DB_PASSWORD"),
		RPCURL:           getenv("RPC_URL", "https://rpc.pulsechain.com"),
		RPCWSURL:         os.Getenv("RPC_WS_URL"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		PollInterval:     defaultPollInterval,
		EnableReorgCheck: true,
	}

	var err error
	if cfg.DBPort, err = getenvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.DBMaxConnections, err = getenvInt("DB_MAX_CONNECTIONS", 20); err != nil {
		return nil, err
	}
	if cfg.RPCTimeout, err = getenvMillis("RPC_TIMEOUT", 30_000); err != nil {
		return nil, err
	}
	if cfg.RPCRetries, err = getenvInt("RPC_RETRIES", 3); err != nil {
		return nil, err
	}
	startBlock, err := getenvInt("INDEXER_START_BLOCK", 0)
	if err != nil {
		return nil, err
	}
	cfg.StartBlock = uint64(startBlock)
	if cfg.BatchSize, err = getenvInt("INDEXER_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.ParallelBatches, err = getenvInt("INDEXER_PARALLEL_BATCHES", 5); err != nil {
		return nil, err
	}
	blockDelayMs, err := getenvInt("INDEXER_BLOCK_DELAY", 0)
	if err != nil {
		return nil, err
	}
	cfg.BlockDelay = time.Duration(blockDelayMs) * time.Millisecond

	if v := os.Getenv("INDEXER_ENABLE_REORG_CHECK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &ConfigError{Field: "INDEXER_ENABLE_REORG_CHECK", Msg: err.Error()}
		}
		cfg.EnableReorgCheck = b
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPCURL == "" {
		return &ConfigError{Field: "RPC_URL", Msg: "must not be empty"}
	}
	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") {
		return &ConfigError{Field: "RPC_URL", Msg: "must be an http(s) URL"}
	}
	if c.DBName == "" {
		return &ConfigError{Field: "DB_NAME", Msg: "must not be empty"}
	}
	if c.DBMaxConnections < 1 {
		return &ConfigError{Field: "DB_MAX_CONNECTIONS", Msg: "must be >= 1"}
	}
	if c.BatchSize < 1 {
		return &ConfigError{Field: "INDEXER_BATCH_SIZE", Msg: "must be >= 1"}
	}
	if c.ParallelBatches < 1 {
		return &ConfigError{Field: "INDEXER_PARALLEL_BATCHES", Msg: "must be >= 1"}
	}
	if c.RPCRetries < 0 {
		return &ConfigError{Field: "RPC_RETRIES", Msg: "must be >= 0"}
	}
	if c.BlockDelay < 0 {
		return &ConfigError{Field: "INDEXER_BLOCK_DELAY", Msg: "must be >= 0"}
	}
	return nil
}

// DSN formats the libpq connection string pgx expects.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBMaxConnections)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Msg: fmt.Sprintf("not an integer: %v", err)}
	}
	return n, nil
}

func getenvMillis(key string, defMs int) (time.Duration, error) {
	n, err := getenvInt(key, defMs)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
