// Package rpcclient translates block-number ranges into JSON-RPC calls
// against an EVM-compatible endpoint, hiding transport failures behind
// bounded retry. It is built directly on github.com/ethereum/go-ethereum/rpc,
// used at the raw CallContext level (rather than ethclient's higher-level
// wrappers) so that the "no such block returns nil, not an error" and
// "hash-only vs full tx bodies" contracts stay under our control instead
// of ethclient's.
package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/b-rucel/pulseexplorer/internal/metrics"
)

// Config configures a Client.
type Config struct {
	HTTPURL      string
	WSURL        string // optional; discarded silently on dial/handshake failure
	Timeout      time.Duration
	Retries      int // R: retry budget for GetBlock and HeadHeight; a negative value becomes 3
	ChainID      uint64
	WithTxBodies bool // consistent mode for the lifetime of one run
}

// Client is the indexer's sole connection to the chain endpoint. It is
// safe for concurrent use by multiple batch workers.
type Client struct {
	http *gethrpc.Client
	ws   *gethrpc.Client // nil if not configured or if the handshake failed

	timeout      time.Duration
	retries      int
	chainID      uint64
	withTxBodies bool

	closeOnce sync.Once
}

// Dial connects to the configured HTTP endpoint and, if WSURL is set,
// attempts a websocket dial too. A websocket failure is never fatal — it
// is logged and the client falls back to HTTP-only, per spec.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPURL == "" {
		return nil, errors.New("rpcclient: HTTPURL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 3
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	httpClient, err := gethrpc.DialContext(dialCtx, cfg.HTTPURL)
	if err != nil {
		return nil, &TransportError{Op: "dial http", Err: err}
	}

	c := &Client{
		http:         httpClient,
		timeout:      cfg.Timeout,
		retries:      cfg.Retries,
		chainID:      cfg.ChainID,
		withTxBodies: cfg.WithTxBodies,
	}

	if cfg.WSURL != "" {
		wsCtx, wsCancel := context.WithTimeout(ctx, cfg.Timeout)
		ws, err := gethrpc.DialContext(wsCtx, cfg.WSURL)
		wsCancel()
		if err != nil {
			log.Warn("websocket dial failed, continuing with http only", "url", cfg.WSURL, "err", err)
		} else {
			c.ws = ws
		}
	}

	return c, nil
}

// Close releases the HTTP and (if present) websocket transports. Safe to
// call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.http.Close()
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// Healthy performs a single cheap probe; it never returns an error, only
// a boolean, per spec's "never raises" contract.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.headHeightOnce(ctx)
	return err == nil
}

// HeadHeight returns the current chain tip height. It fails only when all
// retries (reusing the same backoff schedule as getBlock) are exhausted.
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	var height uint64
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if sleepErr := sleepBackoffFn(ctx, attempt-1); sleepErr != nil {
				return 0, sleepErr
			}
		}
		height, err = c.headHeightOnce(ctx)
		if err == nil {
			return height, nil
		}
	}
	return 0, err
}

func (c *Client) headHeightOnce(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var result hexutil.Uint64
	if err := c.http.CallContext(callCtx, &result, "eth_blockNumber"); err != nil {
		return 0, &TransportError{Op: "eth_blockNumber", Err: err}
	}
	return uint64(result), nil
}

// VerifyChainID confirms the endpoint reports the configured chain id.
// Called once at startup; a mismatch is a fatal configuration problem.
func (c *Client) VerifyChainID(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var result hexutil.Big
	if err := c.http.CallContext(callCtx, &result, "eth_chainId"); err != nil {
		return &TransportError{Op: "eth_chainId", Err: err}
	}
	got := (*big.Int)(&result).Uint64()
	if got != c.chainID {
		return fmt.Errorf("rpcclient: endpoint chain id %d does not match configured chain id %d", got, c.chainID)
	}
	return nil
}

// GetBlock fetches the block at height n. It returns (nil, nil) — not an
// error — when the endpoint reports no such block (future or pruned
// height), per spec's "BlockNotFound is a value, not an error" contract.
// Only transport/parse/schema faults are retried.
func (c *Client) GetBlock(ctx context.Context, n uint64) (*RemoteBlock, error) {
	var blk *RemoteBlock
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if sleepErr := sleepBackoffFn(ctx, attempt-1); sleepErr != nil {
				return nil, sleepErr
			}
		}
		blk, err = c.getBlockOnce(ctx, n)
		if err == nil {
			return blk, nil
		}
		// A not-found block comes back from getBlockOnce as (nil, nil) and
		// returns above without a retry. Anything reaching here is
		// transport/schema and worth retrying.
	}
	metrics.RPCErrors.WithLabelValues("eth_getBlockByNumber").Inc()
	return nil, err
}

func (c *Client) getBlockOnce(ctx context.Context, n uint64) (*RemoteBlock, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw json.RawMessage
	err := c.http.CallContext(callCtx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(n), c.withTxBodies)
	if err != nil {
		return nil, &TransportError{Op: "eth_getBlockByNumber", Err: err}
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil // BlockNotFound: a value, not an error.
	}

	var blk RemoteBlock
	if err := json.Unmarshal(raw, &blk); err != nil {
		return nil, &TransportError{Op: "decode eth_getBlockByNumber", Err: err}
	}

	got, err := hexutil.DecodeUint64(blk.Number)
	if err != nil {
		return nil, &TransportError{Op: "decode block number", Err: err}
	}
	if got != n {
		return nil, &SchemaMismatchError{Requested: n, Got: got}
	}
	if blk.Hash == "" || blk.ParentHash == "" || blk.Miner == "" {
		return nil, &SchemaMismatchError{Requested: n, Got: got}
	}
	return &blk, nil
}

// GetRange fetches heights from..to inclusive. Every height must yield a
// block in ascending order or the whole call fails — it is implemented as
// sequential GetBlock calls, so the failure mode is "first failure
// surfaces, no partial result" exactly as spec requires.
func (c *Client) GetRange(ctx context.Context, from, to uint64) ([]*RemoteBlock, error) {
	if from > to {
		return nil, fmt.Errorf("rpcclient: invalid range %d..%d", from, to)
	}
	blocks := make([]*RemoteBlock, 0, to-from+1)
	for n := from; n <= to; n++ {
		blk, err := c.GetBlock(ctx, n)
		if err != nil {
			return nil, err
		}
		if blk == nil {
			return nil, fmt.Errorf("rpcclient: missing block %d inside range %d..%d", n, from, to)
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

// GetSet fetches an arbitrary set of heights with at most concurrency
// requests in flight at once. Heights that come back nil are silently
// dropped; result order is unspecified.
func (c *Client) GetSet(ctx context.Context, heights []uint64, concurrency int) ([]*RemoteBlock, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	results := make([]*RemoteBlock, len(heights))
	errs := make([]error, len(heights))

	var wg sync.WaitGroup
	for i, h := range heights {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, h uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			blk, err := c.GetBlock(ctx, h)
			results[i] = blk
			errs[i] = err
		}(i, h)
	}
	wg.Wait()

	out := make([]*RemoteBlock, 0, len(heights))
	for i, blk := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if blk != nil {
			out = append(out, blk)
		}
	}
	return out, nil
}

// sleepBackoffFn is a package-level indirection so tests can stub out the
// real delay; production code never reassigns it.
var sleepBackoffFn = sleepBackoff

func sleepBackoff(ctx context.Context, k int) error {
	d := time.Duration(1<<uint(k)) * time.Second
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
