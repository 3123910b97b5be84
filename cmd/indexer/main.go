// Command indexer runs the pulseexplorer block indexer: it backfills the
// configured chain from its last durable checkpoint to the current tip,
// then tails new blocks as they arrive, repairing reorgs along the way.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/b-rucel/pulseexplorer/internal/config"
	"github.com/b-rucel/pulseexplorer/internal/logging"
	"github.com/b-rucel/pulseexplorer/internal/metrics"
	"github.com/b-rucel/pulseexplorer/internal/orchestrator"
	"github.com/b-rucel/pulseexplorer/internal/rpcclient"
	"github.com/b-rucel/pulseexplorer/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "backfill and tail an EVM chain into Postgres",
		Action: func(c *cli.Context) error {
			return run(c.Context)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "indexer:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.LogLevel)

	// Startup calls (dial, verify, open) still honor the cli-provided ctx so
	// a signal during connection setup aborts promptly. Once the
	// orchestrator is running, its work proceeds on workCtx instead, which
	// is never canceled: in-flight batches must complete naturally, and
	// shutdown is driven explicitly through orc.Stop() below.
	startupCtx, cancelStartup := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelStartup()
	workCtx := context.Background()

	rpc, err := rpcclient.Dial(startupCtx, rpcclient.Config{
		HTTPURL:      cfg.RPCURL,
		WSURL:        cfg.RPCWSURL,
		Timeout:      cfg.RPCTimeout,
		Retries:      cfg.RPCRetries,
		ChainID:      config.ChainID,
		WithTxBodies: false,
	})
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer rpc.Close()

	if err := rpc.VerifyChainID(startupCtx); err != nil {
		return fmt.Errorf("verify chain id: %w", err)
	}

	db, err := store.Open(startupCtx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	orc := orchestrator.New(orchestrator.Config{
		StartBlock:       cfg.StartBlock,
		BatchSize:        cfg.BatchSize,
		ParallelBatches:  cfg.ParallelBatches,
		BlockDelay:       cfg.BlockDelay,
		EnableReorgCheck: cfg.EnableReorgCheck,
		RPCRetries:       cfg.RPCRetries,
		PollInterval:     cfg.PollInterval,
	}, rpc, db)

	if err := orc.Initialize(startupCtx); err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	metricsSrv := metrics.NewServer("127.0.0.1:9090", rpc)
	if err := metricsSrv.Start(); err != nil {
		log.Warn("metrics server failed to start, continuing without it", "err", err)
	} else {
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shCtx)
		}()
	}

	stopReporting := reportProgress(workCtx, orc)
	defer stopReporting()

	runErr := runUntilSignal(orc, workCtx)

	sumCtx, cancelSum := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSum()
	if p, err := orc.Stats(sumCtx); err != nil {
		log.Warn("shutdown summary unavailable", "err", err)
	} else {
		var lastBlock any = "none"
		if p.LastBlock != nil {
			lastBlock = *p.LastBlock
		}
		log.Info("shutdown summary", "indexed", p.Indexed, "lastBlock", lastBlock,
			"totalTransactions", p.TotalTransactions, "progressPct", p.ProgressPct)
	}
	log.Info("shutdown complete", "state", orc.State().String())
	return runErr
}

// runUntilSignal runs the orchestrator on workCtx and, on the first
// SIGINT/SIGTERM, calls orc.Stop() so the current chunk or poll tick
// finishes and in-flight batches complete naturally instead of being
// aborted mid-flight. A second signal forces an immediate exit.
func runUntilSignal(orc *orchestrator.Orchestrator, workCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- orc.Start(workCtx) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case runErr := <-done:
		return runErr
	case sig := <-sigCh:
		log.Info("received shutdown signal, stopping gracefully", "signal", sig.String())
		go orc.Stop()
		select {
		case sig2 := <-sigCh:
			log.Warn("received second signal, forcing immediate exit", "signal", sig2.String())
			os.Exit(1)
			return nil // unreachable
		case runErr := <-done:
			return runErr
		}
	}
}

// reportProgress polls orchestrator stats on a fixed cadence and pushes
// them into the metrics package. It returns a function that stops the
// reporter.
func reportProgress(ctx context.Context, orc *orchestrator.Orchestrator) func() {
	ticker := time.NewTicker(15 * time.Second)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p, err := orc.Stats(ctx)
				if err != nil {
					log.Warn("progress report failed", "err", err)
					continue
				}
				ratio := progressRatio(p.Indexed, p.ChainHeight)
				metrics.Observe(p.Indexed, p.ChainHeight, p.Behind, ratio)
				log.Info("progress", "indexed", p.Indexed, "chainHeight", p.ChainHeight,
					"behind", p.Behind, "progress", p.ProgressPct)
			}
		}
	}()

	return func() { close(done) }
}

func progressRatio(indexed, head uint64) float64 {
	if head == 0 {
		return 1
	}
	num := new(big.Float).SetUint64(indexed)
	den := new(big.Float).SetUint64(head)
	ratio, _ := new(big.Float).Quo(num, den).Float64()
	return ratio
}
