// Command meta-bench drives a mixed mg/ms workload against memcached through
// the pipelined transport and reports throughput and hit ratio.
//
//	meta-bench --servers 127.0.0.1:11211 --workers 8 --batch 32 --duration 30s
//	meta-bench --quiet-sets --metrics-addr :9100
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/RevenueCat/meta-memcache-socket/internal/cliutil"
)

func main() {
	app := &cli.App{
		Name:  "meta-bench",
		Usage: "benchmark memcached with pipelined meta commands",
		Flags: append(cliutil.Flags(),
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "concurrent workers"},
			&cli.IntFlag{Name: "batch", Value: 16, Usage: "requests per pipelined batch"},
			&cli.DurationFlag{Name: "duration", Value: 5 * time.Second, Usage: "benchmark duration"},
			&cli.IntFlag{Name: "keys", Value: 1000, Usage: "size of the key space"},
			&cli.IntFlag{Name: "value-size", Value: 100, Usage: "size of stored values in bytes"},
			&cli.Float64Flag{Name: "get-ratio", Value: 0.8, Usage: "fraction of requests that are gets"},
			&cli.BoolFlag{Name: "quiet-sets", Usage: "send sets in quiet mode (q)"},
			&cli.UintFlag{Name: "ttl", Usage: "TTL of stored values in seconds, 0 for none"},
			&cli.BoolFlag{Name: "preload", Value: true, Usage: "store every key once before the run"},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed, 0 picks one from the clock"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Int("workers") <= 0 || c.Int("batch") <= 0 || c.Int("keys") <= 0 {
		return errors.New("--workers, --batch and --keys must be positive")
	}
	if ratio := c.Float64("get-ratio"); ratio < 0 || ratio > 1 {
		return fmt.Errorf("--get-ratio must be between 0 and 1, got %v", ratio)
	}

	logger, err := cliutil.NewLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cluster, err := cliutil.NewCluster(c, logger)
	if err != nil {
		return err
	}
	defer cluster.Close()

	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))
	m := newMetrics(runID)

	if addr := c.String("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
		logger.Info("serving metrics", zap.String("addr", addr))
	}

	seed := c.Uint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	r := &runner{
		execute: cluster.Execute,
		workload: newWorkload(runID,
			c.Int("keys"),
			c.Int("batch"),
			c.Int("value-size"),
			c.Float64("get-ratio"),
			c.Bool("quiet-sets"),
			uint32(c.Uint("ttl"))),
		workers: c.Int("workers"),
		seed:    seed,
		metrics: m,
		logger:  logger,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("preload") {
		if err := r.preload(ctx); err != nil {
			return err
		}
	}

	logger.Info("starting benchmark",
		zap.Strings("servers", cliutil.Servers(c)),
		zap.Int("workers", r.workers),
		zap.Int("batch", r.workload.batchSize),
		zap.Duration("duration", c.Duration("duration")),
		zap.Uint64("seed", seed))

	ctx, cancel := context.WithTimeout(ctx, c.Duration("duration"))
	defer cancel()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.recordCluster(cluster.Stats())
			}
		}
	}()

	res := r.run(ctx)
	m.recordCluster(cluster.Stats())

	printSummary(c.App.Writer, res)
	return nil
}
