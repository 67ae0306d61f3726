package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
	"github.com/RevenueCat/meta-memcache-socket/meta"
)

const (
	// unavailableBackoff is the pause after a batch rejected by an open
	// breaker or a server that cannot be dialed.
	unavailableBackoff = 100 * time.Millisecond

	// warnInterval limits batch failure warnings per worker.
	warnInterval = time.Second
)

type executeFunc func(ctx context.Context, reqs []transport.Request) ([]transport.Reply, error)

// result holds the totals of a run. Counters are updated atomically by the
// workers.
type result struct {
	Duration time.Duration

	Batches      atomic.Int64
	BatchErrors  atomic.Int64
	Requests     atomic.Int64
	Hits         atomic.Int64
	Misses       atomic.Int64
	Stored       atomic.Int64
	NotStored    atomic.Int64
	TotalLatency atomic.Int64 // nanoseconds
}

func (r *result) record(reqs []transport.Request, replies []transport.Reply, took time.Duration, err error) {
	r.Batches.Add(1)
	r.TotalLatency.Add(int64(took))
	if err != nil {
		r.BatchErrors.Add(1)
		return
	}

	r.Requests.Add(int64(len(reqs)))
	for i, reply := range replies {
		switch reqs[i].Command {
		case meta.CmdGet:
			if reply.Type == meta.ResponseValue {
				r.Hits.Add(1)
			} else {
				r.Misses.Add(1)
			}
		case meta.CmdSet:
			if reply.Suppressed || reply.Type == meta.ResponseSuccess {
				r.Stored.Add(1)
			} else {
				r.NotStored.Add(1)
			}
		}
	}
}

// runner drives the workers.
type runner struct {
	execute  executeFunc
	workload *workload
	workers  int
	seed     uint64
	metrics  *metrics
	logger   *zap.Logger
	backoff  time.Duration // defaults to unavailableBackoff
}

// preload stores every key of the key space once so gets can hit.
func (r *runner) preload(ctx context.Context) error {
	for start := 0; start < r.workload.keys; start += r.workload.batchSize {
		end := min(start+r.workload.batchSize, r.workload.keys)

		reqs := make([]transport.Request, 0, end-start)
		for i := start; i < end; i++ {
			reqs = append(reqs, transport.Request{
				Command: meta.CmdSet,
				Key:     r.workload.key(i),
				Value:   r.workload.value,
				Flags:   r.workload.setFlags,
			})
		}

		if _, err := r.execute(ctx, reqs); err != nil {
			return fmt.Errorf("preload: %w", err)
		}
	}
	return nil
}

// run executes batches until ctx is done.
func (r *runner) run(ctx context.Context) *result {
	res := &result{}
	start := time.Now()

	var wg sync.WaitGroup
	for id := range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, rand.New(rand.NewPCG(r.seed, uint64(id))), res)
		}()
	}
	wg.Wait()

	res.Duration = time.Since(start)
	return res
}

func (r *runner) work(ctx context.Context, rng *rand.Rand, res *result) {
	var reqs []transport.Request

	var lastWarn time.Time
	suppressed := 0

	backoff := r.backoff
	if backoff <= 0 {
		backoff = unavailableBackoff
	}

	for ctx.Err() == nil {
		reqs = r.workload.batch(rng, reqs)

		start := time.Now()
		replies, err := r.execute(ctx, reqs)
		took := time.Since(start)

		// Batches cut short by the end of the run are not counted.
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			if time.Since(lastWarn) >= warnInterval {
				r.logger.Warn("batch failed", zap.Error(err), zap.Int("suppressed", suppressed))
				lastWarn, suppressed = time.Now(), 0
			} else {
				suppressed++
			}
		}

		res.record(reqs, replies, took, err)
		if r.metrics != nil {
			r.metrics.recordBatch(reqs, replies, took, err)
		}

		if shouldBackOff(err) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}

// shouldBackOff reports whether err failed fast because the server cannot
// take requests.
func shouldBackOff(err error) bool {
	if err == nil {
		return false
	}
	var cerr *transport.ConnectionError
	return transport.IsUnavailable(err) || (errors.As(err, &cerr) && cerr.Op == "dial")
}

func printSummary(w io.Writer, res *result) {
	batches := res.Batches.Load()
	requests := res.Requests.Load()
	hits, misses := res.Hits.Load(), res.Misses.Load()

	fmt.Fprintf(w, "Duration:     %v\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Batches:      %d (%d failed)\n", batches, res.BatchErrors.Load())
	fmt.Fprintf(w, "Requests:     %d\n", requests)
	if res.Duration > 0 {
		fmt.Fprintf(w, "Throughput:   %.0f req/s\n", float64(requests)/res.Duration.Seconds())
	}
	if batches > 0 {
		fmt.Fprintf(w, "Avg batch:    %v\n", time.Duration(res.TotalLatency.Load()/batches))
	}
	if hits+misses > 0 {
		fmt.Fprintf(w, "Gets:         %d (hit ratio %.1f%%)\n", hits+misses, 100*float64(hits)/float64(hits+misses))
	}
	fmt.Fprintf(w, "Sets:         %d (%d not stored)\n", res.Stored.Load()+res.NotStored.Load(), res.NotStored.Load())
}
