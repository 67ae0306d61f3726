// Package transport sends pipelined batches of meta commands to memcached.
//
// A Cluster routes each request to a server by key, and each server has a
// connection pool and an optional circuit breaker. Replies are decoded with
// package meta and returned in request order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

// server wraps a pool with its optional circuit breaker.
type server struct {
	pool    *Pool
	breaker *gobreaker.CircuitBreaker[[]Reply] // nil if not configured
}

func (s *server) execute(ctx context.Context, reqs []Request) ([]Reply, error) {
	if s.breaker == nil {
		return s.pool.Execute(ctx, reqs)
	}
	return s.breaker.Execute(func() ([]Reply, error) {
		return s.pool.Execute(ctx, reqs)
	})
}

// ServerStats is a snapshot of one server of a cluster.
type ServerStats struct {
	Addr    string
	Pool    PoolStats
	Breaker gobreaker.State // gobreaker.StateClosed when no breaker is configured
}

// Cluster routes requests to a fixed list of servers by key.
// Pools are created on first use.
type Cluster struct {
	addrs        []string
	cfg          Config
	selectServer ServerSelector

	mu      sync.Mutex
	servers map[string]*server
	closed  bool
}

// NewCluster creates a cluster over addrs using DefaultServerSelector.
func NewCluster(addrs []string, cfg Config) (*Cluster, error) {
	if len(addrs) == 0 {
		return nil, ErrNoServers
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Cluster{
		addrs:        append([]string(nil), addrs...),
		cfg:          cfg,
		selectServer: DefaultServerSelector,
		servers:      make(map[string]*server, len(addrs)),
	}, nil
}

// ServerFor returns the address owning key.
func (c *Cluster) ServerFor(key []byte) string {
	return c.addrs[c.selectServer(key, len(c.addrs))]
}

// Execute runs a batch, splitting it per server. Sub-batches run
// concurrently and replies are returned in request order. mn requests go to
// the server of the first request.
//
// On error no replies are returned.
func (c *Cluster) Execute(ctx context.Context, reqs []Request) ([]Reply, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	groups := make(map[string][]int)
	var order []string
	for i, r := range reqs {
		key := r.Key
		if len(key) == 0 {
			key = reqs[0].Key
		}
		addr := c.ServerFor(key)
		if _, ok := groups[addr]; !ok {
			order = append(order, addr)
		}
		groups[addr] = append(groups[addr], i)
	}

	if len(order) == 1 {
		s, err := c.server(order[0])
		if err != nil {
			return nil, err
		}
		replies, err := s.execute(ctx, reqs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", order[0], err)
		}
		return replies, nil
	}

	replies := make([]Reply, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range order {
		s, err := c.server(addr)
		if err != nil {
			return nil, err
		}

		idx := groups[addr]
		g.Go(func() error {
			sub := make([]Request, len(idx))
			for j, i := range idx {
				sub[j] = reqs[i]
			}

			subReplies, err := s.execute(gctx, sub)
			if err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			for j, i := range idx {
				replies[i] = subReplies[j]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

func (c *Cluster) server(addr string) (*server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if s, ok := c.servers[addr]; ok {
		return s, nil
	}

	pool, err := NewPool(addr, c.cfg)
	if err != nil {
		return nil, err
	}

	s := &server{pool: pool}
	if c.cfg.Breaker != nil {
		s.breaker = newBreaker(addr, c.cfg.Breaker, c.cfg.logger())
	}
	c.servers[addr] = s
	return s, nil
}

// Stats returns a snapshot for every server that has been used.
func (c *Cluster) Stats() []ServerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make([]ServerStats, 0, len(c.servers))
	for _, addr := range c.addrs {
		s, ok := c.servers[addr]
		if !ok {
			continue
		}
		st := ServerStats{Addr: addr, Pool: s.pool.Stats()}
		if s.breaker != nil {
			st.Breaker = s.breaker.State()
		}
		stats = append(stats, st)
	}
	return stats
}

// Close closes all pools. Later calls to Execute return ErrClosed.
func (c *Cluster) Close() {
	c.mu.Lock()
	servers := c.servers
	c.servers = nil
	c.closed = true
	c.mu.Unlock()

	for _, s := range servers {
		s.pool.Close()
	}
}

// IsUnavailable reports whether err was raised by an open circuit breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
