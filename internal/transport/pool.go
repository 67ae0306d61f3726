package transport

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"
)

// PoolStats is a snapshot of a server pool.
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait for a connection
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Canceled acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Connections in pool (active + idle)
	IdleConns   int32 // Idle connections
	ActiveConns int32 // Connections currently executing
}

// Pool is a set of connections to a single server.
type Pool struct {
	addr   string
	pool   *puddle.Pool[*Conn]
	logger *zap.Logger

	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

// NewPool creates a pool for addr. Connections are dialed on demand.
func NewPool(addr string, cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		addr:   addr,
		logger: cfg.logger().With(zap.String("addr", addr)),
	}

	poolConfig := &puddle.Config[*Conn]{
		Constructor: func(ctx context.Context) (*Conn, error) {
			nc, err := cfg.dial(ctx, addr)
			if err != nil {
				p.logger.Debug("dial failed", zap.Error(err))
				return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
			}
			p.createdConns.Add(1)
			return NewConn(nc, p.logger, cfg.LegacySize), nil
		},
		Destructor: func(c *Conn) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: cfg.MaxConns,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Execute runs a batch on one pooled connection. Connections left in an
// unknown state are destroyed instead of returned to the pool.
func (p *Pool) Execute(ctx context.Context, reqs []Request) ([]Reply, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrClosed
		}
		return nil, err
	}

	replies, err := res.Value().Execute(ctx, reqs)
	if err != nil && ShouldCloseConnection(err) {
		p.logger.Debug("destroying connection", zap.Error(err))
		res.Destroy()
		return nil, err
	}

	res.Release()
	return replies, err
}

// Addr returns the server address.
func (p *Pool) Addr() string {
	return p.addr
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

// Close closes all connections. It waits for acquired connections to be
// released.
func (p *Pool) Close() {
	p.pool.Close()
}
