package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration shared by all server pools of a cluster.
type Config struct {
	// MaxConns is the maximum number of connections per server.
	// Required: must be > 0.
	MaxConns int32

	// DialTimeout bounds connection establishment when the acquire context
	// has no earlier deadline. Zero means no limit.
	DialTimeout time.Duration

	// Dial opens network connections.
	// If nil, a net.Dialer with DialTimeout is used.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// LegacySize writes the data size of ms commands with the S prefix,
	// for servers older than memcached 1.6.
	LegacySize bool

	// Breaker configures a circuit breaker per server.
	// If nil, no circuit breaker is used.
	Breaker *BreakerConfig

	// Logger receives connection and breaker events.
	// If nil, logging is disabled.
	Logger *zap.Logger
}

func (c Config) validate() error {
	if c.MaxConns <= 0 {
		return errors.New("transport: MaxConns must be > 0")
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) dial(ctx context.Context, addr string) (net.Conn, error) {
	if c.Dial != nil {
		return c.Dial(ctx, "tcp", addr)
	}
	d := net.Dialer{Timeout: c.DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}
