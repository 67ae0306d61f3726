// Package cliutil holds the flags and setup shared by the command line tools.
package cliutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
)

// Flags returns the flags common to all tools.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "servers",
			Aliases: []string{"s"},
			Value:   cli.NewStringSlice("127.0.0.1:11211"),
			Usage:   "memcached servers (host:port), comma separated",
			EnvVars: []string{"META_SERVERS"},
		},
		&cli.IntFlag{
			Name:  "max-conns",
			Value: 4,
			Usage: "maximum connections per server",
		},
		&cli.DurationFlag{
			Name:  "dial-timeout",
			Value: time.Second,
			Usage: "connection timeout",
		},
		&cli.BoolFlag{
			Name:  "legacy-size",
			Usage: "prefix data sizes with S for memcached < 1.6",
		},
		&cli.BoolFlag{
			Name:  "breaker",
			Usage: "enable the per-server circuit breaker",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "log level: debug, info, warn, error",
			EnvVars: []string{"META_LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:  "log-dev",
			Usage: "human readable development logs",
		},
	}
}

// NewLogger builds the logger selected by --log-level and --log-dev.
func NewLogger(c *cli.Context) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if c.Bool("log-dev") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}

// Servers returns the --servers list, splitting comma separated values.
func Servers(c *cli.Context) []string {
	var servers []string
	for _, v := range c.StringSlice("servers") {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
	}
	return servers
}

// NewCluster creates a cluster from the common flags.
func NewCluster(c *cli.Context, logger *zap.Logger) (*transport.Cluster, error) {
	cfg := transport.Config{
		MaxConns:    int32(c.Int("max-conns")),
		DialTimeout: c.Duration("dial-timeout"),
		LegacySize:  c.Bool("legacy-size"),
		Logger:      logger,
	}
	if c.Bool("breaker") {
		cfg.Breaker = transport.DefaultBreakerConfig()
	}

	return transport.NewCluster(Servers(c), cfg)
}
