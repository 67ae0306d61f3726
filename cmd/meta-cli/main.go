// Command meta-cli sends memcached meta commands typed on the command line
// or read line by line from stdin.
//
//	meta-cli --servers 127.0.0.1:11211 ms greeting hello T60
//	meta-cli mg greeting v t c
//	echo 'mg a v q ; mg b v q' | meta-cli
//
// Commands separated by ";" are pipelined in one batch.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/RevenueCat/meta-memcache-socket/internal/cliutil"
	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
)

const helpText = `Commands (flags use meta protocol letters):
  mg|get <key> [flags]          e.g. mg foo v c t
  ms|set <key> <value> [flags]  e.g. ms foo bar T60 MS
  md|del <key> [flags]
  ma|incr|decr <key> [flags]    e.g. ma counter N0 J1 D5 v
  mn|noop
  help, quit
Separate commands with ";" to pipeline them. Quote keys to use escapes: "k\x20y".`

func main() {
	app := &cli.App{
		Name:      "meta-cli",
		Usage:     "send memcached meta protocol commands",
		ArgsUsage: "[<cmd> <key> [value] [flags...]]",
		Flags: append(cliutil.Flags(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "print the bytes each command puts on the wire without connecting",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 2 * time.Second,
				Usage: "timeout per batch",
			},
		),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type executeFunc func(ctx context.Context, reqs []transport.Request) ([]transport.Reply, error)

type session struct {
	out        io.Writer
	logger     *zap.Logger
	execute    executeFunc // nil in dry-run mode
	legacySize bool
	timeout    time.Duration
}

func run(c *cli.Context) error {
	logger, err := cliutil.NewLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s := &session{
		out:        c.App.Writer,
		logger:     logger,
		legacySize: c.Bool("legacy-size"),
		timeout:    c.Duration("timeout"),
	}

	if !c.Bool("dry-run") {
		cluster, err := cliutil.NewCluster(c, logger)
		if err != nil {
			return err
		}
		defer cluster.Close()
		s.execute = cluster.Execute
	}

	if c.NArg() > 0 {
		return s.handle(c.Context, strings.Join(c.Args().Slice(), " "))
	}
	return s.repl(c.Context, c.App.Reader)
}

// repl handles input lines until EOF or quit. Errors are printed and do
// not stop the loop.
func (s *session) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "help":
			fmt.Fprintln(s.out, helpText)
			continue
		}

		if err := s.handle(ctx, line); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}

	fmt.Fprintln(s.out)
	return scanner.Err()
}

// handle parses a line of ";" separated commands and runs them as one batch.
func (s *session) handle(ctx context.Context, line string) error {
	var reqs []transport.Request
	for _, part := range strings.Split(line, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		req, err := parseLine(part)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	if s.execute == nil {
		for _, req := range reqs {
			if err := renderWire(s.out, req, s.legacySize); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	replies, err := s.execute(ctx, reqs)
	s.logger.Debug("batch executed",
		zap.Int("requests", len(reqs)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return err
	}

	for _, r := range replies {
		if err := renderReply(s.out, r); err != nil {
			return err
		}
	}
	return nil
}
