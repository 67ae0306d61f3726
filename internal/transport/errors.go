package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/RevenueCat/meta-memcache-socket/meta"
)

var (
	// ErrClosed is returned when executing on a closed connection, pool or cluster.
	ErrClosed = errors.New("transport: closed")

	// ErrNoServers is returned by a cluster without servers.
	ErrNoServers = errors.New("transport: no servers")

	// ErrNoopInQuietBatch is returned when a batch with quiet requests also
	// holds an mn request, which would end the batch early.
	ErrNoopInQuietBatch = errors.New("transport: mn request in quiet batch")
)

// ConnectionError wraps I/O errors from connection operations.
//
// Connection handling: the connection is broken, CLOSE it.
type ConnectionError struct {
	Op   string // dial, write or read
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ProtocolError is returned when the server sends a line the codec does not
// recognize, such as ERROR, CLIENT_ERROR or SERVER_ERROR, or a value block
// that is not terminated by CRLF.
//
// Connection handling: the remaining replies of the batch are unread, CLOSE it.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport: %s: %q", e.Reason, e.Line)
	}
	return fmt.Sprintf("transport: unexpected response %q", e.Line)
}

func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// errorWithConnectionState is implemented by errors that know whether the
// connection survives them.
type errorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection in an
// unknown state.
//
// Returns false for nil and for errors raised before anything is written:
// key errors, ErrNoopInQuietBatch and a context that was done before the
// batch started. Unknown errors close the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, meta.ErrKeyTooLong) || errors.Is(err, ErrNoopInQuietBatch) {
		return false
	}

	var e errorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	// A bare context error comes from pool acquisition or from the check
	// before the write. I/O interrupted by the context is a ConnectionError.
	if isContextDone(err) {
		return false
	}

	return true
}

// isContextDone reports whether err was caused by the caller's context.
func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
