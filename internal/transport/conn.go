package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RevenueCat/meta-memcache-socket/meta"
)

const initialBufferSize = 4096

// Request is a single meta command.
type Request struct {
	Command string // meta.CmdGet, meta.CmdSet, ...
	Key     []byte
	// Value is sent as the data block of meta.CmdSet requests. It is ignored
	// for other commands.
	Value []byte
	Flags *meta.RequestFlags
}

// Reply is the server answer to a Request.
type Reply struct {
	Type  meta.ResponseType
	Flags *meta.ResponseFlags
	Value []byte

	// Suppressed is set for quiet requests the server did not answer:
	// a miss for mg, a success for ms, md and ma. A suppressed reply has
	// Type ResponseUnrecognized and nil Flags, so check Suppressed first.
	Suppressed bool
}

// Conn is a single connection to a memcached server.
// Execute calls are serialized.
type Conn struct {
	addr       string
	nc         net.Conn
	logger     *zap.Logger
	legacySize bool

	mu     sync.Mutex
	wbuf   []byte
	rbuf   []byte
	rpos   int
	closed bool
}

// NewConn wraps an established network connection.
func NewConn(nc net.Conn, logger *zap.Logger, legacySize bool) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		addr:       nc.RemoteAddr().String(),
		nc:         nc,
		logger:     logger,
		legacySize: legacySize,
		wbuf:       make([]byte, 0, initialBufferSize),
		rbuf:       make([]byte, 0, initialBufferSize),
	}
}

// Execute sends all requests in one write and reads their replies.
//
// Without quiet requests, replies are read in request order. When any
// request carries the q flag, every request is tagged with its index as
// opaque token, the batch is terminated by mn and replies are matched by
// token. Replies carry the caller's own opaque token, if any.
//
// Errors raised before writing leave the connection usable. Any other
// error closes it.
func (c *Conn) Execute(ctx context.Context, reqs []Request) ([]Reply, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	quiet := slices.ContainsFunc(reqs, func(r Request) bool {
		return r.Flags != nil && r.Flags.NoReply
	})
	if quiet && slices.ContainsFunc(reqs, func(r Request) bool { return r.Command == meta.CmdNoOp }) {
		return nil, ErrNoopInQuietBatch
	}

	wbuf, err := c.encode(c.wbuf[:0], reqs, quiet)
	c.wbuf = wbuf
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
	} else {
		_ = c.nc.SetDeadline(time.Time{})
	}

	if _, err := c.nc.Write(wbuf); err != nil {
		c.closeLocked()
		return nil, &ConnectionError{Op: "write", Addr: c.addr, Err: contextCause(ctx, err)}
	}

	replies := make([]Reply, len(reqs))
	if quiet {
		err = c.readMatched(reqs, replies)
	} else {
		err = c.readOrdered(reqs, replies)
	}
	if err != nil {
		c.closeLocked()
		var cerr *ConnectionError
		if errors.As(err, &cerr) {
			cerr.Err = contextCause(ctx, cerr.Err)
		}
		return nil, err
	}

	if c.rpos == len(c.rbuf) {
		c.rbuf = c.rbuf[:0]
		c.rpos = 0
	}

	return replies, nil
}

func (c *Conn) encode(dst []byte, reqs []Request, quiet bool) ([]byte, error) {
	var err error
	for i, r := range reqs {
		if r.Command == meta.CmdNoOp {
			dst = append(dst, meta.CmdNoOp...)
			dst = append(dst, meta.CRLF...)
			continue
		}

		flags := r.Flags
		if quiet {
			tagged := meta.RequestFlags{}
			if flags != nil {
				tagged = *flags
			}
			tagged.Opaque = strconv.AppendInt(nil, int64(i), 10)
			flags = &tagged
		}

		var size *uint32
		if r.Command == meta.CmdSet {
			size = meta.Ptr(uint32(len(r.Value)))
		}

		dst, err = meta.AppendCommand(dst, r.Command, r.Key, size, flags, c.legacySize)
		if err != nil {
			return dst, fmt.Errorf("transport: request %d: %w", i, err)
		}

		if size != nil {
			dst = append(dst, r.Value...)
			dst = append(dst, meta.CRLF...)
		}
	}

	if quiet {
		dst = append(dst, meta.CmdNoOp...)
		dst = append(dst, meta.CRLF...)
	}

	return dst, nil
}

func (c *Conn) readOrdered(reqs []Request, replies []Reply) error {
	for i := range replies {
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if (reply.Type == meta.ResponseNoop) != (reqs[i].Command == meta.CmdNoOp) {
			return &ProtocolError{Line: reply.Type.String(), Reason: "reply does not match request"}
		}
		replies[i] = reply
	}
	return nil
}

func (c *Conn) readMatched(reqs []Request, replies []Reply) error {
	seen := make([]bool, len(reqs))

	for {
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.Type == meta.ResponseNoop {
			break
		}

		idx, err := strconv.Atoi(string(reply.Flags.Opaque))
		if err != nil || idx < 0 || idx >= len(reqs) || seen[idx] {
			return &ProtocolError{Line: string(reply.Flags.Opaque), Reason: "reply with unknown opaque"}
		}
		seen[idx] = true

		reply.Flags.Opaque = nil
		if reqs[idx].Flags != nil {
			reply.Flags.Opaque = reqs[idx].Flags.Opaque
		}
		replies[idx] = reply
	}

	for i, ok := range seen {
		if ok {
			continue
		}
		if reqs[i].Flags == nil || !reqs[i].Flags.NoReply {
			return &ProtocolError{Line: strconv.Itoa(i), Reason: "missing reply for request"}
		}
		replies[i] = Reply{Suppressed: true}
	}

	return nil
}

// readReply reads one reply starting at c.rpos.
func (c *Conn) readReply() (Reply, error) {
	for {
		h, err := meta.ParseHeader(c.rbuf, c.rpos, len(c.rbuf))
		if errors.Is(err, meta.ErrIncompleteHeader) {
			if err := c.fill(); err != nil {
				return Reply{}, err
			}
			continue
		}
		if err != nil {
			return Reply{}, err
		}

		switch h.Type {
		case meta.ResponseUnrecognized:
			line := c.rbuf[c.rpos : h.Next-len(meta.CRLF)]
			c.logger.Debug("unrecognized response", zap.String("addr", c.addr), zap.ByteString("line", line))
			return Reply{}, &ProtocolError{Line: string(line)}

		case meta.ResponseValue:
			return c.readValue(h)

		default:
			flags := h.Flags
			if flags == nil {
				// Miss and failure headers still echo O and k.
				flags = meta.ParseFlags(c.rbuf[c.rpos:h.Next-len(meta.CRLF)], len(meta.TagEnd))
			}
			c.rpos = h.Next
			return Reply{Type: h.Type, Flags: flags}, nil
		}
	}
}

func (c *Conn) readValue(h meta.Header) (Reply, error) {
	// Offsets are relative to c.rpos, which moves when the buffer is compacted.
	bodyStart := h.Next - c.rpos
	bodyEnd := bodyStart + int(*h.Size)
	need := bodyEnd + len(meta.CRLF)

	for len(c.rbuf)-c.rpos < need {
		if err := c.fill(); err != nil {
			return Reply{}, err
		}
	}

	block := c.rbuf[c.rpos : c.rpos+need]
	if !bytes.Equal(block[bodyEnd:], []byte(meta.CRLF)) {
		c.logger.Debug("value block not terminated", zap.String("addr", c.addr), zap.Uint32("size", *h.Size))
		return Reply{}, &ProtocolError{Line: string(block[:bodyStart-len(meta.CRLF)]), Reason: "value block not terminated by CRLF"}
	}

	value := bytes.Clone(block[bodyStart:bodyEnd])
	c.rpos += need

	return Reply{Type: meta.ResponseValue, Flags: h.Flags, Value: value}, nil
}

// fill reads more data into the receive buffer, compacting consumed bytes first.
func (c *Conn) fill() error {
	if c.rpos > 0 {
		n := copy(c.rbuf, c.rbuf[c.rpos:])
		c.rbuf = c.rbuf[:n]
		c.rpos = 0
	}

	if len(c.rbuf) == cap(c.rbuf) {
		c.rbuf = slices.Grow(c.rbuf, max(cap(c.rbuf), initialBufferSize))
	}

	n, err := c.nc.Read(c.rbuf[len(c.rbuf):cap(c.rbuf)])
	c.rbuf = c.rbuf[:len(c.rbuf)+n]
	if n > 0 {
		return nil
	}
	if err == nil {
		return nil
	}

	return &ConnectionError{Op: "read", Addr: c.addr, Err: err}
}

// contextCause attaches the context error to an I/O error that happened
// after ctx was done, usually a timeout from the deadline set from ctx.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w (%w)", err, ctxErr)
	}
	return err
}

// Ping sends a noop and waits for its reply.
func (c *Conn) Ping(ctx context.Context) error {
	replies, err := c.Execute(ctx, []Request{{Command: meta.CmdNoOp}})
	if err != nil {
		return err
	}
	if replies[0].Type != meta.ResponseNoop {
		return &ProtocolError{Line: replies[0].Type.String(), Reason: "unexpected ping reply"}
	}
	return nil
}

// Addr returns the remote address.
func (c *Conn) Addr() string {
	return c.addr
}

// IsClosed reports whether the connection was closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	c.closed = true
	return c.nc.Close()
}
