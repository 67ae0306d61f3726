package testutils

import (
	"bytes"
	"io"
	"net"
	"strings"
	"time"
)

// ConnectionMock is a net.Conn replaying scripted server output.
type ConnectionMock struct {
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   bool

	// ChunkSize limits the bytes returned by each Read, to exercise
	// incremental parsing. Zero means no limit.
	ChunkSize int

	// ReadErr is returned once the scripted output is exhausted.
	// Defaults to io.EOF.
	ReadErr error

	// WriteErr, when set, fails every Write.
	WriteErr error

	// OnWrite, when set, runs before each Write.
	OnWrite func()

	deadline time.Time
}

// NewConnectionMock creates a mock connection that will return responseData
// to successive reads.
func NewConnectionMock(responseData ...string) *ConnectionMock {
	return &ConnectionMock{
		readBuf:  bytes.NewBufferString(strings.Join(responseData, "")),
		writeBuf: &bytes.Buffer{},
		ReadErr:  io.EOF,
	}
}

func (m *ConnectionMock) Read(b []byte) (int, error) {
	if m.readBuf.Len() == 0 {
		return 0, m.ReadErr
	}
	if m.ChunkSize > 0 && len(b) > m.ChunkSize {
		b = b[:m.ChunkSize]
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (int, error) {
	if m.OnWrite != nil {
		m.OnWrite()
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.closed = true
	return nil
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.deadline = t
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// Written returns the raw bytes written to the mock connection.
func (m *ConnectionMock) Written() string {
	return m.writeBuf.String()
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	return m.closed
}

// Deadline returns the last deadline set.
func (m *ConnectionMock) Deadline() time.Time {
	return m.deadline
}
