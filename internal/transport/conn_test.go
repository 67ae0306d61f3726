package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevenueCat/meta-memcache-socket/internal/testutils"
	"github.com/RevenueCat/meta-memcache-socket/meta"
)

func newMockConn(responses ...string) (*Conn, *testutils.ConnectionMock) {
	mock := testutils.NewConnectionMock(responses...)
	return NewConn(mock, nil, false), mock
}

func TestConn_Execute_Get(t *testing.T) {
	conn, mock := newMockConn("VA 5 c9 t-1\r\nhello\r\n")
	mock.ChunkSize = 1

	replies, err := conn.Execute(context.Background(), []Request{{
		Command: meta.CmdGet,
		Key:     []byte("key"),
		Flags:   &meta.RequestFlags{ReturnCASToken: true, ReturnValue: true, ReturnTTL: true},
	}})
	require.NoError(t, err)
	require.Len(t, replies, 1)

	assert.Equal(t, "mg key c v t\r\n", mock.Written())
	assert.Equal(t, meta.ResponseValue, replies[0].Type)
	assert.Equal(t, []byte("hello"), replies[0].Value)
	assert.Equal(t, uint32(9), *replies[0].Flags.CASToken)
	assert.Equal(t, int32(-1), *replies[0].Flags.TTL)
}

func TestConn_Execute_Set(t *testing.T) {
	conn, mock := newMockConn("HD\r\n")

	replies, err := conn.Execute(context.Background(), []Request{{
		Command: meta.CmdSet,
		Key:     []byte("k"),
		Value:   []byte("hello"),
		Flags:   &meta.RequestFlags{CacheTTL: meta.Ptr[uint32](60)},
	}})
	require.NoError(t, err)

	assert.Equal(t, "ms k 5 T60\r\nhello\r\n", mock.Written())
	assert.Equal(t, meta.ResponseSuccess, replies[0].Type)
}

func TestConn_Execute_SetEmptyValue(t *testing.T) {
	conn, mock := newMockConn("HD\r\n")

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdSet, Key: []byte("k")}})
	require.NoError(t, err)

	assert.Equal(t, "ms k 0\r\n\r\n", mock.Written())
}

func TestConn_Execute_LegacySize(t *testing.T) {
	mock := testutils.NewConnectionMock("HD\r\n")
	conn := NewConn(mock, nil, true)

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdSet, Key: []byte("k"), Value: []byte("v")}})
	require.NoError(t, err)

	assert.Equal(t, "ms k S1\r\nv\r\n", mock.Written())
}

func TestConn_Execute_Pipeline(t *testing.T) {
	conn, mock := newMockConn("VA 1\r\nA\r\n", "EN\r\n", "NF\r\n", "NS\r\n", "EX\r\n")
	mock.ChunkSize = 3

	replies, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdGet, Key: []byte("a"), Flags: &meta.RequestFlags{ReturnValue: true}},
		{Command: meta.CmdGet, Key: []byte("b"), Flags: &meta.RequestFlags{ReturnValue: true}},
		{Command: meta.CmdDelete, Key: []byte("c")},
		{Command: meta.CmdSet, Key: []byte("d"), Value: []byte("D"), Flags: &meta.RequestFlags{Mode: meta.Ptr(meta.ModeAdd)}},
		{Command: meta.CmdSet, Key: []byte("e"), Value: []byte("E"), Flags: &meta.RequestFlags{CASToken: meta.Ptr[uint32](1)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "mg a v\r\nmg b v\r\nmd c\r\nms d 1 ME\r\nD\r\nms e 1 C1\r\nE\r\n", mock.Written())

	types := make([]meta.ResponseType, len(replies))
	for i, r := range replies {
		types[i] = r.Type
	}
	assert.Equal(t, []meta.ResponseType{
		meta.ResponseValue,
		meta.ResponseMiss,
		meta.ResponseMiss,
		meta.ResponseNotStored,
		meta.ResponseConflict,
	}, types)
	assert.Equal(t, []byte("A"), replies[0].Value)
}

func TestConn_Execute_LargeValue(t *testing.T) {
	value := strings.Repeat("x", 3*initialBufferSize+17)
	conn, _ := newMockConn("VA 12305\r\n"+value+"\r\n", "HD\r\n")

	replies, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdGet, Key: []byte("big"), Flags: &meta.RequestFlags{ReturnValue: true}},
		{Command: meta.CmdGet, Key: []byte("small")},
	})
	require.NoError(t, err)

	assert.Len(t, replies[0].Value, len(value))
	assert.Equal(t, meta.ResponseSuccess, replies[1].Type)
}

func TestConn_Execute_MissEchoesOpaque(t *testing.T) {
	conn, _ := newMockConn("EN Oabc\r\n")

	replies, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdGet, Key: []byte("k"), Flags: &meta.RequestFlags{Opaque: []byte("abc")}},
	})
	require.NoError(t, err)

	assert.Equal(t, meta.ResponseMiss, replies[0].Type)
	assert.Equal(t, []byte("abc"), replies[0].Flags.Opaque)
}

func TestConn_Execute_Quiet(t *testing.T) {
	conn, mock := newMockConn("VA 1 O1\r\nB\r\n", "HD O2\r\n", "MN\r\n")

	replies, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdSet, Key: []byte("a"), Value: []byte("x"), Flags: &meta.RequestFlags{NoReply: true}},
		{Command: meta.CmdGet, Key: []byte("b"), Flags: &meta.RequestFlags{NoReply: true, ReturnValue: true}},
		{Command: meta.CmdDelete, Key: []byte("c")},
	})
	require.NoError(t, err)

	assert.Equal(t, "ms a 1 q O0\r\nx\r\nmg b q v O1\r\nmd c O2\r\nmn\r\n", mock.Written())

	assert.True(t, replies[0].Suppressed)
	assert.Equal(t, meta.ResponseUnrecognized, replies[0].Type)
	assert.Nil(t, replies[0].Flags)
	assert.False(t, replies[1].Suppressed)
	assert.Equal(t, []byte("B"), replies[1].Value)
	assert.Nil(t, replies[1].Flags.Opaque)
	assert.Equal(t, meta.ResponseSuccess, replies[2].Type)
}

func TestConn_Execute_QuietKeepsCallerOpaque(t *testing.T) {
	conn, mock := newMockConn("NS O0\r\n", "MN\r\n")

	flags := &meta.RequestFlags{NoReply: true, Opaque: []byte("mine"), Mode: meta.Ptr(meta.ModeAdd)}
	replies, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdSet, Key: []byte("a"), Value: []byte("x"), Flags: flags},
	})
	require.NoError(t, err)

	assert.Equal(t, "ms a 1 q O0 ME\r\nx\r\nmn\r\n", mock.Written())
	assert.Equal(t, []byte("mine"), flags.Opaque, "caller flags are not modified")
	assert.Equal(t, meta.ResponseNotStored, replies[0].Type)
	assert.Equal(t, []byte("mine"), replies[0].Flags.Opaque)
}

func TestConn_Execute_QuietErrors(t *testing.T) {
	quiet := &meta.RequestFlags{NoReply: true}

	tests := []struct {
		name     string
		response string
		reqs     []Request
	}{
		{
			name:     "unknown opaque",
			response: "HD O7\r\nMN\r\n",
			reqs:     []Request{{Command: meta.CmdDelete, Key: []byte("a"), Flags: quiet}},
		},
		{
			name:     "duplicate opaque",
			response: "NF O0\r\nNF O0\r\nMN\r\n",
			reqs:     []Request{{Command: meta.CmdDelete, Key: []byte("a"), Flags: quiet}},
		},
		{
			name:     "missing reply",
			response: "MN\r\n",
			reqs: []Request{
				{Command: meta.CmdDelete, Key: []byte("a"), Flags: quiet},
				{Command: meta.CmdDelete, Key: []byte("b")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _ := newMockConn(tt.response)

			_, err := conn.Execute(context.Background(), tt.reqs)

			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.True(t, conn.IsClosed())
		})
	}
}

func TestConn_Execute_NoopInQuietBatch(t *testing.T) {
	conn, mock := newMockConn()

	_, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdDelete, Key: []byte("a"), Flags: &meta.RequestFlags{NoReply: true}},
		{Command: meta.CmdNoOp},
	})
	require.ErrorIs(t, err, ErrNoopInQuietBatch)

	assert.Empty(t, mock.Written())
	assert.False(t, conn.IsClosed())
}

func TestConn_Execute_UnrecognizedResponse(t *testing.T) {
	conn, mock := newMockConn("SERVER_ERROR out of memory\r\n")

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdGet, Key: []byte("k")}})

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "SERVER_ERROR out of memory", perr.Line)
	assert.True(t, ShouldCloseConnection(err))
	assert.True(t, conn.IsClosed())
	assert.True(t, mock.IsClosed())

	_, err = conn.Execute(context.Background(), []Request{{Command: meta.CmdGet, Key: []byte("k")}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_Execute_UnexpectedNoop(t *testing.T) {
	conn, _ := newMockConn("MN\r\n")

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdGet, Key: []byte("k")}})

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestConn_Execute_TruncatedValue(t *testing.T) {
	conn, _ := newMockConn("VA 10\r\nabc")

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdGet, Key: []byte("k")}})

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "read", cerr.Op)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, conn.IsClosed())
}

func TestConn_Execute_UnterminatedValue(t *testing.T) {
	conn, _ := newMockConn("VA 2\r\nabXY")

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdGet, Key: []byte("k")}})

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "VA 2", perr.Line)
}

func TestConn_Execute_KeyTooLong(t *testing.T) {
	conn, mock := newMockConn()

	_, err := conn.Execute(context.Background(), []Request{
		{Command: meta.CmdGet, Key: []byte("ok")},
		{Command: meta.CmdGet, Key: []byte(strings.Repeat("k", meta.MaxKeyLength))},
	})
	require.ErrorIs(t, err, meta.ErrKeyTooLong)

	var kerr *meta.KeyError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, meta.MaxKeyLength, kerr.Length)

	assert.False(t, ShouldCloseConnection(err))
	assert.Empty(t, mock.Written())
	assert.False(t, conn.IsClosed())
}

func TestConn_Execute_WriteError(t *testing.T) {
	conn, mock := newMockConn()
	mock.WriteErr = errors.New("broken pipe")

	_, err := conn.Execute(context.Background(), []Request{{Command: meta.CmdGet, Key: []byte("k")}})

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "write", cerr.Op)
	assert.True(t, conn.IsClosed())
}

func TestConn_Execute_Deadline(t *testing.T) {
	conn, mock := newMockConn("HD\r\n")

	deadline := time.Now().Add(time.Minute)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	_, err := conn.Execute(ctx, []Request{{Command: meta.CmdGet, Key: []byte("k")}})
	require.NoError(t, err)

	assert.True(t, deadline.Equal(mock.Deadline()))
}

func TestConn_Execute_CanceledContext(t *testing.T) {
	conn, mock := newMockConn("HD\r\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Execute(ctx, []Request{{Command: meta.CmdGet, Key: []byte("k")}})
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, mock.Written())
	assert.False(t, conn.IsClosed())
}

func TestConn_Execute_CanceledDuringRead(t *testing.T) {
	conn, mock := newMockConn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock.OnWrite = cancel
	mock.ReadErr = os.ErrDeadlineExceeded

	_, err := conn.Execute(ctx, []Request{{Command: meta.CmdGet, Key: []byte("k")}})

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "read", cerr.Op)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, ShouldCloseConnection(err))
	assert.True(t, conn.IsClosed())
}

func TestConn_Execute_Empty(t *testing.T) {
	conn, mock := newMockConn()

	replies, err := conn.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Nil(t, replies)
	assert.Empty(t, mock.Written())
}

func TestConn_Ping(t *testing.T) {
	conn, mock := newMockConn("MN\r\n")

	require.NoError(t, conn.Ping(context.Background()))
	assert.Equal(t, "mn\r\n", mock.Written())
}

func TestConn_Close(t *testing.T) {
	conn, mock := newMockConn()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.True(t, conn.IsClosed())
	assert.True(t, mock.IsClosed())
	assert.Equal(t, "127.0.0.1:11211", conn.Addr())
}
