package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevenueCat/meta-memcache-socket/internal/testutils"
	"github.com/RevenueCat/meta-memcache-socket/meta"
)

func getRequest(key string) Request {
	return Request{Command: meta.CmdGet, Key: []byte(key), Flags: &meta.RequestFlags{ReturnValue: true}}
}

func TestNewPool_InvalidConfig(t *testing.T) {
	_, err := NewPool("127.0.0.1:11211", Config{})
	require.Error(t, err)
}

func TestPool_Execute(t *testing.T) {
	server := testutils.NewServer(t)
	server.Put("k", []byte("v"), 0)

	pool, err := NewPool(server.Addr(), Config{MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	replies, err := pool.Execute(context.Background(), []Request{getRequest("k"), getRequest("missing")})
	require.NoError(t, err)

	assert.Equal(t, meta.ResponseValue, replies[0].Type)
	assert.Equal(t, []byte("v"), replies[0].Value)
	assert.Equal(t, meta.ResponseMiss, replies[1].Type)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.CreatedConns)
	assert.Equal(t, uint64(1), stats.AcquireCount)
	assert.Equal(t, int32(1), stats.IdleConns)
	assert.Equal(t, int32(0), stats.ActiveConns)
	assert.Equal(t, server.Addr(), pool.Addr())
}

func TestPool_DestroysBrokenConnection(t *testing.T) {
	server := testutils.NewServer(t)

	pool, err := NewPool(server.Addr(), Config{MaxConns: 1})
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})
	require.NoError(t, err)

	server.DropConnections()

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})
	require.Error(t, err)
	assert.True(t, ShouldCloseConnection(err))

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, uint64(2), stats.CreatedConns)
	assert.Equal(t, uint64(1), stats.DestroyedConns)
}

func TestPool_KeyErrorKeepsConnection(t *testing.T) {
	server := testutils.NewServer(t)

	pool, err := NewPool(server.Addr(), Config{MaxConns: 1})
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Execute(context.Background(), []Request{getRequest(strings.Repeat("k", 300))})
	require.ErrorIs(t, err, meta.ErrKeyTooLong)

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.CreatedConns)
	assert.Equal(t, uint64(0), stats.DestroyedConns)
}

func TestPool_DialError(t *testing.T) {
	server := testutils.NewServer(t)
	addr := server.Addr()
	server.Close()

	pool, err := NewPool(addr, Config{MaxConns: 1})
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "dial", cerr.Op)
}

func TestPool_Closed(t *testing.T) {
	server := testutils.NewServer(t)

	pool, err := NewPool(server.Addr(), Config{MaxConns: 1})
	require.NoError(t, err)
	pool.Close()

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})
	require.ErrorIs(t, err, ErrClosed)
}

func TestPool_CanceledContextKeepsConnection(t *testing.T) {
	server := testutils.NewServer(t)

	pool, err := NewPool(server.Addr(), Config{MaxConns: 1})
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Execute(context.Background(), []Request{getRequest("k")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.Execute(ctx, []Request{getRequest("k")})
	require.ErrorIs(t, err, context.Canceled)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.CreatedConns)
	assert.Equal(t, uint64(0), stats.DestroyedConns)
}
