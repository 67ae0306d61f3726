package transport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJumpHash_Bounds(t *testing.T) {
	assert.Equal(t, 0, jumpHash(12345, 0))
	assert.Equal(t, 0, jumpHash(12345, -1))
	assert.Equal(t, 0, jumpHash(12345, 1))

	for key := range uint64(1000) {
		b := jumpHash(key, 7)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 7)
	}
}

func TestDefaultServerSelector_Distribution(t *testing.T) {
	const servers = 4
	const keys = 10000

	counts := make([]int, servers)
	for i := range keys {
		counts[DefaultServerSelector([]byte(fmt.Sprintf("key-%d", i)), servers)]++
	}

	for i, c := range counts {
		assert.InDelta(t, keys/servers, c, keys/servers*0.1, "server %d got %d keys", i, c)
	}
}

func TestDefaultServerSelector_Stable(t *testing.T) {
	const keys = 10000

	moved := 0
	for i := range keys {
		key := []byte(fmt.Sprintf("key-%d", i))
		before := DefaultServerSelector(key, 4)
		after := DefaultServerSelector(key, 5)
		if before != after {
			moved++
			assert.Equal(t, 4, after, "keys only move to the new server")
		}
	}

	assert.InDelta(t, keys/5, moved, keys/5*0.15)
}
