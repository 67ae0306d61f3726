package main

import (
	"math/rand/v2"
	"strconv"

	"github.com/RevenueCat/meta-memcache-socket/internal/transport"
	"github.com/RevenueCat/meta-memcache-socket/meta"
)

// workload generates batches of mixed ms and mg requests over a fixed key
// space namespaced by the run id.
type workload struct {
	prefix    string
	keys      int
	batchSize int
	getRatio  float64
	quietSets bool
	ttl       uint32
	value     []byte

	getFlags *meta.RequestFlags
	setFlags *meta.RequestFlags
}

func newWorkload(runID string, keys, batchSize, valueSize int, getRatio float64, quietSets bool, ttl uint32) *workload {
	value := make([]byte, valueSize)
	for i := range value {
		value[i] = 'a' + byte(i%26)
	}

	w := &workload{
		prefix:    "bench:" + runID + ":",
		keys:      keys,
		batchSize: batchSize,
		getRatio:  getRatio,
		quietSets: quietSets,
		ttl:       ttl,
		value:     value,
		getFlags:  &meta.RequestFlags{ReturnValue: true, ReturnCASToken: true},
		setFlags:  &meta.RequestFlags{NoReply: quietSets},
	}
	if ttl > 0 {
		w.setFlags.CacheTTL = meta.Ptr(ttl)
	}
	return w
}

// key returns the i-th key of the key space.
func (w *workload) key(i int) []byte {
	return strconv.AppendInt([]byte(w.prefix), int64(i), 10)
}

// batch fills dst with the next batch of requests.
func (w *workload) batch(rng *rand.Rand, dst []transport.Request) []transport.Request {
	dst = dst[:0]
	for range w.batchSize {
		key := w.key(rng.IntN(w.keys))
		if rng.Float64() < w.getRatio {
			dst = append(dst, transport.Request{Command: meta.CmdGet, Key: key, Flags: w.getFlags})
		} else {
			dst = append(dst, transport.Request{Command: meta.CmdSet, Key: key, Value: w.value, Flags: w.setFlags})
		}
	}
	return dst
}
