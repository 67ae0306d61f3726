package transport

import "github.com/zeebo/xxh3"

// ServerSelector picks the index of the server owning key among
// serverCount servers.
type ServerSelector func(key []byte, serverCount int) int

// DefaultServerSelector hashes the key with xxh3 and maps it with Jump Hash,
// which moves few keys when servers are added or removed.
func DefaultServerSelector(key []byte, serverCount int) int {
	return jumpHash(xxh3.Hash(key), serverCount)
}

// jumpHash is Google's Jump consistent hash: https://arxiv.org/abs/1406.2294
func jumpHash(key uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	var b, j int64 = -1, 0
	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}

	return int(b)
}
