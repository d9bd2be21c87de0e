// Package bitmap provides a fixed-size bitset over shard ids. The partitioner
// uses it to remember which shards received at least one record so that the
// scheduler and merger never touch shards that were never written.
package bitmap

import "math/bits"

// Bitmap represents a bitset backed by a slice of uint64 words.
// Each bit corresponds to one id in [0, Len()).
type Bitmap struct {
	data []uint64
	n    int
}

// New allocates a bitmap that holds ids in the range [0, n).
//
// If n <= 0, no backing storage is allocated and the bitmap behaves as
// an empty set.
func New(n int) *Bitmap {
	if n <= 0 {
		return &Bitmap{}
	}
	return &Bitmap{
		data: make([]uint64, (n+63)/64),
		n:    n,
	}
}

// Len returns the number of ids the bitmap can hold.
func (b *Bitmap) Len() int { return b.n }

// Add sets the bit for id. Ids outside [0, Len()) are ignored.
func (b *Bitmap) Add(id int) {
	if id < 0 || id >= b.n {
		return
	}
	b.data[id/64] |= 1 << uint(id%64)
}

// Has reports whether the bit for id is set.
func (b *Bitmap) Has(id int) bool {
	if id < 0 || id >= b.n {
		return false
	}
	return b.data[id/64]&(1<<uint(id%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	c := 0
	for _, w := range b.data {
		c += bits.OnesCount64(w)
	}
	return c
}

// Each calls fn for every set id in ascending order.
func (b *Bitmap) Each(fn func(id int)) {
	for wi, w := range b.data {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(wi*64 + tz)
			w &= w - 1
		}
	}
}
