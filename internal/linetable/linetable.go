// Package linetable implements the in-memory working set of one shard: an
// open-addressing hash table keyed by raw line bytes, each key carrying a
// small set of flag bits.
//
// Key bytes are copied into large arena chunks, and entries live in one flat
// slot array that refers to them by offset. A table with tens of millions of
// keys therefore costs a handful of allocations instead of one per key, and
// Reset drops the whole working set at once while keeping the chunks for the
// next shard.
package linetable

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"github.com/zeebo/xxh3"
)

const (
	// ChunkSize is the arena chunk size. Lines longer than this get a chunk
	// of their own.
	ChunkSize = 1 << 20 // 1 MiB

	minSlots = 1 << 10

	// Probe hash seed. It must differ from the partitioning hash: every key
	// in a shard shares hash mod S, so reusing those bits would cluster.
	probeSeed = 0x9E3779B97F4A7C15

	occupied uint8 = 1 << 7
)

// MaxFlag is the largest flag value a caller may pass to Upsert.
const MaxFlag uint8 = occupied - 1

// ErrBudgetExceeded is returned when an insert would push the table's
// accounted memory past its budget.
var ErrBudgetExceeded = errors.New("linetable: memory budget exceeded")

type entry struct {
	hash  uint64
	ref   uint64 // chunk index << 32 | offset within chunk
	n     uint32
	flags uint8
}

const entrySize = int64(unsafe.Sizeof(entry{}))

// Table is not safe for concurrent use. Each shard task owns one.
type Table struct {
	slots []entry
	mask  uint64
	used  int

	chunks [][]byte // chunks[i][:len] is in use
	cur    int      // index of the chunk being filled, -1 if none
	spare  [][]byte // standard-size chunks kept across Reset

	budget int64 // 0 means unlimited
	retain int64
	bytes  int64
}

// Option configures a Table.
type Option func(*Table)

// WithBudget caps the accounted memory (arena chunks plus slot array) at n
// bytes. Zero or negative means unlimited.
func WithBudget(n int64) Option {
	return func(t *Table) { t.budget = n }
}

// WithRetain sets how much storage Reset may keep for reuse. Tables that
// grew beyond it are released instead.
func WithRetain(n int64) Option {
	return func(t *Table) { t.retain = n }
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{cur: -1, retain: 64 << 20}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetBudget changes the memory budget. It applies to subsequent inserts.
func (t *Table) SetBudget(n int64) { t.budget = n }

// Len returns the number of distinct keys.
func (t *Table) Len() int { return t.used }

// Bytes returns the accounted memory in use.
func (t *Table) Bytes() int64 { return t.bytes }

// Upsert inserts line if absent and ORs flag into its flag bits. line is
// copied; the caller may reuse it. flag must not exceed MaxFlag.
func (t *Table) Upsert(line []byte, flag uint8) error {
	if flag > MaxFlag {
		return fmt.Errorf("linetable: flag %#x exceeds %#x", flag, MaxFlag)
	}
	if t.slots == nil {
		if err := t.resize(minSlots); err != nil {
			return err
		}
	}
	h := xxh3.HashSeed(line, probeSeed)
	i := h & t.mask
	for {
		e := &t.slots[i]
		if e.flags&occupied == 0 {
			break
		}
		if e.hash == h && int(e.n) == len(line) && bytes.Equal(t.key(e), line) {
			e.flags |= flag
			return nil
		}
		i = (i + 1) & t.mask
	}

	// Grow before claiming the slot so the load factor stays under 3/4.
	if (t.used+1)*4 > len(t.slots)*3 {
		if err := t.resize(len(t.slots) * 2); err != nil {
			return err
		}
		i = h & t.mask
		for t.slots[i].flags&occupied != 0 {
			i = (i + 1) & t.mask
		}
	}

	ref, err := t.store(line)
	if err != nil {
		return err
	}
	t.slots[i] = entry{hash: h, ref: ref, n: uint32(len(line)), flags: occupied | flag}
	t.used++
	return nil
}

// Lookup returns the flags recorded for line.
func (t *Table) Lookup(line []byte) (flags uint8, ok bool) {
	if t.used == 0 {
		return 0, false
	}
	h := xxh3.HashSeed(line, probeSeed)
	for i := h & t.mask; ; i = (i + 1) & t.mask {
		e := &t.slots[i]
		if e.flags&occupied == 0 {
			return 0, false
		}
		if e.hash == h && int(e.n) == len(line) && bytes.Equal(t.key(e), line) {
			return e.flags &^ occupied, true
		}
	}
}

// Each calls fn for every key in slot order, which is unspecified. line
// aliases arena memory and is only valid until the next Reset or Release.
// Iteration stops at the first error.
func (t *Table) Each(fn func(line []byte, flags uint8) error) error {
	for i := range t.slots {
		e := &t.slots[i]
		if e.flags&occupied == 0 {
			continue
		}
		if err := fn(t.key(e), e.flags&^occupied); err != nil {
			return err
		}
	}
	return nil
}

// Reset empties the table in one step. Storage is kept for reuse unless the
// table grew beyond its retain size, in which case it is released.
func (t *Table) Reset() {
	if t.bytes > t.retain {
		t.Release()
		return
	}
	clear(t.slots)
	t.used = 0
	for _, c := range t.chunks {
		if cap(c) == ChunkSize {
			t.spare = append(t.spare, c[:0])
		}
	}
	t.chunks = t.chunks[:0]
	t.cur = -1
	t.bytes = int64(len(t.slots))*entrySize + int64(len(t.spare))*ChunkSize
}

// Release drops every reference the table holds so the memory can be
// collected.
func (t *Table) Release() {
	t.slots = nil
	t.mask = 0
	t.used = 0
	t.chunks = nil
	t.cur = -1
	t.spare = nil
	t.bytes = 0
}

func (t *Table) key(e *entry) []byte {
	if e.n == 0 {
		return nil
	}
	c := t.chunks[e.ref>>32]
	off := uint32(e.ref)
	return c[off : off+e.n : off+e.n]
}

// store copies line into the arena and returns its reference.
func (t *Table) store(line []byte) (uint64, error) {
	if len(line) == 0 {
		return 0, nil
	}
	n := len(line)
	if n > ChunkSize {
		if err := t.charge(int64(n)); err != nil {
			return 0, err
		}
		c := make([]byte, n)
		copy(c, line)
		t.chunks = append(t.chunks, c)
		return uint64(len(t.chunks)-1) << 32, nil
	}

	if t.cur < 0 || ChunkSize-len(t.chunks[t.cur]) < n {
		if err := t.newChunk(); err != nil {
			return 0, err
		}
		t.cur = len(t.chunks) - 1
	}
	c := t.chunks[t.cur]
	off := len(c)
	t.chunks[t.cur] = append(c, line...)
	return uint64(t.cur)<<32 | uint64(off), nil
}

func (t *Table) newChunk() error {
	if k := len(t.spare); k > 0 {
		t.chunks = append(t.chunks, t.spare[k-1])
		t.spare = t.spare[:k-1]
		return nil
	}
	if err := t.charge(ChunkSize); err != nil {
		return err
	}
	t.chunks = append(t.chunks, make([]byte, 0, ChunkSize))
	return nil
}

func (t *Table) resize(n int) error {
	old := t.slots
	// Old and new slot arrays coexist while rehashing.
	if err := t.charge(int64(n) * entrySize); err != nil {
		return err
	}
	t.slots = make([]entry, n)
	t.mask = uint64(n - 1)
	for i := range old {
		e := old[i]
		if e.flags&occupied == 0 {
			continue
		}
		j := e.hash & t.mask
		for t.slots[j].flags&occupied != 0 {
			j = (j + 1) & t.mask
		}
		t.slots[j] = e
	}
	t.bytes -= int64(len(old)) * entrySize
	return nil
}

func (t *Table) charge(n int64) error {
	if t.budget > 0 && t.bytes+n > t.budget {
		return fmt.Errorf("%w: need %d more bytes, %d of %d in use",
			ErrBudgetExceeded, n, t.bytes, t.budget)
	}
	t.bytes += n
	return nil
}
