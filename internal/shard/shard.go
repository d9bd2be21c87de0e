// Package shard defines how lines are assigned to shards and how shard files
// are laid out and encoded inside a working directory.
//
// A line's shard is a pure function of its bytes and the shard count:
//
//	shard(line) = xxh3(line) mod S
//
// so every occurrence of the same bytes, from any input, lands in the same
// shard. That property is what lets each shard be reconciled in isolation.
//
// xxh3 is not collision resistant and nothing rebalances a skewed shard. A
// hot shard simply needs more memory; raising S is the only lever.
package shard

import (
	"fmt"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// ID identifies a shard in [0, S).
type ID int

// Hash returns the partitioning hash of a line.
func Hash(line []byte) uint64 { return xxh3.Hash(line) }

// Of maps a hash onto one of count shards. count must be >= 1.
func Of(h uint64, count int) ID { return ID(h % uint64(count)) }

// For is shorthand for Of(Hash(line), count).
func For(line []byte, count int) ID { return Of(Hash(line), count) }

// Dir is the working directory holding one call's shard and result files.
// It is created and removed by the caller.
type Dir string

// ShardPath returns the path of the raw record file for id.
func (d Dir) ShardPath(id ID) string {
	return filepath.Join(string(d), fmt.Sprintf("shard_%06d", int(id)))
}

// ResultPath returns the path of the reconciled result file for id.
func (d Dir) ResultPath(id ID) string {
	return filepath.Join(string(d), fmt.Sprintf("result_%06d", int(id)))
}
