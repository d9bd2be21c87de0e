// Package reconcile turns one shard's origin-tagged records into that
// shard's result lines.
//
// Union and difference are the same operation with a different Mode: both
// load every record into a linetable keyed by line bytes, and differ only in
// which flag bits are recorded and which keys are emitted. The computation is
// purely local; it is correct only because the partitioner sends every copy
// of a line to the same shard.
package reconcile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"deduplines/internal/linetable"
	"deduplines/internal/shard"
)

// Mode selects how a shard's records are reconciled.
type Mode uint8

const (
	// Union emits every distinct line once.
	Union Mode = iota
	// Difference emits lines seen in origin 1 and never in origin 0.
	Difference
)

func (m Mode) String() string {
	switch m {
	case Union:
		return "union"
	case Difference:
		return "difference"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Origin flag bits recorded in difference mode.
const (
	seenFirst  uint8 = 1 << 0
	seenSecond uint8 = 1 << 1
)

const (
	ctxCheckEvery = 4096

	writeBufSize = 1 << 20 // 1 MiB
)

// ErrOrigin is returned when a difference-mode shard holds a record whose
// origin is neither 0 nor 1. The partitioner never writes one, so this is
// an internal invariant violation.
var ErrOrigin = errors.New("reconcile: unexpected origin")

// RecordReader yields a shard's records until io.EOF. shard.Reader
// satisfies it.
type RecordReader interface {
	Next() (origin int, line []byte, err error)
}

// Stats describes one processed shard.
type Stats struct {
	Records  int64 // records consumed
	Distinct int   // distinct lines held in memory
	Emitted  int64 // result lines produced
	Bytes    int64 // peak accounted table memory
}

// Per-worker scratch, reused across shards.
var (
	tablePool = sync.Pool{
		New: func() any { return linetable.New() },
	}
	writerPool = sync.Pool{
		New: func() any { return bufio.NewWriterSize(nil, writeBufSize) },
	}
)

// Processor reconciles shards. It holds no per-shard state; each call takes
// a table from a shared pool and resets it on return, so one Processor may
// be used from many goroutines.
type Processor struct {
	Mode Mode
	// Compression must match what the partitioner wrote.
	Compression shard.Compression
	// Budget caps a shard's in-memory working set in bytes. Zero means
	// unlimited. Exceeding it fails with linetable.ErrBudgetExceeded.
	Budget int64
}

// Process consumes r and calls emit for every result line. emit receives a
// slice that is only valid during the call. Result order is unspecified.
func (p *Processor) Process(ctx context.Context, r RecordReader, emit func(line []byte) error) (Stats, error) {
	tbl := tablePool.Get().(*linetable.Table)
	if p.Budget > 0 {
		// Retained storage from an earlier shard counts against the budget;
		// start empty so the outcome depends only on this shard.
		tbl.Release()
	}
	tbl.SetBudget(p.Budget)
	defer func() {
		tbl.Reset()
		tablePool.Put(tbl)
	}()

	var st Stats
	for {
		origin, line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return st, err
		}
		st.Records++
		if st.Records%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return st, err
			}
		}

		var flag uint8
		if p.Mode == Difference {
			switch origin {
			case 0:
				flag = seenFirst
			case 1:
				flag = seenSecond
			default:
				return st, fmt.Errorf("%w %d in difference mode", ErrOrigin, origin)
			}
		}
		if err := tbl.Upsert(line, flag); err != nil {
			return st, err
		}
	}
	st.Distinct = tbl.Len()
	st.Bytes = tbl.Bytes()

	err := tbl.Each(func(line []byte, flags uint8) error {
		if p.Mode == Difference && flags != seenSecond {
			return nil
		}
		st.Emitted++
		return emit(line)
	})
	return st, err
}

// ProcessShard reconciles shard id of dir and writes its result lines,
// newline-terminated, to w.
func (p *Processor) ProcessShard(ctx context.Context, dir shard.Dir, id shard.ID, w io.Writer) (Stats, error) {
	rd, err := shard.Open(dir.ShardPath(id), p.Compression)
	if err != nil {
		return Stats{}, fmt.Errorf("open shard %d: %w", id, err)
	}
	defer rd.Close()

	bw := writerPool.Get().(*bufio.Writer)
	bw.Reset(w)
	defer func() {
		bw.Reset(nil)
		writerPool.Put(bw)
	}()
	st, err := p.Process(ctx, rd, func(line []byte) error {
		if _, err := bw.Write(line); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	})
	if err != nil {
		return st, fmt.Errorf("shard %d: %w", id, err)
	}
	if err := bw.Flush(); err != nil {
		return st, fmt.Errorf("shard %d: flush: %w", id, err)
	}
	return st, nil
}

// ProcessToFile reconciles shard id into dir's result file for that shard.
// The result file is closed on every path.
func (p *Processor) ProcessToFile(ctx context.Context, dir shard.Dir, id shard.ID) (st Stats, err error) {
	path := dir.ResultPath(id)
	f, err := os.Create(path)
	if err != nil {
		return Stats{}, fmt.Errorf("create result %d: %w", id, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close result %d: %w", id, cerr)
		}
	}()
	return p.ProcessShard(ctx, dir, id, f)
}
