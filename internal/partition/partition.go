// Package partition streams input files once and routes every line to an
// on-disk shard chosen by a hash of its bytes.
//
// Partitioning is deliberately sequential: inputs are read one after another
// so the disk sees a single forward scan. Shard files are created lazily on
// the first record they receive, so at most S files exist afterwards and an
// empty shard leaves nothing behind.
package partition

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"deduplines/internal/bitmap"
	"deduplines/internal/shard"
)

const (
	// Reader buffer used while scanning inputs.
	readBufSize = 4 << 20 // 4 MiB

	// How many lines pass between context checks.
	ctxCheckEvery = 4096
)

// Input is one file to partition and the origin id its lines are tagged with.
type Input struct {
	Path   string
	Origin int
}

// Options control a partitioning pass.
type Options struct {
	// Count is the number of shards S. Must be >= 1.
	Count int
	// Compression is applied to every shard file.
	Compression shard.Compression
	// StripCR drops one trailing '\r' from each line before hashing.
	StripCR bool
	// Logger receives per-input progress. Nil disables logging.
	Logger *zap.Logger
}

// Result summarises a completed pass.
type Result struct {
	// Touched holds every shard id that received at least one record.
	Touched *bitmap.Bitmap
	// Lines is the number of lines read across all inputs.
	Lines int64
	// Bytes is the number of input bytes consumed, newlines included.
	Bytes int64
}

// Partitioner owns the open shard writers for one pass.
type Partitioner struct {
	dir     shard.Dir
	opts    Options
	log     *zap.Logger
	writers []*shard.Writer
	touched *bitmap.Bitmap
	lines   int64
	bytes   int64
}

// New returns a Partitioner writing into dir.
func New(dir shard.Dir, opts Options) (*Partitioner, error) {
	if opts.Count < 1 {
		return nil, fmt.Errorf("partition: shard count must be >= 1, got %d", opts.Count)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Partitioner{
		dir:     dir,
		opts:    opts,
		log:     log,
		writers: make([]*shard.Writer, opts.Count),
		touched: bitmap.New(opts.Count),
	}, nil
}

// Run partitions inputs into dir in the order given. On failure, shard files
// already written are left in place for the caller's directory teardown.
func Run(ctx context.Context, dir shard.Dir, inputs []Input, opts Options) (*Result, error) {
	p, err := New(dir, opts)
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := p.AddFile(ctx, in); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	if err := p.Close(); err != nil {
		return nil, err
	}
	return p.Result(), nil
}

// AddFile routes every line of in to its shard.
func (p *Partitioner) AddFile(ctx context.Context, in Input) error {
	f, err := os.Open(in.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.Path, err)
	}
	defer f.Close()

	// Best-effort kernel hint: one large sequential pass.
	adviseSequential(f)

	start := time.Now()
	before := p.lines
	if err := p.AddReader(ctx, in.Origin, f); err != nil {
		return fmt.Errorf("partition %s: %w", in.Path, err)
	}
	p.log.Debug("input partitioned",
		zap.String("path", in.Path),
		zap.Int("origin", in.Origin),
		zap.Int64("lines", p.lines-before),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// AddReader routes every line read from r, tagged with origin.
func (p *Partitioner) AddReader(ctx context.Context, origin int, r io.Reader) error {
	var n int
	return ScanLines(r, p.opts.StripCR, func(line []byte, raw int) error {
		n++
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		p.lines++
		p.bytes += int64(raw)
		return p.route(origin, line)
	})
}

func (p *Partitioner) route(origin int, line []byte) error {
	id := shard.For(line, p.opts.Count)
	w := p.writers[id]
	if w == nil {
		var err error
		w, err = shard.Create(p.dir.ShardPath(id), p.opts.Compression)
		if err != nil {
			return fmt.Errorf("create shard %d: %w", id, err)
		}
		p.writers[id] = w
		p.touched.Add(int(id))
	}
	if err := w.Append(origin, line); err != nil {
		return fmt.Errorf("write shard %d: %w", id, err)
	}
	return nil
}

// Close flushes and closes every shard writer. All writers are closed even
// when one fails; the first error is returned.
func (p *Partitioner) Close() error {
	var first error
	for id, w := range p.writers {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("close shard %d: %w", id, err)
		}
		p.writers[id] = nil
	}
	return first
}

// Result reports what has been partitioned so far.
func (p *Partitioner) Result() *Result {
	return &Result{Touched: p.touched, Lines: p.lines, Bytes: p.bytes}
}

// ScanLines calls fn for every '\n'-delimited line of r. A final unterminated
// fragment counts as a line; an empty reader yields nothing. line excludes
// the delimiter and aliases an internal buffer, valid only during the call.
// raw is the number of input bytes the line consumed, delimiter included.
func ScanLines(r io.Reader, stripCR bool, fn func(line []byte, raw int) error) error {
	br := bufio.NewReaderSize(r, readBufSize)
	var carry []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			// Line longer than the buffer: accumulate and keep reading.
			carry = append(carry, chunk...)
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}

		data := chunk
		if len(carry) > 0 {
			carry = append(carry, chunk...)
			data = carry
		}
		if len(data) > 0 {
			raw := len(data)
			line := data
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			if stripCR {
				line = trimCR(line)
			}
			if ferr := fn(line, raw); ferr != nil {
				return ferr
			}
		}
		carry = carry[:0]

		if err == io.EOF {
			return nil
		}
	}
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
