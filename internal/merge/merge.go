// Package merge concatenates per-shard result files into the final output,
// in ascending shard id order, streaming rather than buffering.
package merge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"deduplines/internal/shard"
)

const writeBufSize = 4 << 20 // 4 MiB

// WaitFunc blocks until a shard's result is ready. scheduler.Slots.Wait
// satisfies it; pass nil when every result already exists.
type WaitFunc func(ctx context.Context, id shard.ID) error

// Opener opens a shard's result for reading.
type Opener func(id shard.ID) (io.ReadCloser, error)

// Options configure a merge.
type Options struct {
	// Wait is called before each shard is copied.
	Wait WaitFunc
	// Open returns a shard's result stream.
	Open Opener
	// Consumed, when set, is called after a shard has been fully copied.
	// The engine uses it to delete result files as it goes.
	Consumed func(id shard.ID)
}

// FileOpener opens results from dir's result files.
func FileOpener(dir shard.Dir) Opener {
	return func(id shard.ID) (io.ReadCloser, error) {
		return os.Open(dir.ResultPath(id))
	}
}

// Stats describes a completed merge.
type Stats struct {
	Shards int
	Bytes  int64
}

// ToFile creates (or truncates) path and merges ids into it. The output is
// flushed and closed on both the success and the failure path; after a
// failure its content must be treated as unusable.
func ToFile(ctx context.Context, path string, ids []shard.ID, opts Options) (st Stats, err error) {
	f, err := os.Create(path)
	if err != nil {
		return Stats{}, fmt.Errorf("create output %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, writeBufSize)
	defer func() {
		if ferr := bw.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flush output %s: %w", path, ferr)
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output %s: %w", path, cerr)
		}
	}()
	return To(ctx, bw, ids, opts)
}

// To writes the results of ids to w in the order given. Every line ends in a
// newline, so non-empty output always ends with one. When every result is
// empty, or ids is empty, nothing is written: an empty result is a 0-byte
// output, not a lone newline.
func To(ctx context.Context, w io.Writer, ids []shard.ID, opts Options) (Stats, error) {
	if opts.Open == nil {
		return Stats{}, fmt.Errorf("merge: no opener")
	}
	tw := &tailWriter{w: w}
	var st Stats
	for _, id := range ids {
		if opts.Wait != nil {
			if err := opts.Wait(ctx, id); err != nil {
				return st, err
			}
		} else if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := copyShard(tw, id, opts.Open); err != nil {
			return st, err
		}
		st.Shards++
		if opts.Consumed != nil {
			opts.Consumed(id)
		}
	}
	if tw.n > 0 && tw.last != '\n' {
		if _, err := tw.Write([]byte{'\n'}); err != nil {
			return st, fmt.Errorf("write output: %w", err)
		}
	}
	st.Bytes = tw.n
	return st, nil
}

func copyShard(w io.Writer, id shard.ID, open Opener) error {
	rc, err := open(id)
	if err != nil {
		return fmt.Errorf("open result %d: %w", id, err)
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy result %d: %w", id, err)
	}
	return nil
}

// tailWriter counts bytes and remembers the last one written.
type tailWriter struct {
	w    io.Writer
	n    int64
	last byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.n += int64(n)
		t.last = p[n-1]
	}
	return n, err
}
