package shard

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the stream codec applied to shard files.
type Compression string

const (
	// CompressionNone writes records as-is.
	CompressionNone Compression = "none"
	// CompressionLZ4 uses LZ4 frames (fast, modest ratio). Every open shard
	// writer holds its own 64 KiB block buffers, so partition memory grows
	// with the number of touched shards.
	CompressionLZ4 Compression = "lz4"
	// CompressionZstd uses zstd at its fastest level (better ratio, more CPU).
	//
	// All shard writers share one encoder and emit an independent frame per
	// flushed write buffer, so encoder memory does not grow with the number
	// of open shards. Each open writer still holds its own write buffer.
	CompressionZstd Compression = "zstd"
)

// ParseCompression accepts "", "none", "lz4" and "zstd" (case-insensitive).
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionLZ4, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q (use none, lz4 or zstd)", s)
	}
}

// String implements fmt.Stringer.
func (c Compression) String() string {
	if c == "" {
		return string(CompressionNone)
	}
	return string(c)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdEncErr  error

	// Scratch for compressed frames. Buffers grown past maxPooledFrame by a
	// very long line are dropped rather than pooled.
	framePool = sync.Pool{New: func() any { b := make([]byte, 0, writeBufSize); return &b }}

	zstdDecPool sync.Pool // *zstd.Decoder
	lz4DecPool  sync.Pool // *lz4.Reader
)

const maxPooledFrame = 4 * writeBufSize

func sharedEncoder() (*zstd.Encoder, error) {
	zstdEncOnce.Do(func() {
		zstdEnc, zstdEncErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
			zstd.WithLowerEncoderMem(true),
		)
	})
	return zstdEnc, zstdEncErr
}

// frameWriter encodes each Write as a complete zstd frame. A zstd stream
// may be any number of concatenated frames, so the reader needs nothing
// special.
type frameWriter struct {
	w   io.Writer
	enc *zstd.Encoder
}

func (fw *frameWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	bp := framePool.Get().(*[]byte)
	out := fw.enc.EncodeAll(p, (*bp)[:0])
	_, err := fw.w.Write(out)
	if cap(out) <= maxPooledFrame {
		*bp = out[:0]
		framePool.Put(bp)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (fw *frameWriter) Close() error { return nil }

// zstdReader returns its decoder to zstdDecPool on Close.
type zstdReader struct{ d *zstd.Decoder }

func (z *zstdReader) Read(p []byte) (int, error) { return z.d.Read(p) }

func (z *zstdReader) Close() error {
	if z.d == nil {
		return nil
	}
	err := z.d.Reset(nil)
	if err == nil {
		zstdDecPool.Put(z.d)
	}
	z.d = nil
	return err
}

// lz4Reader returns its decoder to lz4DecPool on Close.
type lz4Reader struct{ r *lz4.Reader }

func (l *lz4Reader) Read(p []byte) (int, error) { return l.r.Read(p) }

func (l *lz4Reader) Close() error {
	if l.r == nil {
		return nil
	}
	l.r.Reset(nil)
	lz4DecPool.Put(l.r)
	l.r = nil
	return nil
}

// wrapWriter layers the codec over w. Closing the result flushes the codec
// but does not close w.
func (c Compression) wrapWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case "", CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		// Many shard writers are open at once; keep per-writer buffers small.
		if err := zw.Apply(lz4.BlockSizeOption(lz4.Block64Kb), lz4.ConcurrencyOption(1)); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return zw, nil
	case CompressionZstd:
		enc, err := sharedEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return &frameWriter{w: w, enc: enc}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// wrapReader layers the decoder over r. Closing the result hands decoder
// state back for reuse but does not close r.
func (c Compression) wrapReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case "", CompressionNone:
		return io.NopCloser(r), nil
	case CompressionLZ4:
		if zr, ok := lz4DecPool.Get().(*lz4.Reader); ok {
			zr.Reset(r)
			return &lz4Reader{r: zr}, nil
		}
		return &lz4Reader{r: lz4.NewReader(r)}, nil
	case CompressionZstd:
		if zr, ok := zstdDecPool.Get().(*zstd.Decoder); ok {
			if err := zr.Reset(r); err != nil {
				zr.Close()
				return nil, fmt.Errorf("zstd reader: %w", err)
			}
			return &zstdReader{d: zr}, nil
		}
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &zstdReader{d: zr}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}
