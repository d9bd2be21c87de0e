package shard

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// Per-shard write buffer. S writers are open during partitioning, so this
	// stays modest.
	writeBufSize = 64 << 10 // 64 KiB

	// Per-shard read buffer. Only T readers are open at a time.
	readBufSize = 1 << 20 // 1 MiB
)

// Buffers are reset onto a fresh file on every Create and Open, so a run
// over many shards reuses a handful of them instead of allocating per shard.
var (
	writeBufPool = sync.Pool{New: func() any { return bufio.NewWriterSize(nil, writeBufSize) }}
	readBufPool  = sync.Pool{New: func() any { return bufio.NewReaderSize(nil, readBufSize) }}
)

// ErrCorrupt is returned when a shard file does not decode as a record stream.
var ErrCorrupt = errors.New("shard: corrupt record")

// A record on disk is:
//
//	uvarint(origin) uvarint(len(line)) line
//
// Length framing keeps lines free to contain any byte, and the origin id has
// no fixed width so N-way unions are not capped.

// Writer appends (origin, line) records to one shard file.
type Writer struct {
	f       *os.File
	cw      io.WriteCloser
	bw      *bufio.Writer
	hdr     [2 * binary.MaxVarintLen64]byte
	records int64
}

// Create truncates or creates path and returns a Writer over it.
func Create(path string, c Compression) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cw, err := c.wrapWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	bw := writeBufPool.Get().(*bufio.Writer)
	bw.Reset(cw)
	return &Writer{f: f, cw: cw, bw: bw}, nil
}

// Append writes one record. line is copied into the write buffer and may be
// reused by the caller after Append returns.
func (w *Writer) Append(origin int, line []byte) error {
	n := binary.PutUvarint(w.hdr[:], uint64(origin))
	n += binary.PutUvarint(w.hdr[n:], uint64(len(line)))
	if _, err := w.bw.Write(w.hdr[:n]); err != nil {
		return err
	}
	if _, err := w.bw.Write(line); err != nil {
		return err
	}
	w.records++
	return nil
}

// Records returns the number of records appended so far.
func (w *Writer) Records() int64 { return w.records }

// Close flushes every layer and closes the file. The file is closed even if
// flushing fails; the first error is returned. Calling it again is a no-op.
func (w *Writer) Close() error {
	if w.bw == nil {
		return nil
	}
	err := w.bw.Flush()
	w.bw.Reset(nil)
	writeBufPool.Put(w.bw)
	w.bw = nil
	if cerr := w.cw.Close(); err == nil {
		err = cerr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Reader decodes the records of one shard file in write order.
type Reader struct {
	f    *os.File
	cr   io.ReadCloser
	br   *bufio.Reader
	line []byte
}

// Open opens a shard file previously written with the same compression.
func Open(path string, c Compression) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cr, err := c.wrapReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	br := readBufPool.Get().(*bufio.Reader)
	br.Reset(cr)
	return &Reader{f: f, cr: cr, br: br}, nil
}

// Next returns the next record. The returned line aliases an internal buffer
// and is only valid until the following call. At the end of the stream Next
// returns io.EOF.
func (r *Reader) Next() (origin int, line []byte, err error) {
	o, err := binary.ReadUvarint(r.br)
	if err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: origin: %v", ErrCorrupt, err)
	}
	n, err := binary.ReadUvarint(r.br)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: length: %v", ErrCorrupt, err)
	}
	if uint64(cap(r.line)) < n {
		r.line = make([]byte, n)
	}
	r.line = r.line[:n]
	if _, err := io.ReadFull(r.br, r.line); err != nil {
		return 0, nil, fmt.Errorf("%w: body: %v", ErrCorrupt, err)
	}
	return int(o), r.line, nil
}

// Close releases the decoder and closes the file. Calling it again is a
// no-op.
func (r *Reader) Close() error {
	if r.br == nil {
		return nil
	}
	r.br.Reset(nil)
	readBufPool.Put(r.br)
	r.br = nil
	err := r.cr.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
