package shard

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestForIsDeterministicAndInRange(t *testing.T) {
	lines := []string{"", "a", "line1", "line2", "a much longer line with spaces"}
	for _, count := range []int{1, 2, 7, 64, 1000} {
		for _, s := range lines {
			id := For([]byte(s), count)
			if id < 0 || int(id) >= count {
				t.Fatalf("For(%q, %d) = %d, out of range", s, count, id)
			}
			if again := For([]byte(s), count); again != id {
				t.Fatalf("For(%q, %d) not deterministic: %d then %d", s, count, id, again)
			}
		}
	}
}

func TestSingleShardTakesEverything(t *testing.T) {
	for _, s := range []string{"x", "y", "zzz"} {
		if id := For([]byte(s), 1); id != 0 {
			t.Fatalf("For(%q, 1) = %d, want 0", s, id)
		}
	}
}

func TestDirPaths(t *testing.T) {
	d := Dir("/work")
	if got, want := d.ShardPath(7), filepath.Join("/work", "shard_000007"); got != want {
		t.Fatalf("ShardPath = %q, want %q", got, want)
	}
	if got, want := d.ResultPath(12), filepath.Join("/work", "result_000012"); got != want {
		t.Fatalf("ResultPath = %q, want %q", got, want)
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{" LZ4 ", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseCompression(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseCompression(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type rec struct {
	origin int
	line   string
}

func TestRecordStreamEachCodec(t *testing.T) {
	want := []rec{
		{0, "line1"},
		{1, ""},
		{1, "with\rcarriage"},
		{0, string([]byte{0x00, 0xff, 0x0a, 0x80})},
		{300, "origin past one varint byte"},
	}
	// Push one record past the read buffer to exercise growth.
	big := make([]byte, readBufSize+17)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	want = append(want, rec{2, string(big)})

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		c := c
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shard")

			w, err := Create(path, c)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			for _, r := range want {
				if err := w.Append(r.origin, []byte(r.line)); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			if w.Records() != int64(len(want)) {
				t.Fatalf("Records() = %d, want %d", w.Records(), len(want))
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			r, err := Open(path, c)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()

			for i, exp := range want {
				origin, line, err := r.Next()
				if err != nil {
					t.Fatalf("Next #%d: %v", i, err)
				}
				if origin != exp.origin || string(line) != exp.line {
					t.Fatalf("record #%d = (%d, %d bytes), want (%d, %d bytes)",
						i, origin, len(line), exp.origin, len(exp.line))
				}
			}
			if _, _, err := r.Next(); err != io.EOF {
				t.Fatalf("Next after last record = %v, want io.EOF", err)
			}
		})
	}
}

func TestManyOpenWritersEachCodec(t *testing.T) {
	const writers = 200
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			dir := Dir(t.TempDir())
			ws := make([]*Writer, writers)
			for i := range ws {
				w, err := Create(dir.ShardPath(ID(i)), c)
				if err != nil {
					t.Fatalf("Create %d: %v", i, err)
				}
				ws[i] = w
			}
			// Interleave appends so every writer flushes several buffers while
			// the others stay open.
			line := []byte(strings.Repeat("payload ", 1024))
			const perWriter = 3 * writeBufSize / 8192
			for n := 0; n < perWriter; n++ {
				for i, w := range ws {
					if err := w.Append(i%3, line); err != nil {
						t.Fatalf("Append %d: %v", i, err)
					}
				}
			}
			for i, w := range ws {
				if err := w.Close(); err != nil {
					t.Fatalf("Close %d: %v", i, err)
				}
				if err := w.Close(); err != nil {
					t.Fatalf("second Close %d: %v", i, err)
				}
			}

			for i := range ws {
				r, err := Open(dir.ShardPath(ID(i)), c)
				if err != nil {
					t.Fatalf("Open %d: %v", i, err)
				}
				var got int
				for {
					origin, l, err := r.Next()
					if err == io.EOF {
						break
					}
					if err != nil {
						t.Fatalf("shard %d record %d: %v", i, got, err)
					}
					if origin != i%3 || !bytes.Equal(l, line) {
						t.Fatalf("shard %d record %d = (%d, %d bytes)", i, got, origin, len(l))
					}
					got++
				}
				if got != perWriter {
					t.Fatalf("shard %d: %d records, want %d", i, got, perWriter)
				}
				if err := r.Close(); err != nil {
					t.Fatalf("Close reader %d: %v", i, err)
				}
				if err := r.Close(); err != nil {
					t.Fatalf("second Close reader %d: %v", i, err)
				}
			}
		})
	}
}

func TestReaderTruncatedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard")
	w, err := Create(path, CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(0, []byte("complete line")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, st.Size()-3); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, _, err := r.Next(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Next on truncated file = %v, want ErrCorrupt", err)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), CompressionNone)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open missing = %v, want os.ErrNotExist", err)
	}
}
