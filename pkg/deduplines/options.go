package deduplines

import (
	"fmt"

	"go.uber.org/zap"

	"deduplines/internal/shard"
)

// Options tune one engine call.
type Options struct {
	// SplitCount is the number of shards S. Must be >= 1. Raising it lowers
	// the per-shard memory working set.
	SplitCount int
	// ThreadCount is the number of shard workers T. Must be >= 1; a
	// non-positive value has to be replaced by the caller beforehand.
	ThreadCount int
	// Compression is the shard file codec. Empty means none.
	Compression shard.Compression
	// StripCR drops one trailing '\r' from every input line, so CRLF and LF
	// files compare equal. Off by default: lines are raw bytes.
	StripCR bool
	// MaxShardBytes caps the accounted memory of one shard's table. A shard
	// over budget fails the call with ErrResourceExhausted. Zero is unlimited.
	MaxShardBytes int64
	// Logger receives phase and shard progress. Nil disables logging.
	Logger *zap.Logger
	// Job labels the metrics of this call.
	Job string
}

func (o Options) validate(op string) error {
	if o.SplitCount < 1 {
		return validation(op, fmt.Errorf("split count must be >= 1, got %d", o.SplitCount))
	}
	if o.ThreadCount < 1 {
		return validation(op, fmt.Errorf("thread count must be >= 1, got %d", o.ThreadCount))
	}
	if _, err := shard.ParseCompression(string(o.Compression)); err != nil {
		return validation(op, err)
	}
	if o.MaxShardBytes < 0 {
		return validation(op, fmt.Errorf("max shard bytes must be >= 0, got %d", o.MaxShardBytes))
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) job() string {
	if o.Job == "" {
		return "deduplines"
	}
	return o.Job
}
