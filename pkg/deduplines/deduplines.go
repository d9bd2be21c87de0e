// Package deduplines computes exact line-level deduplication and set
// difference over files too large to hold in memory.
//
// Input lines are routed by hash to S on-disk shards, so every copy of a
// line lands in the same shard. Each shard is then reconciled alone, in
// parallel, and the per-shard results are concatenated in ascending shard
// order. Output lines are grouped by shard; no other order is promised.
//
// The working directory must exist and belong to a single call. The engine
// does not remove it, on success or failure; that is the caller's job (see
// internal/workspace for the adapter the CLI uses).
//
// Shard skew is not mitigated: a heavily repeated or colliding set of
// distinct lines all lands in one shard, and raising SplitCount is the only
// lever. Use Options.MaxShardBytes to turn such a shard into an
// ErrResourceExhausted failure instead of unbounded memory growth.
package deduplines

import (
	"context"
	"errors"

	"deduplines/internal/partition"
	"deduplines/internal/reconcile"
	"deduplines/internal/shard"
)

const (
	opUnique = "unique_lines"
	opAdded  = "added_lines"
)

// plan is one fully validated engine call.
type plan struct {
	op     string
	mode   reconcile.Mode
	dir    shard.Dir
	inputs []partition.Input
	output string
	opts   Options
}

// UniqueLines writes every distinct line of filePaths to outputPath, each
// exactly once, however many files or copies it appears in.
func UniqueLines(ctx context.Context, workDir string, filePaths []string, outputPath string, opts Options) error {
	if len(filePaths) == 0 {
		return validation(opUnique, errors.New("at least one input file is required"))
	}
	inputs := make([]partition.Input, len(filePaths))
	for i, p := range filePaths {
		if p == "" {
			return validation(opUnique, errors.New("empty input path"))
		}
		inputs[i] = partition.Input{Path: p, Origin: i}
	}
	p, err := newPlan(opUnique, reconcile.Union, workDir, inputs, outputPath, opts)
	if err != nil {
		return err
	}
	return run(ctx, p)
}

// AddedLines writes every distinct line that occurs in secondPath and
// nowhere in firstPath. Repeat counts in either file do not matter.
func AddedLines(ctx context.Context, workDir, firstPath, secondPath, outputPath string, opts Options) error {
	if firstPath == "" || secondPath == "" {
		return validation(opAdded, errors.New("both input paths are required"))
	}
	inputs := []partition.Input{
		{Path: firstPath, Origin: 0},
		{Path: secondPath, Origin: 1},
	}
	p, err := newPlan(opAdded, reconcile.Difference, workDir, inputs, outputPath, opts)
	if err != nil {
		return err
	}
	return run(ctx, p)
}

func newPlan(op string, mode reconcile.Mode, workDir string, inputs []partition.Input, output string, opts Options) (plan, error) {
	if workDir == "" {
		return plan{}, validation(op, errors.New("working directory is required"))
	}
	if output == "" {
		return plan{}, validation(op, errors.New("output path is required"))
	}
	if err := opts.validate(op); err != nil {
		return plan{}, err
	}
	// validate has already accepted the value.
	opts.Compression, _ = shard.ParseCompression(string(opts.Compression))

	return plan{
		op:     op,
		mode:   mode,
		dir:    shard.Dir(workDir),
		inputs: inputs,
		output: output,
		opts:   opts,
	}, nil
}
