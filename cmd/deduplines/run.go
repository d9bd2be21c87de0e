package main

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"deduplines/internal/config"
	"deduplines/internal/logger"
	"deduplines/internal/shard"
	"deduplines/internal/workspace"
	"deduplines/pkg/deduplines"
)

type engineCall func(ctx context.Context, workDir string, opts deduplines.Options) error

// execute loads configuration, sets up logging and metrics, then runs call
// inside a fresh working directory that is removed afterwards.
func (a *app) execute(ctx context.Context, name string, inputs []string, out string, call engineCall) error {
	cfg, err := config.Load(a.v, a.envDir, a.configFile)
	if err != nil {
		return err
	}
	issues := config.Validate(cfg)
	if err := config.Err(issues); err != nil {
		return &deduplines.Error{Kind: deduplines.ErrValidation, Op: name, Err: err}
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log = logger.WithRun(log, uuid.NewString(), cfg.Metrics.Job)
	for _, iss := range issues {
		log.Warn("config", zap.String("path", iss.Path), zap.String("issue", iss.Message))
	}

	flush := setupMetrics(cfg.Metrics, log)
	defer flush()

	// Validate has already accepted the codec name.
	comp, _ := shard.ParseCompression(cfg.Engine.Compression)
	opts := deduplines.Options{
		SplitCount:    cfg.Engine.Splits,
		ThreadCount:   workspace.DefaultThreads(cfg.Engine.Threads),
		Compression:   comp,
		StripCR:       cfg.Engine.StripCR,
		MaxShardBytes: cfg.Engine.MaxShardBytes,
		Logger:        log,
		Job:           cfg.Metrics.Job,
	}

	sess := workspace.Session{
		Dir:    workspace.NewDir(cfg.Engine.WorkDir),
		Inputs: inputs,
		Output: out,
		Keep:   cfg.Engine.KeepWorkDir,
		Logger: log,
	}

	log.Info("starting",
		zap.String("command", name),
		zap.Strings("inputs", inputs),
		zap.String("input_size", humanize.Bytes(totalSize(inputs))),
		zap.String("output", out),
		zap.Int("splits", opts.SplitCount),
		zap.Int("threads", opts.ThreadCount),
		zap.Stringer("compression", opts.Compression),
		zap.String("work_dir", sess.Dir),
	)

	start := time.Now()
	err = sess.Run(func(dir string) error {
		return call(ctx, dir, opts)
	})
	if err != nil {
		return err
	}

	var size uint64
	if fi, serr := os.Stat(out); serr == nil {
		size = uint64(fi.Size())
	}
	log.Info("finished",
		zap.String("command", name),
		zap.String("output", out),
		zap.String("output_size", humanize.Bytes(size)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// totalSize sums the sizes of paths that can be stat'ed.
func totalSize(paths []string) uint64 {
	var n uint64
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil {
			n += uint64(fi.Size())
		}
	}
	return n
}
