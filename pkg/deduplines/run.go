package deduplines

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deduplines/internal/merge"
	"deduplines/internal/metrics"
	"deduplines/internal/partition"
	"deduplines/internal/reconcile"
	"deduplines/internal/scheduler"
	"deduplines/internal/shard"
)

// run partitions the inputs, reconciles every touched shard on the worker
// pool and merges the results. Merging starts right away and copies shard i
// as soon as shards [0, i] are done, so it overlaps with reconciliation.
func run(ctx context.Context, p plan) (err error) {
	log := p.opts.logger().With(
		zap.String("op", p.op),
		zap.Stringer("mode", p.mode),
		zap.String("work_dir", string(p.dir)),
	)
	job := p.opts.job()
	start := time.Now()
	defer func() {
		metrics.RecordStep(job, metrics.StepTotalRun, err, time.Since(start))
	}()

	// Partition.
	pstart := time.Now()
	part, err := partition.Run(ctx, p.dir, p.inputs, partition.Options{
		Count:       p.opts.SplitCount,
		Compression: p.opts.Compression,
		StripCR:     p.opts.StripCR,
		Logger:      log,
	})
	metrics.RecordStep(job, metrics.StepPartition, err, time.Since(pstart))
	if err != nil {
		return classify("partition", err)
	}
	metrics.RecordLines(job, metrics.KindRead, part.Lines)

	ids := make([]shard.ID, 0, part.Touched.Count())
	part.Touched.Each(func(id int) { ids = append(ids, shard.ID(id)) })

	log.Info("partition done",
		zap.Int("inputs", len(p.inputs)),
		zap.Int64("lines", part.Lines),
		zap.Int64("bytes", part.Bytes),
		zap.Int("shards", p.opts.SplitCount),
		zap.Int("touched", len(ids)),
		zap.Duration("took", time.Since(pstart)),
	)

	// Reconcile and merge.
	proc := &reconcile.Processor{
		Mode:        p.mode,
		Compression: p.opts.Compression,
		Budget:      p.opts.MaxShardBytes,
	}
	slots := scheduler.NewSlots(p.opts.SplitCount)
	var distinct, emitted atomic.Int64

	task := func(ctx context.Context, id shard.ID) error {
		st, err := proc.ProcessToFile(ctx, p.dir, id)
		if err != nil {
			return err
		}
		// The shard file has been read exactly once; free its disk now.
		removeSpent(log, "shard", id, p.dir.ShardPath(id))

		distinct.Add(int64(st.Distinct))
		emitted.Add(st.Emitted)
		log.Debug("shard reconciled",
			zap.Int("shard", int(id)),
			zap.Int64("records", st.Records),
			zap.Int("distinct", st.Distinct),
			zap.Int64("emitted", st.Emitted),
			zap.Int64("table_bytes", st.Bytes),
		)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rstart := time.Now()
		err := scheduler.Run(gctx, ids, p.opts.ThreadCount, slots, task)
		metrics.RecordStep(job, metrics.StepReconcile, err, time.Since(rstart))
		if err != nil {
			return classify("reconcile", err)
		}
		metrics.RecordShards(job, int64(len(ids)))
		log.Info("reconcile done",
			zap.Int("threads", p.opts.ThreadCount),
			zap.Int64("distinct", distinct.Load()),
			zap.Duration("took", time.Since(rstart)),
		)
		return nil
	})
	g.Go(func() error {
		mstart := time.Now()
		st, err := merge.ToFile(gctx, p.output, ids, merge.Options{
			Wait: slots.Wait,
			Open: merge.FileOpener(p.dir),
			Consumed: func(id shard.ID) {
				removeSpent(log, "result", id, p.dir.ResultPath(id))
			},
		})
		metrics.RecordStep(job, metrics.StepMerge, err, time.Since(mstart))
		if err != nil {
			return classify("merge", err)
		}
		log.Info("merge done",
			zap.String("output", p.output),
			zap.Int("shards", st.Shards),
			zap.Int64("bytes", st.Bytes),
			zap.Duration("took", time.Since(mstart)),
		)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("run failed", zap.Error(err))
		return err
	}

	metrics.RecordLines(job, metrics.KindDistinct, distinct.Load())
	metrics.RecordLines(job, metrics.KindWritten, emitted.Load())
	log.Info("run done",
		zap.Int64("lines_read", part.Lines),
		zap.Int64("lines_written", emitted.Load()),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// removeSpent deletes a file the run no longer needs. A failure leaves the
// file behind and is only logged.
func removeSpent(log *zap.Logger, kind string, id shard.ID, path string) {
	if err := os.Remove(path); err != nil {
		log.Debug("remove spent file",
			zap.String("kind", kind),
			zap.Int("shard", int(id)),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
