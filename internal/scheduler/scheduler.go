// Package scheduler runs shard tasks across a fixed number of workers.
//
// Workers pull shard ids from one shared queue. Shards are independent, so
// the only shared state is that queue and the Slots a task signals when its
// shard's result is in place. Results are addressed by shard id, never by
// completion order, which keeps the assembled output reproducible even
// though shards finish in any order.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"deduplines/internal/shard"
)

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("scheduler: task panicked")

// Task processes one shard.
type Task func(ctx context.Context, id shard.ID) error

// Run executes task once for every id using threads workers (at least one).
// When slots is non-nil, slots.Done(id) is called after task(id) succeeds.
//
// The first failure cancels the context handed to the remaining tasks and
// is the error returned; tasks already running are left to observe the
// cancellation on their own and their results are discarded.
func Run(ctx context.Context, ids []shard.ID, threads int, slots *Slots, task Task) error {
	if threads < 1 {
		threads = 1
	}
	if threads > len(ids) {
		threads = len(ids)
	}
	if len(ids) == 0 {
		return ctx.Err()
	}

	jobs := make(chan shard.ID, len(ids))
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < threads; w++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case id, ok := <-jobs:
					if !ok {
						return nil
					}
					if err := runTask(gctx, id, task); err != nil {
						return err
					}
					if slots != nil {
						slots.Done(id)
					}
				}
			}
		})
	}
	return g.Wait()
}

func runTask(ctx context.Context, id shard.ID, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: shard %d: %v\n%s", ErrPanic, id, r, debug.Stack())
		}
	}()
	return task(ctx, id)
}

// Slots records which shards have their result in place. Each slot is
// signalled at most once.
type Slots struct {
	done []chan struct{}
}

// NewSlots returns n unsignalled slots, one per shard id in [0, n).
func NewSlots(n int) *Slots {
	s := &Slots{done: make([]chan struct{}, n)}
	for i := range s.done {
		s.done[i] = make(chan struct{})
	}
	return s
}

// Done marks id's result as ready.
func (s *Slots) Done(id shard.ID) { close(s.done[id]) }

// Wait blocks until id is ready or ctx is done.
func (s *Slots) Wait(ctx context.Context, id shard.ID) error {
	select {
	case <-s.done[id]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
