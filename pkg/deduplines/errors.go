package deduplines

import (
	"context"
	"errors"
	"io/fs"

	"deduplines/internal/linetable"
	"deduplines/internal/reconcile"
	"deduplines/internal/scheduler"
	"deduplines/internal/shard"
)

// Error kinds. Every error returned by the engine, other than a context
// error, matches exactly one of these with errors.Is.
var (
	// ErrValidation reports invalid arguments, raised before any I/O.
	ErrValidation = errors.New("validation error")
	// ErrIO reports an unreadable input, an unwritable output or a failed write.
	ErrIO = errors.New("i/o error")
	// ErrResourceExhausted reports a shard whose working set exceeded the
	// memory budget.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrInternal reports a broken internal invariant such as a worker panic.
	ErrInternal = errors.New("internal invariant violation")
)

// Error carries the kind of a failure together with where it happened.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // "unique_lines", "added_lines", "partition", "reconcile", "merge"
	Path string // file involved, when known
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	s := "deduplines: " + e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validation(op string, cause error) error {
	return &Error{Kind: ErrValidation, Op: op, Err: cause}
}

// classify maps an error from the internal packages onto the taxonomy.
// Context errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	out := &Error{Kind: ErrIO, Op: op, Err: err}
	switch {
	case errors.Is(err, linetable.ErrBudgetExceeded):
		out.Kind = ErrResourceExhausted
	case errors.Is(err, scheduler.ErrPanic),
		errors.Is(err, reconcile.ErrOrigin),
		errors.Is(err, shard.ErrCorrupt):
		out.Kind = ErrInternal
	}

	var pe *fs.PathError
	if errors.As(err, &pe) {
		out.Path = pe.Path
	}
	return out
}
