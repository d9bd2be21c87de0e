// Command deduplines removes duplicate lines from huge files and lists the
// lines one file adds over another.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"deduplines/internal/logger"
	"deduplines/pkg/deduplines"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	// Console format at debug level gives readable timestamps on a terminal.
	l, logErr := logger.New(&logger.Config{Level: "debug", Format: "console"})
	if logErr == nil {
		l.Error("command failed", zap.Error(err))
		_ = l.Sync()
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode is 2 for bad input, 130 for an interrupt and 1 otherwise.
func exitCode(err error) int {
	switch {
	case errors.Is(err, deduplines.ErrValidation), errors.Is(err, errUsage):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
