// Package workspace is the thin adapter around the engine. It creates and
// removes the per-run working directory, checks that inputs exist and that
// the output location is writable, and picks a default thread count.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotWritable is returned when the output directory cannot be written.
var ErrNotWritable = errors.New("workspace: output directory is not writable")

// ErrNotRegular is returned for an input path that is a directory.
var ErrNotRegular = errors.New("workspace: input is not a regular file")

const dirPrefix = "deduplines-"

// NewDir returns a fresh, not yet created, working directory path under
// parent. An empty parent means os.TempDir.
func NewDir(parent string) string {
	if parent == "" {
		parent = os.TempDir()
	}
	return filepath.Join(parent, dirPrefix+uuid.NewString())
}

// Prepare creates dir and any missing parents.
func Prepare(dir string) error {
	if dir == "" {
		return fmt.Errorf("workspace: empty working directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: create %s: %w", dir, err)
	}
	return nil
}

// CheckInputs verifies each path exists and is not a directory. The error
// wraps os.ErrNotExist for a missing path.
func CheckInputs(paths []string) error {
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("workspace: could not find file %s: %w", p, err)
		}
		if fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotRegular, p)
		}
	}
	return nil
}

// CheckOutputDir verifies the directory that will hold outputPath is writable.
func CheckOutputDir(outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := writable(dir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}
	return nil
}

// DefaultThreads returns n, or the number of CPUs when n <= 0.
func DefaultThreads(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Teardown removes dir and everything in it. A missing dir is not an error.
func Teardown(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", dir, err)
	}
	return nil
}

// Session runs one engine call inside a prepared working directory.
type Session struct {
	Dir    string
	Inputs []string
	Output string
	// Keep skips Teardown so shard files can be inspected.
	Keep   bool
	Logger *zap.Logger
}

// Run prepares the directory, checks preconditions, calls fn and always
// tears the directory down afterwards, whatever fn returned.
func (s Session) Run(fn func(dir string) error) (err error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}

	defer func() {
		if s.Keep {
			log.Info("keeping working directory", zap.String("dir", s.Dir))
			return
		}
		if terr := Teardown(s.Dir); terr != nil {
			log.Warn("working directory teardown failed", zap.String("dir", s.Dir), zap.Error(terr))
			if err == nil {
				err = terr
			}
		}
	}()

	if err := Prepare(s.Dir); err != nil {
		return err
	}
	if err := CheckInputs(s.Inputs); err != nil {
		return err
	}
	if err := CheckOutputDir(s.Output); err != nil {
		return err
	}
	return fn(s.Dir)
}
