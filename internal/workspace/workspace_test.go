package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"deduplines/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDir(t *testing.T) {
	parent := t.TempDir()
	a := workspace.NewDir(parent)
	b := workspace.NewDir(parent)

	assert.NotEqual(t, a, b)
	assert.Equal(t, parent, filepath.Dir(a))
	assert.True(t, strings.HasPrefix(filepath.Base(a), "deduplines-"))

	assert.Equal(t, os.TempDir(), filepath.Dir(workspace.NewDir("")))
}

func TestPrepareAndTeardown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, workspace.Prepare(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard_000000"), []byte("x"), 0o644))
	require.NoError(t, workspace.Prepare(dir), "existing directory is fine")

	require.NoError(t, workspace.Teardown(dir))
	_, err := os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	assert.NoError(t, workspace.Teardown(dir), "missing directory is fine")
	assert.NoError(t, workspace.Teardown(""))
	assert.Error(t, workspace.Prepare(""))
}

func TestCheckInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(file, []byte("a\n"), 0o644))

	assert.NoError(t, workspace.CheckInputs([]string{file, file}))

	err := workspace.CheckInputs([]string{file, filepath.Join(dir, "missing.txt")})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.txt")

	assert.ErrorIs(t, workspace.CheckInputs([]string{dir}), workspace.ErrNotRegular)
}

func TestCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, workspace.CheckOutputDir(filepath.Join(dir, "out.txt")))

	err := workspace.CheckOutputDir(filepath.Join(dir, "nope", "out.txt"))
	assert.ErrorIs(t, err, workspace.ErrNotWritable)
}

func TestCheckOutputDir_ReadOnly(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	assert.ErrorIs(t, workspace.CheckOutputDir(filepath.Join(dir, "out.txt")), workspace.ErrNotWritable)
}

func TestDefaultThreads(t *testing.T) {
	assert.Equal(t, 3, workspace.DefaultThreads(3))
	assert.Equal(t, runtime.NumCPU(), workspace.DefaultThreads(0))
	assert.Equal(t, runtime.NumCPU(), workspace.DefaultThreads(-2))
}

func TestSessionRun(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("a\n"), 0o644))

	t.Run("RemovesDirOnSuccess", func(t *testing.T) {
		s := workspace.Session{Dir: workspace.NewDir(root), Inputs: []string{in}, Output: filepath.Join(root, "out.txt")}
		var seen string
		err := s.Run(func(dir string) error {
			seen = dir
			fi, err := os.Stat(dir)
			require.NoError(t, err)
			assert.True(t, fi.IsDir())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, s.Dir, seen)
		_, err = os.Stat(s.Dir)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("RemovesDirOnFailure", func(t *testing.T) {
		boom := errors.New("boom")
		s := workspace.Session{Dir: workspace.NewDir(root), Inputs: []string{in}, Output: filepath.Join(root, "out.txt")}
		err := s.Run(func(dir string) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = os.Stat(s.Dir)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("MissingInputSkipsFn", func(t *testing.T) {
		s := workspace.Session{Dir: workspace.NewDir(root), Inputs: []string{filepath.Join(root, "x")}, Output: filepath.Join(root, "out.txt")}
		called := false
		err := s.Run(func(dir string) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.False(t, called)
		_, err = os.Stat(s.Dir)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Keep", func(t *testing.T) {
		s := workspace.Session{Dir: workspace.NewDir(root), Inputs: []string{in}, Output: filepath.Join(root, "out.txt"), Keep: true}
		require.NoError(t, s.Run(func(dir string) error { return nil }))
		_, err := os.Stat(s.Dir)
		assert.NoError(t, err)
	})
}
