package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deduplines/pkg/deduplines"
)

// runCLI executes a fresh command tree with quiet, isolated defaults.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	base := []string{"--env-dir", t.TempDir(), "--log-level", "error", "--work-dir", t.TempDir()}
	cmd := newRootCmd()
	cmd.SetArgs(append(args, base...))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func readSorted(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	sort.Strings(lines)
	return lines
}

func TestUniqueCommand(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.txt", "line1\nline2\nline3\nline1\n")
	b := write(t, dir, "b.txt", "line3\nline4\nline1")
	out := filepath.Join(dir, "out.txt")

	require.NoError(t, runCLI(t, "unique", "-o", out, "--splits", "3", "--threads", "2", a, b))
	assert.Equal(t, []string{"line1", "line2", "line3", "line4"}, readSorted(t, out))
}

func TestAddedCommand(t *testing.T) {
	dir := t.TempDir()
	first := write(t, dir, "first.txt", "line1\nline2\nline3\nline1\nline3\nline4\nline1\n")
	second := write(t, dir, "second.txt", "line1\nline2\nline3\nline5\nline1\nline3\nline4\nline1\n")
	out := filepath.Join(dir, "out.txt")

	require.NoError(t, runCLI(t, "added", "--out", out, "--compression", "lz4", first, second))
	assert.Equal(t, []string{"line5"}, readSorted(t, out))
}

func TestWorkDirRemoved(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\ny\nx\n")
	out := filepath.Join(dir, "out.txt")
	parent := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"unique", "-o", out, "--env-dir", t.TempDir(), "--log-level", "error", "--work-dir", parent, in})
	require.NoError(t, cmd.Execute())

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkDirRemovedOnFailure(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\ny\n")
	out := filepath.Join(dir, "out.txt")
	parent := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"unique", "-o", out, "--env-dir", t.TempDir(), "--log-level", "error",
		"--work-dir", parent, "--max-shard-bytes", "1024", in})
	err := cmd.Execute()
	assert.ErrorIs(t, err, deduplines.ErrResourceExhausted)

	entries, rerr := os.ReadDir(parent)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestKeepWorkDir(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\n")
	out := filepath.Join(dir, "out.txt")
	parent := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"unique", "-o", out, "--env-dir", t.TempDir(), "--log-level", "error",
		"--work-dir", parent, "--keep-work-dir", in})
	require.NoError(t, cmd.Execute())

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "deduplines-"))
}

func TestMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := runCLI(t, "unique", "-o", filepath.Join(dir, "out.txt"), filepath.Join(dir, "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1, exitCode(err))
}

func TestUnwritableOutputDir(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\n")
	err := runCLI(t, "unique", "-o", filepath.Join(dir, "missing", "out.txt"), in)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not writable")
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\n")
	out := filepath.Join(dir, "out.txt")

	err := runCLI(t, "unique", "-o", out, "--splits", "0", in)
	require.Error(t, err)
	assert.ErrorIs(t, err, deduplines.ErrValidation)
	assert.Contains(t, err.Error(), "engine.splits")
	assert.Equal(t, 2, exitCode(err))

	err = runCLI(t, "unique", "-o", out, "--metrics-backend", "graphite", in)
	assert.ErrorIs(t, err, deduplines.ErrValidation)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEDUPLINES_ENGINE_COMPRESSION", "snappy")
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\n")

	err := runCLI(t, "unique", "-o", filepath.Join(dir, "out.txt"), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.compression")

	// A flag beats the environment.
	err = runCLI(t, "unique", "-o", filepath.Join(dir, "out.txt"), "--compression", "zstd", in)
	assert.NoError(t, err)
}

func TestArgs(t *testing.T) {
	dir := t.TempDir()
	in := write(t, dir, "in.txt", "x\n")
	out := filepath.Join(dir, "out.txt")

	err := runCLI(t, "added", "-o", out, in)
	assert.ErrorIs(t, err, errUsage)
	assert.Equal(t, 2, exitCode(err))

	err = runCLI(t, "unique", "-o", out)
	assert.ErrorIs(t, err, errUsage)

	err = runCLI(t, "unique", "--bogus", "-o", out, in)
	assert.ErrorIs(t, err, errUsage)

	assert.Error(t, runCLI(t, "unique", in), "missing --out")
}

func TestPushgatewayMetrics(t *testing.T) {
	var pushes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/job/cli-test") {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	dir := t.TempDir()
	in := write(t, dir, "in.txt", "a\nb\na\n")
	out := filepath.Join(dir, "out.txt")

	require.NoError(t, runCLI(t, "unique", "-o", out,
		"--metrics-backend", "pushgateway", "--pushgateway-url", server.URL, "--job", "cli-test", in))
	assert.Equal(t, int32(1), pushes.Load())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("x")))
	assert.Equal(t, 130, exitCode(context.Canceled))
	assert.Equal(t, 2, exitCode(&deduplines.Error{Kind: deduplines.ErrValidation, Op: "unique_lines"}))
}
