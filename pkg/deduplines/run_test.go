package deduplines

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"deduplines/internal/shard"
)

func TestRemoveSpentLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// A path below a regular file cannot be removed.
	bad := filepath.Join(file, "result_000004")
	removeSpent(log, "result", 4, bad)

	entries := logs.FilterMessage("remove spent file").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.DebugLevel {
		t.Fatalf("level = %v, want debug", entries[0].Level)
	}
	if fields["shard"] != int64(4) || fields["kind"] != "result" || fields["path"] != bad {
		t.Fatalf("fields = %v", fields)
	}
	if _, ok := fields["error"]; !ok {
		t.Fatalf("no error field in %v", fields)
	}
}

func TestRemoveSpentDeletesQuietly(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	path := shard.Dir(t.TempDir()).ShardPath(9)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	removeSpent(zap.New(core), "shard", 9, path)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("stat after remove = %v, want not exist", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("unexpected log entries: %v", logs.All())
	}
}
