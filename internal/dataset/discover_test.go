package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverShardsBySplit(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train-000000.tar"))
	mustWrite(t, filepath.Join(dir, "nested", "train-000001.tar"))
	mustWrite(t, filepath.Join(dir, "test-000000.tar"))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir, Train)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "train-000001.tar"),
		filepath.Join(dir, "train-000000.tar"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d (%v)", len(want), len(shards), shards)
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}

	test, err := DiscoverShards(dir, Test)
	if err != nil {
		t.Fatalf("DiscoverShards(test) error: %v", err)
	}
	if len(test) != 1 {
		t.Fatalf("expected 1 test shard, got %d", len(test))
	}
}

func TestDiscoverShardsGenericName(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "shard-000000.tar"))
	mustWrite(t, filepath.Join(dir, "shard-12.tar"))

	shards, err := DiscoverShards(dir, "")
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	if len(shards) != 1 {
		t.Fatalf("expected 1 shard, got %d", len(shards))
	}
}

func TestDiscoverShardsMissingRoot(t *testing.T) {
	if _, err := DiscoverShards(filepath.Join(t.TempDir(), "nope"), Train); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
