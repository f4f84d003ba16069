package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadShardsPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, shade := range []uint8{10, 20, 30, 40} {
		paths = append(paths, writeShard(t, dir, fmt.Sprintf("train-%06d.tar", i), []shardEntry{
			{key: "a", label: i, shade: shade},
			{key: "b", label: i + 1, shade: shade + 1},
		}))
	}

	ds, err := LoadShards(context.Background(), ShardOptions{Paths: paths, NumWorkers: 3})
	if err != nil {
		t.Fatalf("LoadShards: %v", err)
	}
	if ds.Len() != 8 {
		t.Fatalf("expected 8 samples, got %d", ds.Len())
	}
	wantLabels := []int{0, 1, 1, 2, 2, 3, 3, 4}
	for i, want := range wantLabels {
		if ds.Labels[i] != want {
			t.Fatalf("label[%d]=%d want %d", i, ds.Labels[i], want)
		}
	}
	if got := ds.Image(2)[0]; got != 20 {
		t.Fatalf("expected first pixel of sample 2 to be 20, got %v", got)
	}
}

func TestLoadShardsBadImage(t *testing.T) {
	dir := t.TempDir()
	good := writeShard(t, dir, "train-000000.tar", []shardEntry{{key: "a", label: 1, shade: 5}})

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "b.png", []byte("not a png"))
	addTarEntry(t, tw, "b.cls", []byte("2"))
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	bad := filepath.Join(dir, "train-000001.tar")
	if err := os.WriteFile(bad, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	if _, err := LoadShards(context.Background(), ShardOptions{Paths: []string{good, bad}, NumWorkers: 2}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLoadShardsCancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeShard(t, dir, "train-000000.tar", []shardEntry{{key: "a", label: 1, shade: 5}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := LoadShards(ctx, ShardOptions{Paths: []string{path}}); err == nil {
		t.Fatal("expected error after cancellation")
	}
}
