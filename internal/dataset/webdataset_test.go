package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
)

func TestStreamShardPairsEntries(t *testing.T) {
	shard := writeShard(t, t.TempDir(), "train-000000.tar", []shardEntry{
		{key: "000001", label: 3, shade: 10},
		{key: "000002", label: 7, shade: 200},
	})

	samplesCh, errCh := StreamShard(context.Background(), shard, 4)
	var samples []Sample
	for sample := range samplesCh {
		samples = append(samples, sample)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("StreamShard returned error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Key != "000001" || samples[0].Label != 3 {
		t.Fatalf("unexpected first sample %s/%d", samples[0].Key, samples[0].Label)
	}
	if samples[1].Key != "000002" || samples[1].Label != 7 {
		t.Fatalf("unexpected second sample %s/%d", samples[1].Key, samples[1].Label)
	}
}

func TestStreamShardIncompletePair(t *testing.T) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "000001.cls", []byte("4"))
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train-000000.tar")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	samplesCh, errCh := StreamShard(context.Background(), path, 4)
	for range samplesCh {
		t.Fatal("no sample expected")
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected incomplete pair error")
	}
}

func TestStreamShardPendingOverflow(t *testing.T) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for i := 0; i < 3; i++ {
		addTarEntry(t, tw, strconv.Itoa(i)+".cls", []byte("1"))
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train-000000.tar")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	samplesCh, errCh := StreamShard(context.Background(), path, 1)
	for range samplesCh {
	}
	if err := <-errCh; !errors.Is(err, ErrPendingOverflow) {
		t.Fatalf("expected ErrPendingOverflow, got %v", err)
	}
}

type shardEntry struct {
	key   string
	label int
	shade uint8
}

func writeShard(t *testing.T, dir, name string, entries []shardEntry) string {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		addTarEntry(t, tw, e.key+".png", encodeGray(t, e.shade))
		addTarEntry(t, tw, e.key+".cls", []byte(strconv.Itoa(e.label)))
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	return path
}

func encodeGray(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, ImageCols, ImageRows))
	for y := 0; y < ImageRows; y++ {
		for x := 0; x < ImageCols; x++ {
			img.SetGray(x, y, color.Gray{Y: shade})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func addTarEntry(t *testing.T, tw *tar.Writer, name string, data []byte) {
	t.Helper()
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatalf("write data: %v", err)
	}
}

func TestStreamShardOutOfOrderPairs(t *testing.T) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "a.cls", []byte("5\n"))
	addTarEntry(t, tw, "b.png", encodeGray(t, 40))
	addTarEntry(t, tw, "notes.txt", []byte("ignored"))
	addTarEntry(t, tw, "a.png", encodeGray(t, 90))
	addTarEntry(t, tw, "b.cls", []byte("8"))
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train-000000.tar")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	samplesCh, errCh := StreamShard(context.Background(), path, 2)
	var got []Sample
	for s := range samplesCh {
		got = append(got, s)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("StreamShard returned error: %v", err)
	}
	if len(got) != 2 || got[0].Key != "a" || got[0].Label != 5 || got[1].Key != "b" || got[1].Label != 8 {
		t.Fatalf("unexpected samples %+v", got)
	}
}
