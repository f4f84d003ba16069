package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.Steps() != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
	if math.Abs(snap.MeanLoss-1.0) > 1e-12 {
		t.Fatalf("expected mean loss 1.0, got %f", snap.MeanLoss)
	}
	if snap.Steps != 2 {
		t.Fatalf("expected 2 steps, got %d", snap.Steps)
	}
}

func TestWindowMeanLossWeightsShortBatch(t *testing.T) {
	var w Window
	w.Record(3, 0, time.Millisecond, 1)
	w.Record(1, 0, time.Millisecond, 5)
	if got := w.Snapshot().MeanLoss; math.Abs(got-2) > 1e-12 {
		t.Fatalf("expected weighted mean 2, got %f", got)
	}
}

func TestEmptyWindowSnapshot(t *testing.T) {
	var w Window
	snap := w.Snapshot()
	if snap != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestHistory(t *testing.T) {
	var h History
	if h.Improving() {
		t.Fatal("empty history cannot be improving")
	}
	if _, ok := h.Best(); ok {
		t.Fatal("empty history has no best epoch")
	}
	h.Add(EpochStats{Epoch: 1, TrainLoss: 1.9, ValLoss: 1.0})
	h.Add(EpochStats{Epoch: 2, TrainLoss: 0.9, ValLoss: 0.5})
	h.Add(EpochStats{Epoch: 3, TrainLoss: 0.4, ValLoss: 0.6})
	if !h.Improving() {
		t.Fatal("expected improving history")
	}
	best, _ := h.Best()
	if best.Epoch != 2 {
		t.Fatalf("expected best epoch 2, got %d", best.Epoch)
	}
	if math.Abs(h.MeanTrainLoss()-1.0667) > 1e-3 {
		t.Fatalf("unexpected mean train loss %f", h.MeanTrainLoss())
	}
}
