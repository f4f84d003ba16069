package dataset

import (
	"math"
	"reflect"
	"testing"
)

func TestNormalizeMapsToUnitRange(t *testing.T) {
	ds := &Dataset{Rows: 1, Cols: 3, Images: []float64{0, 127.5, 255}, Labels: []int{0}}
	if err := ds.Normalize(0.5, 0.5); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []float64{-1, 0, 1}
	for i, v := range ds.Images {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Fatalf("pixel %d = %v want %v", i, v, want[i])
		}
	}
	if err := ds.Normalize(0, 0); err == nil {
		t.Fatal("expected error for zero std")
	}
}

func TestSplitPartitionsSamples(t *testing.T) {
	ds := indexedDataset(20)
	train, val, err := ds.Split(0.25, 9)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if train.Len() != 15 || val.Len() != 5 {
		t.Fatalf("unexpected split %d/%d", train.Len(), val.Len())
	}
	seen := map[float64]bool{}
	for _, part := range []*Dataset{train, val} {
		for i := 0; i < part.Len(); i++ {
			seen[part.Image(i)[0]] = true
		}
	}
	if len(seen) != 20 {
		t.Fatalf("split lost samples: %d distinct", len(seen))
	}
	if _, _, err := ds.Split(1, 0); err == nil {
		t.Fatal("expected error for fraction 1")
	}
}

func TestValidateRejectsBadLabels(t *testing.T) {
	ds := &Dataset{Rows: 1, Cols: 1, Images: []float64{0}, Labels: []int{NumClasses}}
	if err := ds.Validate(); err == nil {
		t.Fatal("expected label range error")
	}
	ds = &Dataset{Rows: 1, Cols: 2, Images: []float64{0}, Labels: []int{1}}
	if err := ds.Validate(); err == nil {
		t.Fatal("expected pixel count error")
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	a, err := Synthetic(50, 4)
	if err != nil {
		t.Fatalf("Synthetic: %v", err)
	}
	b, _ := Synthetic(50, 4)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed produced different datasets")
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	counts := make([]int, NumClasses)
	for _, l := range a.Labels {
		counts[l]++
	}
	for c, n := range counts {
		if n != 5 {
			t.Fatalf("class %d has %d samples, want 5", c, n)
		}
	}
	for _, p := range a.Images {
		if p < 0 || p > 255 {
			t.Fatalf("pixel out of range: %v", p)
		}
	}
	if _, err := Synthetic(0, 1); err == nil {
		t.Fatal("expected error for zero samples")
	}
}
