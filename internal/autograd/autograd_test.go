package autograd

import (
	"math"
	"testing"

	"digit-forge/internal/dataset"
	"digit-forge/internal/model"
)

func TestSquareMeanGradientIsHalfX(t *testing.T) {
	x := []float64{0.5, -1.2, 2.0, 0.3}
	w, err := SquareMean(x, 2, 2)
	if err != nil {
		t.Fatalf("SquareMean: %v", err)
	}
	wantZ := (0.25 + 1.44 + 4.0 + 0.09) / 4
	if math.Abs(w.Z-wantZ) > 1e-12 {
		t.Fatalf("z=%v want %v", w.Z, wantZ)
	}
	for i, v := range x {
		if math.Abs(w.Y[i]-v*v) > 1e-12 {
			t.Fatalf("y[%d]=%v want %v", i, w.Y[i], v*v)
		}
		if math.Abs(w.Grad[i]-v/2) > 1e-12 {
			t.Fatalf("grad[%d]=%v want %v", i, w.Grad[i], v/2)
		}
	}
}

func TestSquareMeanRejectsShape(t *testing.T) {
	if _, err := SquareMean([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestGradCheckAgreesWithBackprop(t *testing.T) {
	net, err := model.New(model.Spec{Input: 6, Hidden: []int{4}, Classes: 3, Activation: model.Tanh}, model.Options{
		BatchSize: 4,
		Seed:      5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer net.Close()

	batch := dataset.Batch{
		Inputs: []float64{
			0.1, -0.2, 0.3, 0.0, 0.5, -0.6,
			0.9, 0.1, -0.4, 0.2, 0.0, 0.3,
			-0.7, 0.4, 0.2, -0.1, 0.8, 0.1,
		},
		Labels: []int{2, 0, 1},
	}
	before := net.Parameters()

	worst, err := GradCheck(net, batch, CheckOptions{Samples: 20, Seed: 2})
	if err != nil {
		t.Fatalf("GradCheck: %v", err)
	}
	if worst.RelErr > 1e-4 {
		t.Fatalf("backprop disagrees with finite differences: %+v", worst)
	}

	after := net.Parameters()
	for i := range before {
		for j := range before[i].Data {
			if before[i].Data[j] != after[i].Data[j] {
				t.Fatalf("%s[%d] not restored", before[i].Name, j)
			}
		}
	}
}

func TestGradCheckIgnoresStaleGradients(t *testing.T) {
	net, err := model.New(model.Spec{Input: 6, Hidden: []int{4}, Classes: 3, Activation: model.Tanh}, model.Options{
		BatchSize: 3,
		Seed:      9,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer net.Close()

	batch := dataset.Batch{
		Inputs: []float64{
			0.2, 0.1, -0.3, 0.4, -0.5, 0.6,
			-0.9, 0.3, 0.4, 0.0, 0.1, -0.2,
			0.5, -0.4, 0.7, 0.1, -0.8, 0.2,
		},
		Labels: []int{1, 2, 0},
	}
	// Leave accumulated gradients behind from earlier passes.
	for i := 0; i < 2; i++ {
		if _, err := net.ComputeGradients(batch); err != nil {
			t.Fatalf("ComputeGradients: %v", err)
		}
	}
	if _, err := net.Evaluate(batch); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	worst, err := GradCheck(net, batch, CheckOptions{Samples: 20, Seed: 4})
	if err != nil {
		t.Fatalf("GradCheck: %v", err)
	}
	if worst.RelErr > 1e-4 {
		t.Fatalf("stale gradients leaked into the check: %+v", worst)
	}
}
