package model

import "digit-forge/internal/dataset"

// Model defines the training functionality the trainer drives.
type Model interface {
	TrainStep(batch dataset.Batch) (float64, error)
	Evaluate(batch dataset.Batch) (Result, error)
}

var _ Model = (*Network)(nil)

// Result is the outcome of scoring one batch.
type Result struct {
	Loss    float64
	Correct int
	Count   int
}

// Accuracy is the fraction of correctly classified samples.
func (r Result) Accuracy() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Count)
}
