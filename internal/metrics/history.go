package metrics

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EpochStats summarises one pass over the training set.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
	Accuracy  float64
	Duration  time.Duration
}

// History is the ordered record of a run.
type History struct {
	Epochs []EpochStats
}

// Add appends the stats of a finished epoch.
func (h *History) Add(s EpochStats) { h.Epochs = append(h.Epochs, s) }

// Len is the number of recorded epochs.
func (h *History) Len() int { return len(h.Epochs) }

// TrainLosses returns the per-epoch training loss series.
func (h *History) TrainLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainLoss
	}
	return out
}

// ValLosses returns the per-epoch validation loss series.
func (h *History) ValLosses() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.ValLoss
	}
	return out
}

// Improving reports whether the last epoch's training loss is below the
// first one's. Noise between neighbouring epochs is tolerated.
func (h *History) Improving() bool {
	if len(h.Epochs) < 2 {
		return false
	}
	return h.Epochs[len(h.Epochs)-1].TrainLoss < h.Epochs[0].TrainLoss
}

// Best returns the epoch with the lowest validation loss.
func (h *History) Best() (EpochStats, bool) {
	if len(h.Epochs) == 0 {
		return EpochStats{}, false
	}
	return h.Epochs[floats.MinIdx(h.ValLosses())], true
}

// MeanTrainLoss averages the training loss over all epochs.
func (h *History) MeanTrainLoss() float64 {
	if len(h.Epochs) == 0 {
		return 0
	}
	return stat.Mean(h.TrainLosses(), nil)
}
