package autograd

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"

	"digit-forge/internal/dataset"
	"digit-forge/internal/model"
)

// CheckOptions tunes GradCheck.
type CheckOptions struct {
	// Samples is how many parameter entries to perturb.
	Samples int
	// Step is the finite-difference step.
	Step float64
	Seed int64
}

// Mismatch describes the worst disagreement found by GradCheck.
type Mismatch struct {
	Param    string
	Index    int
	Backprop float64
	Numeric  float64
	RelErr   float64
}

// GradCheck compares the gradients the framework computes for batch with
// central finite differences of the loss on a random subset of parameter
// entries. Gradients left over from earlier passes are discarded first, and
// parameters are restored before returning.
func GradCheck(net *model.Network, batch dataset.Batch, opts CheckOptions) (result Mismatch, err error) {
	if opts.Samples <= 0 {
		opts.Samples = 16
	}
	if opts.Step <= 0 {
		opts.Step = 1e-6
	}
	net.ZeroGrad()
	if _, err := net.ComputeGradients(batch); err != nil {
		return Mismatch{}, err
	}
	params := net.Parameters()
	net.ZeroGrad()
	defer func() {
		if rerr := net.SetParameters(params); rerr != nil && err == nil {
			result, err = Mismatch{}, errors.Wrap(rerr, "grad check: restore parameters")
		}
	}()

	total := 0
	for _, p := range params {
		if len(p.Grad) != p.Len() {
			return Mismatch{}, errors.Errorf("grad check: %s has no gradient", p.Name)
		}
		total += p.Len()
	}
	if opts.Samples > total {
		opts.Samples = total
	}

	type coord struct{ param, index int }
	rng := rand.New(rand.NewSource(opts.Seed))
	seen := make(map[coord]bool, opts.Samples)
	coords := make([]coord, 0, opts.Samples)
	x0 := make([]float64, 0, opts.Samples)
	for len(coords) < opts.Samples {
		p := rng.Intn(len(params))
		c := coord{param: p, index: rng.Intn(params[p].Len())}
		if seen[c] {
			continue
		}
		seen[c] = true
		coords = append(coords, c)
		x0 = append(x0, params[p].Data[c.index])
	}

	work := make([]model.Parameter, len(params))
	for i, p := range params {
		work[i] = p
		work[i].Data = append([]float64(nil), p.Data...)
	}
	var evalErr error
	loss := func(x []float64) float64 {
		for i, c := range coords {
			work[c.param].Data[c.index] = x[i]
		}
		if err := net.SetParameters(work); err != nil {
			evalErr = err
			return math.NaN()
		}
		res, err := net.Evaluate(batch)
		if err != nil {
			evalErr = err
			return math.NaN()
		}
		return res.Loss
	}

	numeric := fd.Gradient(nil, loss, x0, &fd.Settings{Formula: fd.Central, Step: opts.Step})
	if evalErr != nil {
		return Mismatch{}, errors.Wrap(evalErr, "grad check")
	}

	var worst Mismatch
	for i, c := range coords {
		bp := params[c.param].Grad[c.index]
		rel := math.Abs(bp-numeric[i]) / math.Max(1e-4, math.Abs(bp)+math.Abs(numeric[i]))
		if i == 0 || rel > worst.RelErr {
			worst = Mismatch{
				Param:    params[c.param].Name,
				Index:    c.index,
				Backprop: bp,
				Numeric:  numeric[i],
				RelErr:   rel,
			}
		}
	}
	return worst, nil
}
