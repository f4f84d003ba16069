package model

import (
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Optimizer names.
const (
	SGD      = "sgd"
	Momentum = "momentum"
	Adam     = "adam"
	RMSProp  = "rmsprop"
)

// DefaultLearningRate is the plain-SGD rate used for the MNIST MLP.
const DefaultLearningRate = 0.003

// OptimizerConfig selects and tunes a gorgonia solver.
type OptimizerConfig struct {
	Name         string
	LearningRate float64
	Momentum     float64
	L2           float64
	Clip         float64
}

// NewSolver builds the solver named by cfg. Update rules and their state
// live entirely in gorgonia.
func NewSolver(cfg OptimizerConfig) (gorgonia.Solver, error) {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(cfg.LearningRate)}
	if cfg.L2 > 0 {
		opts = append(opts, gorgonia.WithL2Reg(cfg.L2))
	}
	if cfg.Clip > 0 {
		opts = append(opts, gorgonia.WithClip(cfg.Clip))
	}

	switch strings.ToLower(cfg.Name) {
	case "", SGD:
		return gorgonia.NewVanillaSolver(opts...), nil
	case Momentum:
		m := cfg.Momentum
		if m <= 0 {
			m = 0.9
		}
		return gorgonia.NewMomentum(append(opts, gorgonia.WithMomentum(m))...), nil
	case Adam:
		return gorgonia.NewAdamSolver(opts...), nil
	case RMSProp:
		return gorgonia.NewRMSPropSolver(opts...), nil
	}
	return nil, errors.Errorf("unknown optimizer %q", cfg.Name)
}
