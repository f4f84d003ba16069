package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"digit-forge/internal/model"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir         string  `yaml:"data_dir"`
	ShardRoot       string  `yaml:"shard_root"`
	Synthetic       bool    `yaml:"synthetic"`
	SyntheticSize   int     `yaml:"synthetic_size"`
	VerifyDigests   bool    `yaml:"verify_digests"`
	ValidationSplit float64 `yaml:"validation_split"`

	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	EvalBatchSize int     `yaml:"eval_batch_size"`
	LearningRate  float64 `yaml:"learning_rate"`
	Optimizer     string  `yaml:"optimizer"`
	Momentum      float64 `yaml:"momentum"`
	L2            float64 `yaml:"l2"`
	Clip          float64 `yaml:"clip"`
	Hidden        []int   `yaml:"hidden"`
	Activation    string  `yaml:"activation"`

	NumWorkers int    `yaml:"num_workers"`
	Seed       int64  `yaml:"seed"`
	LogEvery   int    `yaml:"log_every"`
	Checkpoint string `yaml:"checkpoint"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir      string
	ShardRoot    string
	Synthetic    bool
	Epochs       int
	BatchSize    int
	LearningRate float64
	Optimizer    string
	Seed         int64
	LogEvery     int
	Checkpoint   string
}

// Default returns the baseline MNIST setup: 784-128-64-10 with ReLU,
// plain SGD at 0.003, batches of 64, five epochs.
func Default() *Config {
	return &Config{
		DataDir:         "data/mnist",
		SyntheticSize:   6000,
		ValidationSplit: 0.1,
		Epochs:          5,
		BatchSize:       64,
		EvalBatchSize:   256,
		LearningRate:    model.DefaultLearningRate,
		Optimizer:       model.SGD,
		Hidden:          []int{128, 64},
		Activation:      string(model.ReLU),
		NumWorkers:      2,
		Seed:            42,
		LogEvery:        50,
	}
}

// Load reads a Config from YAML on top of Default and validates it. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.ShardRoot != "" {
		c.ShardRoot = o.ShardRoot
	}
	if o.Synthetic {
		c.Synthetic = true
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Optimizer != "" {
		c.Optimizer = o.Optimizer
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Checkpoint != "" {
		c.Checkpoint = o.Checkpoint
	}
}

// Validate verifies the config is runnable and fills soft defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !c.Synthetic && c.DataDir == "" && c.ShardRoot == "" {
		return errors.New("one of data_dir, shard_root or synthetic must be set")
	}
	if c.Synthetic && c.SyntheticSize <= 0 {
		return errors.Errorf("synthetic_size must be > 0 (got %d)", c.SyntheticSize)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errors.Errorf("validation_split must be in [0,1) (got %.3f)", c.ValidationSplit)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.EvalBatchSize <= 0 {
		c.EvalBatchSize = c.BatchSize
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if _, err := model.NewSolver(c.OptimizerConfig()); err != nil {
		return err
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return errors.Errorf("momentum must be in [0,1) (got %g)", c.Momentum)
	}
	if c.L2 < 0 || c.Clip < 0 {
		return errors.New("l2 and clip must be >= 0")
	}
	if len(c.Hidden) == 0 {
		c.Hidden = []int{128, 64}
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return errors.Errorf("hidden[%d] must be > 0 (got %d)", i, h)
		}
	}
	if _, err := model.ParseActivation(c.Activation); err != nil {
		return err
	}
	if c.NumWorkers <= 0 {
		return errors.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}

// OptimizerConfig extracts the solver settings.
func (c *Config) OptimizerConfig() model.OptimizerConfig {
	return model.OptimizerConfig{
		Name:         c.Optimizer,
		LearningRate: c.LearningRate,
		Momentum:     c.Momentum,
		L2:           c.L2,
		Clip:         c.Clip,
	}
}

// Spec derives the network architecture for inputs pixels per image and
// classes output classes.
func (c *Config) Spec(inputs, classes int) model.Spec {
	return model.Spec{
		Input:      inputs,
		Hidden:     append([]int(nil), c.Hidden...),
		Classes:    classes,
		Activation: model.ActivationKind(c.Activation),
	}
}
