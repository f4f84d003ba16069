package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"

	"digit-forge/internal/config"
	"digit-forge/internal/dataset"
	"digit-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	dataDir := flag.String("data-dir", "", "Override directory holding the MNIST IDX files")
	shardRoot := flag.String("shard-root", "", "Override root of PNG tar shards")
	synthetic := flag.Bool("synthetic", false, "Train on generated digits instead of MNIST")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Learning rate")
	optimizer := flag.String("optimizer", "", "Optimizer (sgd, momentum, adam, rmsprop)")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	ckpt := flag.String("checkpoint", "", "Write a checkpoint here after every epoch")
	resume := flag.String("resume", "", "Resume from this checkpoint")
	show := flag.Int("show", 1, "Number of validation images to classify after training")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DataDir:      *dataDir,
		ShardRoot:    *shardRoot,
		Synthetic:    *synthetic,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		Optimizer:    *optimizer,
		Seed:         *seed,
		LogEvery:     *logEvery,
		Checkpoint:   *ckpt,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("cpu=%q physical_cores=%d logical_cores=%d avx2=%t",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.Supports(cpuid.AVX2))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	train, val, err := loadData(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to load data: %v", err)
	}
	log.Printf("train=%d val=%d", train.Len(), datasetLen(val))

	report, err := trainer.Run(ctx, trainer.RunConfig{
		Train:         train,
		Val:           val,
		Spec:          cfg.Spec(train.Features(), dataset.NumClasses),
		Optimizer:     cfg.OptimizerConfig(),
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		EvalBatchSize: cfg.EvalBatchSize,
		LogEvery:      cfg.LogEvery,
		Seed:          cfg.Seed,
		Checkpoint:    cfg.Checkpoint,
		Resume:        *resume,
	})
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	defer report.Network.Close()

	if best, ok := report.History.Best(); ok && val != nil {
		log.Printf("run=%s best_epoch=%d val_loss=%.4f accuracy=%.4f", report.RunID, best.Epoch, best.ValLoss, best.Accuracy)
	}

	sample := val
	if sample == nil {
		sample = train
	}
	for i := 0; i < *show && i < sample.Len(); i++ {
		probs, err := report.Network.Predict(sample.Image(i))
		if err != nil {
			log.Fatalf("predict image %d: %v", i, err)
		}
		fmt.Print(trainer.RenderDigit(sample.Image(i), sample.Rows, sample.Cols))
		fmt.Print(trainer.ViewClassify(probs, sample.Labels[i]))
	}
}

// loadData returns normalised training and validation sets. The validation
// set comes from the test split when one exists and is otherwise held out of
// the training data.
func loadData(ctx context.Context, cfg *config.Config) (*dataset.Dataset, *dataset.Dataset, error) {
	var train, test *dataset.Dataset
	switch {
	case cfg.Synthetic:
		ds, err := dataset.Synthetic(cfg.SyntheticSize, cfg.Seed)
		if err != nil {
			return nil, nil, err
		}
		train = ds
	case cfg.ShardRoot != "":
		var err error
		if train, err = loadShardSplit(ctx, cfg, dataset.Train); err != nil {
			return nil, nil, err
		}
		test, err = loadShardSplit(ctx, cfg, dataset.Test)
		if err != nil {
			log.Printf("shard_root=%s test split unavailable: %v", cfg.ShardRoot, err)
			test = nil
		}
	default:
		var err error
		if train, err = dataset.LoadMNIST(cfg.DataDir, dataset.Train, cfg.VerifyDigests); err != nil {
			return nil, nil, err
		}
		test, err = dataset.LoadMNIST(cfg.DataDir, dataset.Test, cfg.VerifyDigests)
		if err != nil {
			log.Printf("data_dir=%s test split unavailable: %v", cfg.DataDir, err)
			test = nil
		}
	}

	if err := train.Normalize(0.5, 0.5); err != nil {
		return nil, nil, err
	}
	if test != nil {
		if err := test.Normalize(0.5, 0.5); err != nil {
			return nil, nil, err
		}
		return train, test, nil
	}
	if cfg.ValidationSplit == 0 {
		return train, nil, nil
	}
	return train.Split(cfg.ValidationSplit, cfg.Seed)
}

func loadShardSplit(ctx context.Context, cfg *config.Config, split dataset.Split) (*dataset.Dataset, error) {
	paths, err := dataset.DiscoverShards(cfg.ShardRoot, split)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 && split == dataset.Train {
		if paths, err = dataset.DiscoverShards(cfg.ShardRoot, ""); err != nil {
			return nil, err
		}
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no %s shards under %s", split, cfg.ShardRoot)
	}
	log.Printf("root=%s split=%s shards=%d", cfg.ShardRoot, split, len(paths))
	return dataset.LoadShards(ctx, dataset.ShardOptions{Paths: paths, NumWorkers: cfg.NumWorkers})
}

func datasetLen(ds *dataset.Dataset) int {
	if ds == nil {
		return 0
	}
	return ds.Len()
}
