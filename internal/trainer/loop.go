package trainer

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"digit-forge/internal/checkpoint"
	"digit-forge/internal/dataset"
	"digit-forge/internal/metrics"
	"digit-forge/internal/model"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Train *dataset.Dataset
	// Val is scored after every epoch when non-nil.
	Val *dataset.Dataset

	Spec          model.Spec
	Optimizer     model.OptimizerConfig
	Epochs        int
	BatchSize     int
	EvalBatchSize int
	LogEvery      int
	Seed          int64

	// Checkpoint is rewritten at the end of every epoch when set.
	Checkpoint string
	// Resume seeds the parameters and epoch counter from a checkpoint whose
	// architecture must equal Spec. Optimizer state is not checkpointed, so
	// momentum, Adam and RMSProp accumulators start from zero.
	Resume string
	RunID  string
}

// Report is the outcome of a run. The caller owns Network and must Close it.
type Report struct {
	RunID   string
	History metrics.History
	Network *model.Network
}

// Run executes the training workload.
func Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	if cfg.Train == nil || cfg.Train.Len() == 0 {
		return nil, errors.New("trainer: empty training set")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.EvalBatchSize <= 0 {
		cfg.EvalBatchSize = cfg.BatchSize
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	if cfg.Optimizer.LearningRate <= 0 {
		cfg.Optimizer.LearningRate = model.DefaultLearningRate
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	net, err := model.New(cfg.Spec, model.Options{
		BatchSize: cfg.BatchSize,
		Seed:      cfg.Seed,
		Optimizer: cfg.Optimizer,
	})
	if err != nil {
		return nil, errors.Wrap(err, "trainer: build network")
	}
	report := &Report{RunID: cfg.RunID, Network: net}
	fail := func(err error) (*Report, error) {
		net.Close()
		return nil, err
	}

	startEpoch := 0
	if cfg.Resume != "" {
		ckpt, err := checkpoint.Load(cfg.Resume)
		if err != nil {
			return fail(err)
		}
		if !ckpt.Spec.Equal(cfg.Spec) {
			return fail(errors.Errorf("trainer: checkpoint %s holds %+v, run expects %+v", cfg.Resume, ckpt.Spec, cfg.Spec))
		}
		if err := net.SetParameters(ckpt.Params); err != nil {
			return fail(errors.Wrapf(err, "trainer: resume from %s", cfg.Resume))
		}
		startEpoch = ckpt.Epoch
		log.Printf("run=%s resumed from=%s epoch=%d prior_run=%s optimizer_state=fresh", cfg.RunID, cfg.Resume, ckpt.Epoch, ckpt.RunID)
	}

	loader, err := dataset.NewLoader(cfg.Train, dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return fail(err)
	}

	var evaluator *model.Network
	if cfg.Val != nil && cfg.Val.Len() > 0 {
		evaluator, err = model.New(cfg.Spec, model.Options{BatchSize: cfg.EvalBatchSize})
		if err != nil {
			return fail(errors.Wrap(err, "trainer: build evaluator"))
		}
		defer evaluator.Close()
	}

	log.Printf("run=%s train=%d batches_per_epoch=%d optimizer=%s lr=%g\n%s",
		cfg.RunID, cfg.Train.Len(), loader.NumBatches(), optimizerName(cfg.Optimizer), cfg.Optimizer.LearningRate, net)

	var window metrics.Window
	step := 0
	for epoch := startEpoch + 1; epoch <= startEpoch+cfg.Epochs; epoch++ {
		started := time.Now()
		trainLoss, err := runEpoch(ctx, net, loader, epoch, &step, &window, cfg.LogEvery)
		if err != nil {
			return fail(err)
		}

		stats := metrics.EpochStats{Epoch: epoch, TrainLoss: trainLoss}
		if evaluator != nil {
			if err := evaluator.SetParameters(net.Parameters()); err != nil {
				return fail(err)
			}
			res, err := Evaluate(ctx, evaluator, cfg.Val)
			if err != nil {
				return fail(errors.Wrapf(err, "trainer: evaluate epoch %d", epoch))
			}
			stats.ValLoss = res.Loss
			stats.Accuracy = res.Accuracy()
		}
		stats.Duration = time.Since(started)
		report.History.Add(stats)
		log.Printf("epoch=%d/%d training_loss=%.4f val_loss=%.4f accuracy=%.4f elapsed=%s",
			epoch, startEpoch+cfg.Epochs, stats.TrainLoss, stats.ValLoss, stats.Accuracy, stats.Duration.Round(time.Millisecond))

		if cfg.Checkpoint != "" {
			err := checkpoint.Save(cfg.Checkpoint, checkpoint.File{
				RunID:  cfg.RunID,
				Epoch:  epoch,
				Spec:   cfg.Spec,
				Params: net.Parameters(),
			})
			if err != nil {
				return fail(errors.Wrapf(err, "trainer: checkpoint epoch %d", epoch))
			}
		}
	}

	return report, nil
}

// runEpoch trains on one pass of loader and returns the sample-weighted
// mean training loss.
func runEpoch(parent context.Context, net *model.Network, loader *dataset.Loader, epoch int, step *int, window *metrics.Window, logEvery int) (float64, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	batches, errs := loader.Batches(ctx, epoch)

	running, seen := 0.0, 0
	for {
		startData := time.Now()
		batch, ok, err := nextBatch(ctx, batches, errs)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := net.TrainStep(batch)
		if err != nil {
			return 0, errors.Wrapf(err, "trainer: epoch %d step %d", epoch, *step+1)
		}
		computeTime := time.Since(startCompute)

		*step++
		running += loss * float64(batch.Size())
		seen += batch.Size()
		window.Record(batch.Size(), dataTime, computeTime, loss)

		if *step%logEvery == 0 {
			snap := window.Snapshot()
			log.Printf("epoch=%d step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f mean_loss=%.4f",
				epoch,
				*step,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.LastLoss,
				snap.MeanLoss,
			)
		}
	}
	if seen == 0 {
		return 0, errors.Errorf("trainer: epoch %d produced no batches", epoch)
	}
	return running / float64(seen), nil
}

// Evaluate scores ds in batches of the network's capacity. The returned loss
// is the sample-weighted mean over the whole set.
func Evaluate(parent context.Context, net *model.Network, ds *dataset.Dataset) (model.Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	loader, err := dataset.NewLoader(ds, dataset.LoaderOptions{BatchSize: net.Capacity()})
	if err != nil {
		return model.Result{}, err
	}
	batches, errs := loader.Batches(ctx, 0)
	var total model.Result
	lossSum := 0.0
	for {
		batch, ok, err := nextBatch(ctx, batches, errs)
		if err != nil {
			return model.Result{}, err
		}
		if !ok {
			break
		}
		res, err := net.Evaluate(batch)
		if err != nil {
			return model.Result{}, err
		}
		lossSum += res.Loss * float64(res.Count)
		total.Correct += res.Correct
		total.Count += res.Count
	}
	if total.Count > 0 {
		total.Loss = lossSum / float64(total.Count)
	}
	return total, nil
}

func nextBatch(ctx context.Context, batches <-chan dataset.Batch, errs <-chan error) (dataset.Batch, bool, error) {
	select {
	case <-ctx.Done():
		return dataset.Batch{}, false, ctx.Err()
	case batch, ok := <-batches:
		if ok {
			return batch, true, nil
		}
		if err := <-errs; err != nil {
			return dataset.Batch{}, false, err
		}
		return dataset.Batch{}, false, nil
	}
}

func optimizerName(o model.OptimizerConfig) string {
	if o.Name == "" {
		return model.SGD
	}
	return o.Name
}
