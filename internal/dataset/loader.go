package dataset

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
)

const defaultPrefetch = 2

// Loader yields shuffled minibatches over a Dataset, one epoch at a time.
type Loader struct {
	dataset   *Dataset
	batchSize int
	shuffle   bool
	seed      int64
	prefetch  int
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	Prefetch  int
}

// NewLoader validates opts against ds.
func NewLoader(ds *Dataset, opts LoaderOptions) (*Loader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.New("loader: empty dataset")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("loader: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = defaultPrefetch
	}
	return &Loader{
		dataset:   ds,
		batchSize: opts.BatchSize,
		shuffle:   opts.Shuffle,
		seed:      opts.Seed,
		prefetch:  opts.Prefetch,
	}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *Dataset { return l.dataset }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// NumBatches is the number of batches in one epoch, counting a short tail.
func (l *Loader) NumBatches() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Order returns the sample order for epoch. With shuffling on it depends
// only on the seed and the epoch number.
func (l *Loader) Order(epoch int) []int {
	n := l.dataset.Len()
	if !l.shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(l.seed + int64(epoch)*1_000_003))
	return rng.Perm(n)
}

// Batches streams one epoch of batches. Both channels are closed once the
// epoch is exhausted or ctx is cancelled; a cancellation is reported on the
// error channel.
func (l *Loader) Batches(ctx context.Context, epoch int) (<-chan Batch, <-chan error) {
	out := make(chan Batch, l.prefetch)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		order := l.Order(epoch)
		f := l.dataset.Features()
		for start := 0; start < len(order); start += l.batchSize {
			end := start + l.batchSize
			if end > len(order) {
				end = len(order)
			}
			batch := Batch{
				Inputs: make([]float64, 0, (end-start)*f),
				Labels: make([]int, 0, end-start),
			}
			for _, idx := range order[start:end] {
				batch.Inputs = append(batch.Inputs, l.dataset.Image(idx)...)
				batch.Labels = append(batch.Labels, l.dataset.Labels[idx])
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- batch:
			}
		}
	}()

	return out, errCh
}
