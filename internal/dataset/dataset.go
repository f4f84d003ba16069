package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// MNIST geometry.
const (
	ImageRows  = 28
	ImageCols  = 28
	ImageSize  = ImageRows * ImageCols
	NumClasses = 10
)

// Dataset holds images as one row-major block of N*Rows*Cols pixels.
type Dataset struct {
	Images []float64
	Labels []int
	Rows   int
	Cols   int
}

// Batch represents a minibatch of flattened features and labels.
type Batch struct {
	Inputs []float64
	Labels []int
}

// Size is the number of samples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

// Features is the width of one input row.
func (b Batch) Features() int {
	if len(b.Labels) == 0 {
		return 0
	}
	return len(b.Inputs) / len(b.Labels)
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Features returns the number of pixels per image.
func (d *Dataset) Features() int { return d.Rows * d.Cols }

// Image returns the pixels of sample i without copying.
func (d *Dataset) Image(i int) []float64 {
	f := d.Features()
	return d.Images[i*f : (i+1)*f]
}

// Validate checks the dataset is internally consistent.
func (d *Dataset) Validate() error {
	if d == nil {
		return errors.New("dataset is nil")
	}
	if d.Rows <= 0 || d.Cols <= 0 {
		return errors.Errorf("dataset: invalid geometry %dx%d", d.Rows, d.Cols)
	}
	if len(d.Images) != d.Len()*d.Features() {
		return errors.Errorf("dataset: %d pixels for %d images of %d", len(d.Images), d.Len(), d.Features())
	}
	for i, l := range d.Labels {
		if l < 0 || l >= NumClasses {
			return errors.Errorf("dataset: label %d of sample %d out of range", l, i)
		}
	}
	return nil
}

// Normalize rescales raw [0,255] pixels to ((p/255)-mean)/std in place.
func (d *Dataset) Normalize(mean, std float64) error {
	if std == 0 {
		return errors.New("dataset: normalize std must be non-zero")
	}
	for i, p := range d.Images {
		d.Images[i] = (p/255 - mean) / std
	}
	return nil
}

// Subset copies the samples at the given indices into a new dataset.
func (d *Dataset) Subset(indices []int) *Dataset {
	f := d.Features()
	out := &Dataset{
		Images: make([]float64, 0, len(indices)*f),
		Labels: make([]int, 0, len(indices)),
		Rows:   d.Rows,
		Cols:   d.Cols,
	}
	for _, i := range indices {
		out.Images = append(out.Images, d.Image(i)...)
		out.Labels = append(out.Labels, d.Labels[i])
	}
	return out
}

// Split shuffles the samples with seed and carves off frac of them as a
// held-out set. The remainder is returned first.
func (d *Dataset) Split(frac float64, seed int64) (*Dataset, *Dataset, error) {
	if frac <= 0 || frac >= 1 {
		return nil, nil, errors.Errorf("dataset: split fraction %.3f not in (0,1)", frac)
	}
	n := d.Len()
	held := int(float64(n) * frac)
	if held == 0 || held == n {
		return nil, nil, errors.Errorf("dataset: split of %d samples at %.3f leaves an empty side", n, frac)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return d.Subset(perm[held:]), d.Subset(perm[:held]), nil
}
