package dataset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/png"
	"sync"

	"github.com/pkg/errors"
)

// ShardOptions configures LoadShards.
type ShardOptions struct {
	Paths      []string
	NumWorkers int
	PendingCap int
}

type shardJob struct {
	id   int
	path string
}

type shardResult struct {
	id     int
	images []float64
	labels []int
	err    error
}

// LoadShards decodes every sample of the given shards into memory. Shards are
// read concurrently but appended in the order of opts.Paths.
func LoadShards(parent context.Context, opts ShardOptions) (*Dataset, error) {
	if len(opts.Paths) == 0 {
		return nil, errors.New("shards: no shard paths provided")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	jobs := make(chan shardJob)
	results := make(chan shardResult, opts.NumWorkers)

	go func() {
		defer close(jobs)
		for i, path := range opts.Paths {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: i, path: path}:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res := decodeShard(ctx, job, opts.PendingCap)
				select {
				case <-ctx.Done():
					return
				case results <- res:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	ds := &Dataset{Rows: ImageRows, Cols: ImageCols}
	pending := make(map[int]shardResult)
	next := 0
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		pending[res.id] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			ds.Images = append(ds.Images, r.images...)
			ds.Labels = append(ds.Labels, r.labels...)
			delete(pending, next)
			next++
		}
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	if next != len(opts.Paths) {
		return nil, errors.Errorf("shards: loaded %d of %d shards", next, len(opts.Paths))
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func decodeShard(ctx context.Context, job shardJob, pendingCap int) shardResult {
	res := shardResult{id: job.id}
	samples, errCh := StreamShard(ctx, job.path, pendingCap)
	for sample := range samples {
		pixels, err := decodeDigit(sample.Image)
		if err != nil {
			res.err = errors.Wrapf(err, "shard %s: sample %s", job.path, sample.Key)
			// drain so the streaming goroutine can exit
			for range samples {
			}
			return res
		}
		res.images = append(res.images, pixels...)
		res.labels = append(res.labels, sample.Label)
	}
	if err := <-errCh; err != nil {
		res.err = err
	}
	return res
}

// decodeDigit decodes an image and samples it onto the 28x28 MNIST grid as
// raw grayscale intensities.
func decodeDigit(raw []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	pixels := make([]float64, ImageSize)
	for gy := 0; gy < ImageRows; gy++ {
		for gx := 0; gx < ImageCols; gx++ {
			px := bounds.Min.X + gx*width/ImageCols
			py := bounds.Min.Y + gy*height/ImageRows
			g := color.GrayModel.Convert(img.At(px, py)).(color.Gray)
			pixels[gy*ImageCols+gx] = float64(g.Y)
		}
	}
	return pixels, nil
}
