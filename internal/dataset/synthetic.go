package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Seven-segment layout used to draw synthetic digits:
//
//	 aaaa
//	f    b
//	 gggg
//	e    c
//	 dddd
var sevenSegment = [NumClasses]string{
	0: "abcdef",
	1: "bc",
	2: "abdeg",
	3: "abcdg",
	4: "bcfg",
	5: "acdfg",
	6: "acdefg",
	7: "abc",
	8: "abcdefg",
	9: "abcdfg",
}

type segment struct{ x0, y0, x1, y1 int }

const (
	segLeft   = 8
	segRight  = 19
	segTop    = 4
	segMiddle = 13
	segBottom = 22
	segWidth  = 2
)

var segments = map[byte]segment{
	'a': {segLeft, segTop, segRight, segTop + segWidth},
	'b': {segRight - segWidth, segTop, segRight, segMiddle + segWidth},
	'c': {segRight - segWidth, segMiddle, segRight, segBottom + segWidth},
	'd': {segLeft, segBottom, segRight, segBottom + segWidth},
	'e': {segLeft, segMiddle, segLeft + segWidth, segBottom + segWidth},
	'f': {segLeft, segTop, segLeft + segWidth, segMiddle + segWidth},
	'g': {segLeft, segMiddle, segRight, segMiddle + segWidth},
}

// Synthetic draws n seven-segment digits with random jitter and pixel noise.
// Pixels are in the raw [0,255] range like LoadMNIST. The output depends only
// on n and seed.
func Synthetic(n int, seed int64) (*Dataset, error) {
	if n <= 0 {
		return nil, errors.Errorf("synthetic: sample count must be > 0 (got %d)", n)
	}
	rng := rand.New(rand.NewSource(seed))
	ds := &Dataset{
		Images: make([]float64, n*ImageSize),
		Labels: make([]int, n),
		Rows:   ImageRows,
		Cols:   ImageCols,
	}
	for i := 0; i < n; i++ {
		label := i % NumClasses
		ds.Labels[i] = label
		drawDigit(ds.Image(i), label, rng)
	}
	rng.Shuffle(n, func(i, j int) {
		ds.Labels[i], ds.Labels[j] = ds.Labels[j], ds.Labels[i]
		a, b := ds.Image(i), ds.Image(j)
		for k := range a {
			a[k], b[k] = b[k], a[k]
		}
	})
	return ds, nil
}

func drawDigit(img []float64, label int, rng *rand.Rand) {
	dx := rng.Intn(5) - 2
	dy := rng.Intn(5) - 2
	for k := range img {
		img[k] = rng.Float64() * 40
	}
	for _, name := range []byte(sevenSegment[label]) {
		s := segments[name]
		for y := s.y0 + dy; y < s.y1+dy; y++ {
			for x := s.x0 + dx; x < s.x1+dx; x++ {
				if x < 0 || y < 0 || x >= ImageCols || y >= ImageRows {
					continue
				}
				img[y*ImageCols+x] = 200 + rng.Float64()*55
			}
		}
	}
}
