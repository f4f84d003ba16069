package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one <key>.png / <key>.cls pair from a tar shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates more unpaired entries than the configured bound.
var ErrPendingOverflow = errors.New("shard: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired samples from the shard at path in tar order.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		pr := &pairReader{
			name:    path,
			tr:      tar.NewReader(bufio.NewReader(f)),
			pending: make(map[string]*halfSample),
			limit:   pendingCap,
		}
		for ctx.Err() == nil {
			s, err := pr.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			select {
			case out <- s:
			case <-ctx.Done():
			}
		}
		errCh <- ctx.Err()
	}()

	return out, errCh
}

// pairReader joins the image and label entries of a shard by key. Members of
// a pair may appear in either order with other entries between them.
type pairReader struct {
	name    string
	tr      *tar.Reader
	pending map[string]*halfSample
	limit   int
}

type halfSample struct {
	image    []byte
	label    int
	hasLabel bool
}

// next returns the next completed pair, or io.EOF once the archive is
// exhausted with nothing left unpaired.
func (p *pairReader) next() (Sample, error) {
	for {
		hdr, err := p.tr.Next()
		if err == io.EOF {
			if n := len(p.pending); n > 0 {
				return Sample{}, errors.Errorf("shard %s: %d samples incomplete", p.name, n)
			}
			return Sample{}, io.EOF
		}
		if err != nil {
			return Sample{}, errors.Wrapf(err, "read tar %s", p.name)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		base := path.Base(hdr.Name)
		ext := path.Ext(base)
		key := strings.TrimSuffix(base, ext)
		var apply func(*halfSample) error
		switch strings.ToLower(ext) {
		case ".png":
			apply = func(h *halfSample) error {
				data, err := io.ReadAll(p.tr)
				h.image = data
				return errors.Wrapf(err, "read image %s", base)
			}
		case ".cls":
			apply = func(h *halfSample) error {
				raw, err := io.ReadAll(p.tr)
				if err != nil {
					return errors.Wrapf(err, "read label %s", base)
				}
				if h.label, err = strconv.Atoi(strings.TrimSpace(string(raw))); err != nil {
					return errors.Wrapf(err, "parse label %s", base)
				}
				h.hasLabel = true
				return nil
			}
		default:
			continue
		}

		h := p.pending[key]
		if h == nil {
			if len(p.pending) >= p.limit {
				return Sample{}, ErrPendingOverflow
			}
			h = &halfSample{}
			p.pending[key] = h
		}
		if err := apply(h); err != nil {
			return Sample{}, err
		}
		if len(h.image) > 0 && h.hasLabel {
			delete(p.pending, key)
			return Sample{Key: key, Image: h.image, Label: h.label}, nil
		}
	}
}
