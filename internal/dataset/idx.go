package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801

	// maxIDXDim bounds the rows and columns an image header may claim.
	maxIDXDim = 4096
)

// Split selects one half of the MNIST distribution.
type Split string

const (
	Train Split = "train"
	Test  Split = "test"
)

type idxFiles struct {
	images, labels             string
	imagesDigest, labelsDigest string
}

// SHA-256 digests of the canonical gzip archives.
var mnistFiles = map[Split]idxFiles{
	Train: {
		images:       "train-images-idx3-ubyte",
		labels:       "train-labels-idx1-ubyte",
		imagesDigest: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
		labelsDigest: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	},
	Test: {
		images:       "t10k-images-idx3-ubyte",
		labels:       "t10k-labels-idx1-ubyte",
		imagesDigest: "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
		labelsDigest: "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
	},
}

// ErrDigestMismatch is returned when a gzip archive does not hash to the
// published MNIST digest.
var ErrDigestMismatch = errors.New("idx: digest mismatch")

// LoadMNIST reads one split from dir. Both the raw IDX files and their .gz
// archives are accepted; the archive wins when both exist. Pixels are kept
// in their raw [0,255] range.
func LoadMNIST(dir string, split Split, verify bool) (*Dataset, error) {
	files, ok := mnistFiles[split]
	if !ok {
		return nil, errors.Errorf("idx: unknown split %q", split)
	}
	imgData, err := readIDXFile(dir, files.images, files.imagesDigest, verify)
	if err != nil {
		return nil, err
	}
	lblData, err := readIDXFile(dir, files.labels, files.labelsDigest, verify)
	if err != nil {
		return nil, err
	}
	images, rows, cols, err := ReadImages(bytes.NewReader(imgData))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", files.images)
	}
	labels, err := ReadLabels(bytes.NewReader(lblData))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", files.labels)
	}
	if len(images) != len(labels)*rows*cols {
		return nil, errors.Errorf("idx: %s has %d images but %s has %d labels",
			files.images, len(images)/(rows*cols), files.labels, len(labels))
	}
	ds := &Dataset{Images: images, Labels: labels, Rows: rows, Cols: cols}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func readIDXFile(dir, name, digest string, verify bool) ([]byte, error) {
	gzPath := filepath.Join(dir, name+".gz")
	raw, err := os.ReadFile(gzPath)
	if err == nil {
		if verify {
			sum := sha256.Sum256(raw)
			if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, digest) {
				return nil, errors.Wrapf(ErrDigestMismatch, "%s: got %s", gzPath, got)
			}
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "gunzip %s", gzPath)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.Wrapf(err, "gunzip %s", gzPath)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read %s", gzPath)
	}
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// ReadImages parses an IDX3 image file and returns raw pixel values.
func ReadImages(r io.Reader) (pixels []float64, rows, cols int, err error) {
	br := bufio.NewReader(r)
	var hdr [4]uint32
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, 0, 0, errors.Wrap(err, "idx: read image header")
	}
	if hdr[0] != idxImagesMagic {
		return nil, 0, 0, errors.Errorf("idx: bad image magic %#08x", hdr[0])
	}
	n, h, w := int64(hdr[1]), int64(hdr[2]), int64(hdr[3])
	if h == 0 || w == 0 || h > maxIDXDim || w > maxIDXDim {
		return nil, 0, 0, errors.Errorf("idx: invalid image geometry %dx%d", h, w)
	}
	buf, err := readBody(br, n*h*w)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "idx: read %d images", n)
	}
	pixels = make([]float64, len(buf))
	for i, b := range buf {
		pixels[i] = float64(b)
	}
	return pixels, int(h), int(w), nil
}

// ReadLabels parses an IDX1 label file.
func ReadLabels(r io.Reader) ([]int, error) {
	br := bufio.NewReader(r)
	var hdr [2]uint32
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "idx: read label header")
	}
	if hdr[0] != idxLabelsMagic {
		return nil, errors.Errorf("idx: bad label magic %#08x", hdr[0])
	}
	buf, err := readBody(br, int64(hdr[1]))
	if err != nil {
		return nil, errors.Wrapf(err, "idx: read %d labels", hdr[1])
	}
	labels := make([]int, len(buf))
	for i, b := range buf {
		labels[i] = int(b)
	}
	return labels, nil
}

// readBody reads exactly want bytes. Memory grows with the bytes actually
// present, never with the size a header claims.
func readBody(r io.Reader, want int64) ([]byte, error) {
	if want < 0 || int64(int(want)) != want {
		return nil, errors.Errorf("idx: body of %d bytes is not addressable", want)
	}
	buf, err := io.ReadAll(io.LimitReader(r, want))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != want {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "idx: got %d of %d bytes", len(buf), want)
	}
	return buf, nil
}
