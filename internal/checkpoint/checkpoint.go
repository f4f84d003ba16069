// Package checkpoint persists trained parameters in protobuf wire format.
package checkpoint

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"digit-forge/internal/model"
)

// File is the content of one checkpoint.
type File struct {
	RunID  string
	Epoch  int
	Spec   model.Spec
	Params []model.Parameter
}

// Field numbers.
const (
	fileRunID  protowire.Number = 1
	fileEpoch  protowire.Number = 2
	fileSpec   protowire.Number = 3
	fileParams protowire.Number = 4

	specInput      protowire.Number = 1
	specHidden     protowire.Number = 2
	specClasses    protowire.Number = 3
	specActivation protowire.Number = 4

	paramName  protowire.Number = 1
	paramShape protowire.Number = 2
	paramData  protowire.Number = 3
)

// Save writes f to path, replacing any existing file atomically.
func Save(path string, f File) error {
	data := Marshal(f)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "install checkpoint")
}

// Load reads a checkpoint written by Save.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrap(err, "read checkpoint")
	}
	f, err := Unmarshal(data)
	if err != nil {
		return File{}, errors.Wrapf(err, "decode %s", path)
	}
	return f, nil
}

// Marshal encodes f.
func Marshal(f File) []byte {
	var b []byte
	if f.RunID != "" {
		b = protowire.AppendTag(b, fileRunID, protowire.BytesType)
		b = protowire.AppendString(b, f.RunID)
	}
	b = protowire.AppendTag(b, fileEpoch, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Epoch))
	b = protowire.AppendTag(b, fileSpec, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalSpec(f.Spec))
	for _, p := range f.Params {
		b = protowire.AppendTag(b, fileParams, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalParam(p))
	}
	return b
}

func marshalSpec(s model.Spec) []byte {
	var b []byte
	b = protowire.AppendTag(b, specInput, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Input))
	b = protowire.AppendTag(b, specHidden, protowire.BytesType)
	b = protowire.AppendBytes(b, packInts(s.Hidden))
	b = protowire.AppendTag(b, specClasses, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Classes))
	b = protowire.AppendTag(b, specActivation, protowire.BytesType)
	b = protowire.AppendString(b, string(s.Activation))
	return b
}

func marshalParam(p model.Parameter) []byte {
	var b []byte
	b = protowire.AppendTag(b, paramName, protowire.BytesType)
	b = protowire.AppendString(b, p.Name)
	b = protowire.AppendTag(b, paramShape, protowire.BytesType)
	b = protowire.AppendBytes(b, packInts(p.Shape))
	packed := make([]byte, 0, 8*len(p.Data))
	for _, v := range p.Data {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, paramData, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}

func packInts(vs []int) []byte {
	var b []byte
	for _, v := range vs {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

// Unmarshal decodes a checkpoint. Unknown fields are skipped.
func Unmarshal(b []byte) (File, error) {
	var f File
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fileRunID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.RunID = v
			return n, nil
		case num == fileEpoch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Epoch = int(v)
			return n, nil
		case num == fileSpec && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			spec, err := unmarshalSpec(v)
			f.Spec = spec
			return n, errors.Wrap(err, "spec")
		case num == fileParams && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := unmarshalParam(v)
			if err != nil {
				return n, errors.Wrapf(err, "param %d", len(f.Params))
			}
			f.Params = append(f.Params, p)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return f, err
}

func unmarshalSpec(b []byte) (model.Spec, error) {
	var s model.Spec
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == specInput && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			s.Input = int(v)
			return n, nil
		case num == specHidden && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			hidden, err := unpackInts(v)
			s.Hidden = hidden
			return n, err
		case num == specClasses && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			s.Classes = int(v)
			return n, nil
		case num == specActivation && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			s.Activation = model.ActivationKind(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return s, err
}

func unmarshalParam(b []byte) (model.Parameter, error) {
	var p model.Parameter
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == paramName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			p.Name = v
			return n, nil
		case num == paramShape && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			shape, err := unpackInts(v)
			p.Shape = shape
			return n, err
		case num == paramData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if len(v)%8 != 0 {
				return n, errors.Errorf("packed doubles of %d bytes", len(v))
			}
			p.Data = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed64(v)
				if m < 0 {
					return n, protowire.ParseError(m)
				}
				p.Data = append(p.Data, math.Float64frombits(bits))
				v = v[m:]
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err == nil && p.Name == "" {
		err = errors.New("parameter without a name")
	}
	return p, err
}

func unpackInts(b []byte) ([]int, error) {
	var out []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(v))
		b = b[n:]
	}
	return out, nil
}

// walk iterates the fields of one message. fn consumes the field value and
// returns the number of bytes read, or a negative protowire error code.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
