package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ActivationKind names a pointwise non-linearity.
type ActivationKind string

const (
	ReLU    ActivationKind = "relu"
	Tanh    ActivationKind = "tanh"
	Sigmoid ActivationKind = "sigmoid"
)

// ParseActivation validates an activation name.
func ParseActivation(name string) (ActivationKind, error) {
	switch k := ActivationKind(name); k {
	case ReLU, Tanh, Sigmoid:
		return k, nil
	}
	return "", errors.Errorf("unknown activation %q", name)
}

// Layer is one stage of a Sequential network. Layers are descriptions; the
// framework nodes are created when the network is built.
type Layer interface {
	fmt.Stringer
	build(b *builder, x *gorgonia.Node) (*gorgonia.Node, error)
}

// Linear is a fully connected layer computing x·W + b.
type Linear struct {
	In, Out int
}

// Activation applies a non-linearity.
type Activation struct {
	Kind ActivationKind
}

// LogSoftmax turns logits into log-probabilities over the last axis.
type LogSoftmax struct{}

func (l Linear) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=True)", l.In, l.Out)
}

func (a Activation) String() string {
	switch a.Kind {
	case ReLU:
		return "ReLU()"
	case Tanh:
		return "Tanh()"
	case Sigmoid:
		return "Sigmoid()"
	}
	return fmt.Sprintf("Activation(%s)", a.Kind)
}

func (LogSoftmax) String() string { return "LogSoftmax(dim=1)" }

type builder struct {
	g          *gorgonia.ExprGraph
	rng        *rand.Rand
	linears    int
	learnables gorgonia.Nodes
}

// build binds PyTorch-style uniform(-1/sqrt(in), 1/sqrt(in)) initial values.
func (l Linear) build(b *builder, x *gorgonia.Node) (*gorgonia.Node, error) {
	idx := b.linears
	b.linears++
	bound := 1 / math.Sqrt(float64(l.In))
	uniform := func(n int) []float64 {
		data := make([]float64, n)
		for i := range data {
			data[i] = (b.rng.Float64()*2 - 1) * bound
		}
		return data
	}

	w := gorgonia.NewMatrix(b.g, tensor.Float64,
		gorgonia.WithShape(l.In, l.Out),
		gorgonia.WithName(fmt.Sprintf("w%d", idx)),
		gorgonia.WithValue(tensor.New(tensor.WithShape(l.In, l.Out), tensor.WithBacking(uniform(l.In*l.Out)))),
	)
	bias := gorgonia.NewMatrix(b.g, tensor.Float64,
		gorgonia.WithShape(1, l.Out),
		gorgonia.WithName(fmt.Sprintf("b%d", idx)),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, l.Out), tensor.WithBacking(uniform(l.Out)))),
	)
	b.learnables = append(b.learnables, w, bias)

	xw, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, errors.Wrapf(err, "linear %d: matmul", idx)
	}
	out, err := gorgonia.BroadcastAdd(xw, bias, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "linear %d: bias", idx)
	}
	return out, nil
}

func (a Activation) build(_ *builder, x *gorgonia.Node) (*gorgonia.Node, error) {
	var (
		out *gorgonia.Node
		err error
	)
	switch a.Kind {
	case ReLU:
		out, err = gorgonia.Rectify(x)
	case Tanh:
		out, err = gorgonia.Tanh(x)
	case Sigmoid:
		out, err = gorgonia.Sigmoid(x)
	default:
		return nil, errors.Errorf("unknown activation %q", a.Kind)
	}
	return out, errors.Wrap(err, a.String())
}

func (LogSoftmax) build(_ *builder, x *gorgonia.Node) (*gorgonia.Node, error) {
	out, err := gorgonia.LogSoftMax(x, 1)
	return out, errors.Wrap(err, "log softmax")
}

// Spec describes the classic MLP: Linear/activation pairs for each hidden
// width followed by a Linear classifier head and LogSoftmax.
type Spec struct {
	Input      int
	Hidden     []int
	Classes    int
	Activation ActivationKind
}

// Equal reports whether two specs describe the same architecture.
func (s Spec) Equal(o Spec) bool {
	if s.Input != o.Input || s.Classes != o.Classes || s.Activation != o.Activation || len(s.Hidden) != len(o.Hidden) {
		return false
	}
	for i := range s.Hidden {
		if s.Hidden[i] != o.Hidden[i] {
			return false
		}
	}
	return true
}

// Layers expands the spec into a layer list.
func (s Spec) Layers() ([]Layer, error) {
	if s.Input <= 0 || s.Classes <= 0 {
		return nil, errors.Errorf("spec: input %d and classes %d must be > 0", s.Input, s.Classes)
	}
	act, err := ParseActivation(string(s.Activation))
	if err != nil {
		return nil, errors.Wrap(err, "spec")
	}
	var layers []Layer
	in := s.Input
	for i, h := range s.Hidden {
		if h <= 0 {
			return nil, errors.Errorf("spec: hidden layer %d has width %d", i, h)
		}
		layers = append(layers, Linear{In: in, Out: h}, Activation{Kind: act})
		in = h
	}
	layers = append(layers, Linear{In: in, Out: s.Classes}, LogSoftmax{})
	return layers, nil
}

// checkChain verifies the layers compose and returns input and output widths.
func checkChain(layers []Layer) (in, out int, err error) {
	if len(layers) == 0 {
		return 0, 0, errors.New("sequential: no layers")
	}
	if _, ok := layers[len(layers)-1].(LogSoftmax); !ok {
		return 0, 0, errors.New("sequential: last layer must be LogSoftmax")
	}
	width := 0
	for i, l := range layers {
		switch l := l.(type) {
		case Linear:
			if l.In <= 0 || l.Out <= 0 {
				return 0, 0, errors.Errorf("sequential: layer %d %s has a zero dimension", i, l)
			}
			if width == 0 {
				in = l.In
			} else if l.In != width {
				return 0, 0, errors.Errorf("sequential: layer %d expects %d inputs, previous layer yields %d", i, l.In, width)
			}
			width = l.Out
		case Activation:
			if _, err := ParseActivation(string(l.Kind)); err != nil {
				return 0, 0, errors.Wrapf(err, "sequential: layer %d", i)
			}
			if width == 0 {
				return 0, 0, errors.Errorf("sequential: layer %d: activation before any Linear", i)
			}
		case LogSoftmax:
			if i != len(layers)-1 {
				return 0, 0, errors.Errorf("sequential: LogSoftmax at layer %d is not last", i)
			}
			if width == 0 {
				return 0, 0, errors.New("sequential: LogSoftmax without a Linear layer")
			}
		default:
			return 0, 0, errors.Errorf("sequential: unsupported layer %T", l)
		}
	}
	return in, width, nil
}
