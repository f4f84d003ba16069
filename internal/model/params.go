package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Parameter is a snapshot of one learnable tensor and, when a backward pass
// has run, its gradient.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// Len is the number of scalar entries.
func (p Parameter) Len() int { return len(p.Data) }

// Parameters returns copies of every learnable in graph order: w0, b0, w1, ...
func (net *Network) Parameters() []Parameter {
	out := make([]Parameter, 0, len(net.learnables))
	for _, n := range net.learnables {
		p := Parameter{
			Name:  n.Name(),
			Shape: append([]int(nil), n.Shape()...),
		}
		if t, ok := n.Value().(tensor.Tensor); ok {
			if data, ok := t.Data().([]float64); ok {
				p.Data = append([]float64(nil), data...)
			}
		}
		if net.pending {
			if g, err := n.Grad(); err == nil {
				if data, ok := g.Data().([]float64); ok {
					p.Grad = append([]float64(nil), data...)
				}
			}
		}
		out = append(out, p)
	}
	return out
}

// SetParameters overwrites learnables in place, matched by name. Every
// learnable must be present with the same shape.
func (net *Network) SetParameters(params []Parameter) error {
	byName := make(map[string]Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	for _, n := range net.learnables {
		p, ok := byName[n.Name()]
		if !ok {
			return errors.Errorf("set parameters: missing %s", n.Name())
		}
		t, ok := n.Value().(tensor.Tensor)
		if !ok {
			return errors.Errorf("set parameters: %s has no tensor value", n.Name())
		}
		data, ok := t.Data().([]float64)
		if !ok {
			return errors.Errorf("set parameters: %s is not float64", n.Name())
		}
		if !sameShape(n.Shape(), p.Shape) || len(p.Data) != len(data) {
			return errors.Errorf("set parameters: %s shape %v, got %v with %d values", n.Name(), n.Shape(), p.Shape, len(p.Data))
		}
	}
	for _, n := range net.learnables {
		data := n.Value().(tensor.Tensor).Data().([]float64)
		copy(data, byName[n.Name()].Data)
	}
	return nil
}

func sameShape(a tensor.Shape, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
