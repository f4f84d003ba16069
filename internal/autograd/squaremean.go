package autograd

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Walkthrough records every intermediate of z = mean(x²).
type Walkthrough struct {
	Rows, Cols int
	X          []float64
	Y          []float64
	Z          float64
	// Grad is dz/dx, analytically 2x/(rows*cols).
	Grad []float64
}

// SquareMean builds y = x², z = mean(y), differentiates z with respect to x
// and runs the graph once.
func SquareMean(x []float64, rows, cols int) (*Walkthrough, error) {
	if rows <= 0 || cols <= 0 || len(x) != rows*cols {
		return nil, errors.Errorf("square mean: %d values for a %dx%d input", len(x), rows, cols)
	}
	g := gorgonia.NewGraph()
	xn := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(rows, cols),
		gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(append([]float64(nil), x...)))),
	)
	y, err := gorgonia.Square(xn)
	if err != nil {
		return nil, errors.Wrap(err, "square")
	}
	z, err := gorgonia.Mean(y)
	if err != nil {
		return nil, errors.Wrap(err, "mean")
	}
	if _, err := gorgonia.Grad(z, xn); err != nil {
		return nil, errors.Wrap(err, "grad")
	}
	var yVal, zVal gorgonia.Value
	gorgonia.Read(y, &yVal)
	gorgonia.Read(z, &zVal)

	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(xn))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run")
	}

	grad, err := xn.Grad()
	if err != nil {
		return nil, errors.Wrap(err, "read gradient")
	}
	w := &Walkthrough{Rows: rows, Cols: cols, X: append([]float64(nil), x...)}
	var ok bool
	if w.Z, ok = zVal.Data().(float64); !ok {
		return nil, errors.Errorf("z has type %T", zVal.Data())
	}
	ys, ok := yVal.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("y has type %T", yVal.Data())
	}
	gs, ok := grad.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("gradient has type %T", grad.Data())
	}
	w.Y = append([]float64(nil), ys...)
	w.Grad = append([]float64(nil), gs...)
	return w, nil
}
