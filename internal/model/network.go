package model

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"digit-forge/internal/dataset"
)

// Options configures the compiled graph of a Network.
type Options struct {
	// BatchSize is the row capacity of the graph. Shorter batches are
	// zero-padded and excluded from the loss.
	BatchSize int
	Seed      int64
	Optimizer OptimizerConfig
}

// Network is a sequential feed-forward classifier compiled into a gorgonia
// expression graph with a negative log-likelihood criterion attached.
type Network struct {
	layers   []Layer
	capacity int
	inputs   int
	classes  int

	g          *gorgonia.ExprGraph
	x, y, n    *gorgonia.Node
	logProbs   *gorgonia.Node
	loss       *gorgonia.Node
	learnables gorgonia.Nodes

	lossVal gorgonia.Value
	outVal  gorgonia.Value

	vm     gorgonia.VM
	solver gorgonia.Solver

	xBacking []float64
	yBacking []float64
	pending  bool
}

// Sequential compiles layers into a trainable network.
func Sequential(opts Options, layers ...Layer) (*Network, error) {
	in, out, err := checkChain(layers)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("sequential: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	solver, err := NewSolver(opts.Optimizer)
	if err != nil {
		return nil, err
	}

	net := &Network{
		layers:   append([]Layer(nil), layers...),
		capacity: opts.BatchSize,
		inputs:   in,
		classes:  out,
		g:        gorgonia.NewGraph(),
		solver:   solver,
		xBacking: make([]float64, opts.BatchSize*in),
		yBacking: make([]float64, opts.BatchSize*out),
	}
	if err := net.compile(opts.Seed); err != nil {
		return nil, err
	}
	return net, nil
}

// New builds the network described by spec.
func New(spec Spec, opts Options) (*Network, error) {
	layers, err := spec.Layers()
	if err != nil {
		return nil, err
	}
	return Sequential(opts, layers...)
}

func (net *Network) compile(seed int64) error {
	g := net.g
	net.x = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(net.capacity, net.inputs), gorgonia.WithName("x"))
	net.y = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(net.capacity, net.classes), gorgonia.WithName("y"))
	net.n = gorgonia.NewScalar(g, tensor.Float64, gorgonia.WithName("n"))

	b := &builder{g: g, rng: rand.New(rand.NewSource(seed))}
	h := net.x
	for i, l := range net.layers {
		var err error
		if h, err = l.build(b, h); err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
	}
	net.logProbs = h
	net.learnables = b.learnables

	// NLL over one-hot targets; padded rows carry all-zero targets.
	picked, err := gorgonia.HadamardProd(net.logProbs, net.y)
	if err != nil {
		return errors.Wrap(err, "criterion")
	}
	total, err := gorgonia.Sum(picked)
	if err != nil {
		return errors.Wrap(err, "criterion")
	}
	mean, err := gorgonia.Div(total, net.n)
	if err != nil {
		return errors.Wrap(err, "criterion")
	}
	if net.loss, err = gorgonia.Neg(mean); err != nil {
		return errors.Wrap(err, "criterion")
	}

	if _, err := gorgonia.Grad(net.loss, net.learnables...); err != nil {
		return errors.Wrap(err, "backward graph")
	}
	gorgonia.Read(net.loss, &net.lossVal)
	gorgonia.Read(net.logProbs, &net.outVal)

	net.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(net.learnables...))
	return nil
}

// Close releases the tape machine.
func (net *Network) Close() error {
	return net.vm.Close()
}

// Inputs is the width of one input row.
func (net *Network) Inputs() int { return net.inputs }

// Classes is the number of output classes.
func (net *Network) Classes() int { return net.classes }

// Capacity is the maximum batch size.
func (net *Network) Capacity() int { return net.capacity }

// Layers returns the layer descriptions in order.
func (net *Network) Layers() []Layer { return append([]Layer(nil), net.layers...) }

// String renders the architecture.
func (net *Network) String() string {
	var sb strings.Builder
	sb.WriteString("Sequential(\n")
	for i, l := range net.layers {
		fmt.Fprintf(&sb, "  (%d): %s\n", i, l)
	}
	sb.WriteString(")")
	return sb.String()
}

// load stages a batch into the graph inputs. A nil labels slice stages
// all-zero targets for inference.
func (net *Network) load(inputs []float64, labels []int, rows int) error {
	if rows == 0 {
		return errors.New("empty batch")
	}
	if rows > net.capacity {
		return errors.Errorf("batch of %d exceeds capacity %d", rows, net.capacity)
	}
	if len(inputs) != rows*net.inputs {
		return errors.Errorf("batch has %d values, want %d rows of %d", len(inputs), rows, net.inputs)
	}
	for i := range net.yBacking {
		net.yBacking[i] = 0
	}
	for i, l := range labels {
		if l < 0 || l >= net.classes {
			return errors.Errorf("label %d of row %d out of range [0,%d)", l, i, net.classes)
		}
		net.yBacking[i*net.classes+l] = 1
	}
	copy(net.xBacking, inputs)
	for i := len(inputs); i < len(net.xBacking); i++ {
		net.xBacking[i] = 0
	}

	xT := tensor.New(tensor.WithShape(net.capacity, net.inputs), tensor.WithBacking(net.xBacking))
	yT := tensor.New(tensor.WithShape(net.capacity, net.classes), tensor.WithBacking(net.yBacking))
	live := len(labels)
	if live == 0 {
		live = 1
	}
	if err := gorgonia.Let(net.x, xT); err != nil {
		return errors.Wrap(err, "bind inputs")
	}
	if err := gorgonia.Let(net.y, yT); err != nil {
		return errors.Wrap(err, "bind targets")
	}
	if err := gorgonia.Let(net.n, gorgonia.NewF64(float64(live))); err != nil {
		return errors.Wrap(err, "bind row count")
	}
	return nil
}

// run executes the forward and backward passes for one staged batch.
func (net *Network) run(inputs []float64, labels []int, rows int) error {
	net.vm.Reset()
	net.pending = false
	if err := net.load(inputs, labels, rows); err != nil {
		return err
	}
	if err := net.vm.RunAll(); err != nil {
		return errors.Wrap(err, "run graph")
	}
	return nil
}

func (net *Network) lossValue() (float64, error) {
	v, ok := net.lossVal.Data().(float64)
	if !ok {
		return 0, errors.Errorf("loss value has type %T", net.lossVal.Data())
	}
	return v, nil
}

func (net *Network) outputs() ([]float64, error) {
	v, ok := net.outVal.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("output value has type %T", net.outVal.Data())
	}
	return v, nil
}

// ComputeGradients runs the forward pass, the criterion and the backward
// pass for batch, leaving gradients bound to the parameters for inspection.
// It returns the mean loss over the batch.
func (net *Network) ComputeGradients(batch dataset.Batch) (float64, error) {
	if err := net.run(batch.Inputs, batch.Labels, batch.Size()); err != nil {
		return 0, err
	}
	net.pending = true
	return net.lossValue()
}

// Step applies the optimizer to the gradients of the last ComputeGradients.
func (net *Network) Step() error {
	if !net.pending {
		return errors.New("step: no gradients computed since the last step")
	}
	if err := net.solver.Step(gorgonia.NodesToValueGrads(net.learnables)); err != nil {
		return errors.Wrap(err, "optimizer step")
	}
	net.pending = false
	return nil
}

// ZeroGrad rewinds the tape and clears every bound gradient. Backward passes
// accumulate into the gradients until ZeroGrad is called.
func (net *Network) ZeroGrad() {
	net.vm.Reset()
	net.pending = false
	for _, n := range net.learnables {
		if g := gradData(n); g != nil {
			for i := range g {
				g[i] = 0
			}
		}
	}
}

func gradData(n *gorgonia.Node) []float64 {
	g, err := n.Grad()
	if err != nil || g == nil {
		return nil
	}
	data, _ := g.Data().([]float64)
	return data
}

// scoring runs a batch through the graph for its outputs only. Gradients and
// the pending flag are restored afterwards so a later Step sees exactly what
// ComputeGradients left behind.
func (net *Network) scoring(inputs []float64, labels []int, rows int) (func(), error) {
	pending := net.pending
	var saved [][]float64
	if pending {
		saved = make([][]float64, len(net.learnables))
		for i, n := range net.learnables {
			saved[i] = append([]float64(nil), gradData(n)...)
		}
	}
	restore := func() {
		net.ZeroGrad()
		for i, n := range net.learnables {
			if saved != nil {
				copy(gradData(n), saved[i])
			}
		}
		net.pending = pending
	}
	// Clear first so the backward pass of this run accumulates from zero.
	net.ZeroGrad()
	if err := net.run(inputs, labels, rows); err != nil {
		restore()
		return nil, err
	}
	return restore, nil
}

// TrainStep performs forward, loss, backward, optimizer step and gradient
// reset for one batch and returns the batch loss.
func (net *Network) TrainStep(batch dataset.Batch) (float64, error) {
	loss, err := net.ComputeGradients(batch)
	if err != nil {
		return 0, err
	}
	if err := net.Step(); err != nil {
		return 0, err
	}
	net.ZeroGrad()
	return loss, nil
}

// Evaluate scores batch without updating parameters or disturbing gradients.
func (net *Network) Evaluate(batch dataset.Batch) (Result, error) {
	restore, err := net.scoring(batch.Inputs, batch.Labels, batch.Size())
	if err != nil {
		return Result{}, err
	}
	defer restore()
	loss, err := net.lossValue()
	if err != nil {
		return Result{}, err
	}
	out, err := net.outputs()
	if err != nil {
		return Result{}, err
	}
	res := Result{Loss: loss, Count: batch.Size()}
	for i, label := range batch.Labels {
		if floats.MaxIdx(out[i*net.classes:(i+1)*net.classes]) == label {
			res.Correct++
		}
	}
	return res, nil
}

// PredictBatch returns class probabilities for each row of inputs.
func (net *Network) PredictBatch(inputs []float64) ([][]float64, error) {
	rows := len(inputs) / net.inputs
	if rows*net.inputs != len(inputs) {
		return nil, errors.Errorf("predict: %d values is not a multiple of %d", len(inputs), net.inputs)
	}
	restore, err := net.scoring(inputs, nil, rows)
	if err != nil {
		return nil, errors.Wrap(err, "predict")
	}
	defer restore()
	out, err := net.outputs()
	if err != nil {
		return nil, err
	}
	probs := make([][]float64, rows)
	for i := range probs {
		row := make([]float64, net.classes)
		for c := range row {
			row[c] = math.Exp(out[i*net.classes+c])
		}
		probs[i] = row
	}
	return probs, nil
}

// Predict returns the class probabilities of a single image.
func (net *Network) Predict(image []float64) ([]float64, error) {
	probs, err := net.PredictBatch(image)
	if err != nil {
		return nil, err
	}
	return probs[0], nil
}
