package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"digit-forge/internal/autograd"
	"digit-forge/internal/dataset"
	"digit-forge/internal/model"
)

func main() {
	seed := flag.Int64("seed", 1, "PRNG seed")
	samples := flag.Int("samples", 20, "Parameter entries to check against finite differences")
	hidden := flag.Int("hidden", 16, "Hidden units of the checked network")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	x := make([]float64, 4)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	w, err := autograd.SquareMean(x, 2, 2)
	if err != nil {
		log.Fatalf("square mean: %v", err)
	}
	printMatrix("x", w.X, w.Cols)
	printMatrix("y = x**2", w.Y, w.Cols)
	fmt.Printf("z = mean(y)\n  %.6f\n", w.Z)
	printMatrix("dz/dx", w.Grad, w.Cols)
	half := make([]float64, len(w.X))
	for i, v := range w.X {
		half[i] = v / 2
	}
	printMatrix("x/2", half, w.Cols)

	ds, err := dataset.Synthetic(8, *seed)
	if err != nil {
		log.Fatalf("synthetic data: %v", err)
	}
	if err := ds.Normalize(0.5, 0.5); err != nil {
		log.Fatalf("normalize: %v", err)
	}
	net, err := model.New(model.Spec{
		Input:      dataset.ImageSize,
		Hidden:     []int{*hidden},
		Classes:    dataset.NumClasses,
		Activation: model.Tanh,
	}, model.Options{BatchSize: ds.Len(), Seed: *seed})
	if err != nil {
		log.Fatalf("build network: %v", err)
	}
	defer net.Close()
	fmt.Println(net)

	worst, err := autograd.GradCheck(net, dataset.Batch{Inputs: ds.Images, Labels: ds.Labels}, autograd.CheckOptions{
		Samples: *samples,
		Seed:    *seed,
	})
	if err != nil {
		log.Fatalf("gradient check: %v", err)
	}
	fmt.Printf("gradient check: worst param=%s index=%d backprop=%.8f numeric=%.8f rel_err=%.2e\n",
		worst.Param, worst.Index, worst.Backprop, worst.Numeric, worst.RelErr)
}

func printMatrix(name string, vals []float64, cols int) {
	fmt.Println(name)
	for i := 0; i < len(vals); i += cols {
		fmt.Print(" ")
		for _, v := range vals[i : i+cols] {
			fmt.Printf(" %9.6f", v)
		}
		fmt.Println()
	}
}
