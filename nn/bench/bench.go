// Package bench times the forward and backward pass of each top-level
// module of a network.
package bench

import (
	"fmt"
	"io"
	"time"

	"sqnxt/nn"
	"sqnxt/tensor"
	"sqnxt/utils"
)

// Point is the averaged timing of one module.
type Point struct {
	Layer    string
	OutShape []int
	Fwd, Bwd time.Duration
}

// TimeLayers runs mods in sequence on x numRuns times, then backpropagates
// an all-ones gradient, and returns per-module mean durations.
func TimeLayers(mods []nn.Module, x *tensor.Tensor, numRuns int) ([]Point, error) {
	if numRuns < 1 {
		numRuns = 1
	}
	pts := make([]Point, len(mods))
	for i, m := range mods {
		pts[i].Layer = m.Tag()
	}
	for run := 0; run < numRuns; run++ {
		out := x
		for i, m := range mods {
			start := time.Now()
			y, err := nn.ForwardTensor(m, out)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			utils.Since(&pts[i].Fwd, start)
			pts[i].OutShape = y.Shape
			out = y
		}
		grad := tensor.New(out.Shape...)
		grad.Fill(1)
		for i := len(mods) - 1; i >= 0; i-- {
			start := time.Now()
			g, err := nn.BackwardTensor(mods[i], grad)
			if err != nil {
				return nil, fmt.Errorf("layer %d backward: %w", i, err)
			}
			utils.Since(&pts[i].Bwd, start)
			grad = g
		}
	}
	for i := range pts {
		pts[i].Fwd /= time.Duration(numRuns)
		pts[i].Bwd /= time.Duration(numRuns)
	}
	return pts, nil
}

// WriteTable prints one row per point.
func WriteTable(w io.Writer, title string, pts []Point) {
	fmt.Fprintf(w, "Microbenchmark Table for %s\n", title)
	fmt.Fprintf(w, "%-40s | %-16s | %-12s | %-12s\n", "Layer", "Output", "Fwd", "Bwd")
	for _, p := range pts {
		fmt.Fprintf(w, "%-40.40s | %-16v | %9.1f µs | %9.1f µs\n", p.Layer, p.OutShape, utils.DurationUS(p.Fwd), utils.DurationUS(p.Bwd))
	}
}

// WriteCSV writes points as layer,out_shape,fwd_us,bwd_us rows.
func WriteCSV(w io.Writer, pts []Point) error {
	if _, err := fmt.Fprintln(w, "layer,out_shape,fwd_us,bwd_us"); err != nil {
		return err
	}
	for _, p := range pts {
		shape := ""
		for i, d := range p.OutShape {
			if i > 0 {
				shape += "x"
			}
			shape += fmt.Sprint(d)
		}
		if _, err := fmt.Fprintf(w, "%s,%s,%.3f,%.3f\n", p.Layer, shape, utils.DurationUS(p.Fwd), utils.DurationUS(p.Bwd)); err != nil {
			return err
		}
	}
	return nil
}
