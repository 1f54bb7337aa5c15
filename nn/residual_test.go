package nn

import (
	"math"
	"testing"

	"sqnxt/nn/layers"
	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// weightedLoss returns Σ r·m(x).
func weightedLoss(t *testing.T, m Module, x, r *tensor.Tensor) float64 {
	t.Helper()
	out, err := ForwardTensor(m, x)
	require.NoError(t, err)
	require.Equal(t, len(r.Data), len(out.Data))
	s := 0.0
	for i, v := range out.Data {
		s += v * r.Data[i]
	}
	return s
}

// checkGradients compares Backward against central differences for the
// input and every parameter of m.
func checkGradients(t *testing.T, m Module, x, r *tensor.Tensor, tol float64) {
	t.Helper()
	weightedLoss(t, m, x, r)
	gx, err := BackwardTensor(m, r)
	require.NoError(t, err)
	gx = gx.Clone()
	params := CollectParams(m)
	grads := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		grads[i] = p.Grad.Clone()
	}

	const h = 1e-6
	numeric := func(v []float64, i int) float64 {
		orig := v[i]
		v[i] = orig + h
		lp := weightedLoss(t, m, x, r)
		v[i] = orig - h
		lm := weightedLoss(t, m, x, r)
		v[i] = orig
		return (lp - lm) / (2 * h)
	}
	for i := range x.Data {
		assert.InDelta(t, numeric(x.Data, i), gx.Data[i], tol, "input[%d]", i)
	}
	for k, p := range params {
		for i := range p.Value.Data {
			assert.InDelta(t, numeric(p.Value.Data, i), grads[k].Data[i], tol, "%s[%d]", p.Name, i)
		}
	}
}

func randomTensor(ini *Initializer, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	ini.Normal(t, 1)
	return t
}

func TestResidualIdentityShortcut(t *testing.T) {
	block := NewResidualBlock([]Module{&addLayer{c: 1}}, nil, nil)
	x := tensor.NewWithData([]float64{1, 2, 3})
	out, err := ForwardTensor(block, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5, 7}, out.Data)

	g, err := BackwardTensor(block, tensor.NewWithData([]float64{1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2}, g.Data)
	assert.Equal(t, "ResidualBlock[add|identity|]", block.Tag())
}

func TestResidualProjectionGradients(t *testing.T) {
	ini := NewInitializer(7)
	conv := layers.NewConv2D(2, 3, 1, 1, 2, 0, 0)
	ini.ConvNormal(conv.W, 1, 1, 3)
	ini.FanInUniform(conv.B, 2)
	mainConv := layers.NewConv2D(2, 3, 3, 1, 2, 1, 0)
	ini.ConvNormal(mainConv.W, 3, 1, 3)
	ini.FanInUniform(mainConv.B, 6)

	block := NewResidualBlock(
		[]Module{mainConv, layers.NewBatchNorm2D(3)},
		[]Module{conv, layers.NewBatchNorm2D(3)},
		[]Module{layers.NewInstanceNorm2D(3)},
	)
	x := randomTensor(ini, 2, 2, 4, 4)
	r := randomTensor(ini, 2, 3, 2, 2)
	checkGradients(t, block, x, r, 1e-5)
	assert.Len(t, block.Params(), 10)
	assert.Equal(t, "main.0.weight", block.Params()[0].Name)
	assert.Equal(t, "post.0.bias", block.Params()[9].Name)
}

func TestResidualMergeShapeMismatch(t *testing.T) {
	block := NewResidualBlock([]Module{layers.NewConv2D(1, 2, 1, 1, 1, 0, 0)}, nil, nil)
	_, err := block.Forward(tensor.New(1, 1, 2, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge")
}

func TestInitializerStatistics(t *testing.T) {
	ini := NewInitializer(1)
	w := tensor.New(64, 32, 3, 3)
	ini.ConvNormal(w, 3, 3, 64)
	n := float64(len(w.Data))
	mean := w.Sum() / n
	ss := 0.0
	for _, v := range w.Data {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / n)
	assert.InDelta(t, 0, mean, 0.005)
	assert.InEpsilon(t, math.Sqrt(2.0/(9*64)), std, 0.05)

	b := tensor.New(1000)
	ini.FanInUniform(b, 16)
	for _, v := range b.Data {
		assert.LessOrEqual(t, math.Abs(v), 0.25)
	}
}

func TestInitializerIsSeeded(t *testing.T) {
	a, b := tensor.New(10), tensor.New(10)
	NewInitializer(42).Normal(a, 1)
	NewInitializer(42).Normal(b, 1)
	assert.Equal(t, a.Data, b.Data)
}
