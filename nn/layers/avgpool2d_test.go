package layers

import (
	"testing"

	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvgPool2D_Forward(t *testing.T) {
	pool := NewAvgPool2D(2)
	x := tensor.New(1, 1, 4, 4)
	for i := range x.Data {
		x.Data[i] = float64(i)
	}
	out, err := pool.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2}, out.Shape)
	assert.Equal(t, []float64{2.5, 4.5, 10.5, 12.5}, out.Data)
}

func TestAvgPool2D_GlobalOn4x4(t *testing.T) {
	pool := NewAvgPool2D(4)
	x := randTensor(1, 2, 3, 4, 4)
	out, err := pool.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 1}, out.Shape)
	for p := 0; p < 6; p++ {
		sum := 0.0
		for _, v := range x.Data[p*16 : (p+1)*16] {
			sum += v
		}
		assert.InDelta(t, sum/16, out.Data[p], 1e-12)
	}
}

func TestAvgPool2D_Backward(t *testing.T) {
	pool := NewAvgPool2D(2)
	checkGradients(t, pool, nil, randTensor(2, 2, 2, 4, 6), 1e-8)

	_, err := pool.ForwardPlain(tensor.New(1, 1, 1, 1))
	assert.Error(t, err)
}

func TestFlatten_RoundTrip(t *testing.T) {
	f := NewFlatten()
	x := randTensor(3, 2, 3, 2, 2)
	out, err := f.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 12}, out.Shape)
	assert.Equal(t, x.Data, out.Data)

	g, err := f.BackwardPlain(out)
	require.NoError(t, err)
	assert.Equal(t, x.Shape, g.Shape)

	_, err = f.BackwardPlain(tensor.New(5))
	assert.Error(t, err)
}

func TestReLU_ForwardBackward(t *testing.T) {
	r := NewReLU()
	x := tensor.NewWithData([]float64{-1, 0, 2, -3, 4})
	out, err := r.ForwardPlain(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 2, 0, 4}, out.Data)

	g, err := r.BackwardPlain(tensor.NewWithData([]float64{1, 1, 1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 0, 1}, g.Data)
}
