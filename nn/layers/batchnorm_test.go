package layers

import (
	"math"
	"testing"

	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchNorm2D_TrainingNormalizes(t *testing.T) {
	bn := NewBatchNorm2D(3)
	x := randTensor(1, 4, 3, 5, 5)
	for i := range x.Data {
		x.Data[i] = 3*x.Data[i] + 2
	}
	out, err := bn.ForwardPlain(x)
	require.NoError(t, err)

	plane := 25
	for c := 0; c < 3; c++ {
		var vals []float64
		for n := 0; n < 4; n++ {
			vals = append(vals, out.Data[(n*3+c)*plane:(n*3+c+1)*plane]...)
		}
		mean, ss := 0.0, 0.0
		for _, v := range vals {
			mean += v
		}
		mean /= float64(len(vals))
		for _, v := range vals {
			ss += (v - mean) * (v - mean)
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, ss/float64(len(vals)), 1e-3)
	}
}

func TestBatchNorm2D_RunningStats(t *testing.T) {
	bn := NewBatchNorm2D(1)
	x := tensor.NewWithData([]float64{1, 2, 3, 4})
	x, _ = x.Reshape(2, 1, 1, 2)
	_, err := bn.ForwardPlain(x)
	require.NoError(t, err)
	// mean 2.5, unbiased variance 5/3
	assert.InDelta(t, 0.25, bn.RunningMean.Data[0], 1e-12)
	assert.InDelta(t, 0.9+0.1*5.0/3.0, bn.RunningVar.Data[0], 1e-12)

	bn.SetTraining(false)
	out, err := bn.ForwardPlain(x)
	require.NoError(t, err)
	inv := 1 / math.Sqrt(bn.RunningVar.Data[0]+DefaultNormEps)
	for i, v := range x.Data {
		assert.InDelta(t, (v-0.25)*inv, out.Data[i], 1e-12)
	}
	assert.InDelta(t, 0.25, bn.RunningMean.Data[0], 1e-12, "eval must not touch running stats")
}

func TestBatchNorm2D_SingleValueInTraining(t *testing.T) {
	bn := NewBatchNorm2D(2)
	_, err := bn.ForwardPlain(tensor.New(1, 2, 1, 1))
	require.Error(t, err)

	bn.SetTraining(false)
	_, err = bn.ForwardPlain(tensor.New(1, 2, 1, 1))
	require.NoError(t, err)
}

func TestBatchNorm2D_Gradients(t *testing.T) {
	bn := NewBatchNorm2D(2)
	copy(bn.Gamma.Data, []float64{1.5, -0.7})
	copy(bn.Beta.Data, []float64{0.2, 0.1})
	checkGradients(t, bn, bn.Params(), randTensor(3, 3, 2, 2, 3), 1e-5)

	bn.SetTraining(false)
	copy(bn.RunningVar.Data, []float64{0.5, 2})
	checkGradients(t, bn, bn.Params(), randTensor(4, 3, 2, 2, 3), 1e-6)
}

func TestInstanceNorm2D_PerPlane(t *testing.T) {
	in := NewInstanceNorm2D(2)
	x := randTensor(5, 3, 2, 4, 4)
	out, err := in.ForwardPlain(x)
	require.NoError(t, err)
	for p := 0; p < 6; p++ {
		plane := out.Data[p*16 : (p+1)*16]
		mean, ss := 0.0, 0.0
		for _, v := range plane {
			mean += v
		}
		mean /= 16
		for _, v := range plane {
			ss += (v - mean) * (v - mean)
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, ss/16, 1e-3)
	}
	assert.Equal(t, "InstanceNorm2D_2", in.Tag())
}

func TestInstanceNorm2D_Gradients(t *testing.T) {
	in := NewInstanceNorm2D(3)
	copy(in.Gamma.Data, []float64{0.5, 2, -1})
	copy(in.Beta.Data, []float64{0, 1, -1})
	checkGradients(t, in, in.Params(), randTensor(6, 2, 3, 3, 2), 1e-5)
}

func TestInstanceNorm2D_TooSmall(t *testing.T) {
	in := NewInstanceNorm2D(1)
	_, err := in.ForwardPlain(tensor.New(4, 1, 1, 1))
	require.Error(t, err)
	_, err = in.ForwardPlain(tensor.New(4, 2, 2, 2))
	require.Error(t, err, "channel mismatch")
}
