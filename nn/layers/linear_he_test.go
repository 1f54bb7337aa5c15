//go:build !exclude_he
// +build !exclude_he

package layers

import (
	"math"
	"testing"

	"sqnxt/core/ckkswrapper"
	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

func TestLinearForwardCipher(t *testing.T) {
	he := ckkswrapper.NewHeContext()
	inDim, outDim := 4, 4

	W := [][]float64{
		{1, 2, 3, 4},
		{2, 0, 1, 1},
		{0, 1, 0, 1},
		{1, 1, 1, 1},
	}
	b := []float64{10, 20, 30, 40}
	x := []float64{1, 2, 3, 4}

	want := make([]float64, outDim)
	for j := 0; j < outDim; j++ {
		for i := 0; i < inDim; i++ {
			want[j] += W[j][i] * x[i]
		}
		want[j] += b[j]
	}

	lin := NewLinear(inDim, outDim, true, he)
	for j := 0; j < outDim; j++ {
		copy(lin.W.Data[j*inDim:], W[j])
		lin.B.Data[j] = b[j]
	}
	require.NoError(t, lin.SyncHE())
	assert.Equal(t, LinearHELevels, lin.Levels())

	ctX, err := he.EncryptVector(x)
	require.NoError(t, err)
	out, err := lin.Forward(ctX)
	require.NoError(t, err)
	ctY, ok := out.(*rlwe.Ciphertext)
	require.True(t, ok)
	assert.Equal(t, ctX.Level()-LinearHELevels, ctY.Level())

	got, err := he.DecryptVector(ctY, outDim+2)
	require.NoError(t, err)
	for j := 0; j < outDim; j++ {
		assert.InDelta(t, want[j], got[j], 1e-3, "slot %d", j)
	}
	for j := outDim; j < outDim+2; j++ {
		assert.InDelta(t, 0, got[j], 1e-3, "slot %d must be empty", j)
	}
}

func TestLinearForwardCipherMatchesPlaintext(t *testing.T) {
	he := ckkswrapper.NewHeContext()
	inDim, outDim := 32, 10

	lin := NewLinear(inDim, outDim, false, nil)
	copy(lin.W.Data, randTensor(7, outDim, inDim).Data)
	copy(lin.B.Data, randTensor(8, outDim).Data)
	x := randTensor(9, 1, inDim)
	plain, err := lin.ForwardPlaintext(x)
	require.NoError(t, err)

	lin.SetServerKit(he.GenServerKit(lin.Rotations()))
	require.NoError(t, lin.SyncHE())
	ctX, err := he.EncryptVector(x.Data)
	require.NoError(t, err)
	ctY, err := lin.ForwardCipher(ctX)
	require.NoError(t, err)
	got, err := he.DecryptVector(ctY, outDim)
	require.NoError(t, err)

	maxErr := 0.0
	for j := range got {
		maxErr = math.Max(maxErr, math.Abs(got[j]-plain.Data[j]))
	}
	assert.Less(t, maxErr, 1e-3)
}

func TestLinearForwardCipherErrors(t *testing.T) {
	he := ckkswrapper.NewHeContext()
	lin := NewLinear(4, 2, true, he)

	ct, err := he.EncryptVector([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = lin.ForwardCipher(ct)
	assert.Error(t, err, "SyncHE not called")

	require.NoError(t, lin.SyncHE())
	_, err = lin.Forward(tensor.New(1, 4))
	assert.Error(t, err, "encrypted layer rejects tensors")

	low := ct.CopyNew()
	low.Resize(low.Degree(), 1)
	_, err = lin.ForwardCipher(low)
	assert.Error(t, err, "not enough levels")

	_, err = lin.Backward(tensor.New(1, 2))
	assert.Error(t, err)
}
