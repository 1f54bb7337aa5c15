package layers

import (
	"testing"

	"sqnxt/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear_ForwardPlaintext(t *testing.T) {
	lin := NewLinear(3, 2, false, nil)
	copy(lin.W.Data, []float64{1, 2, 3, 0, -1, 1})
	copy(lin.B.Data, []float64{10, 20})

	x := tensor.NewWithData([]float64{1, 1, 1, 2, 0, 1})
	x, _ = x.Reshape(2, 3)
	out, err := lin.ForwardPlaintext(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape)
	assert.Equal(t, []float64{16, 20, 15, 21}, out.Data)

	// a bare vector is a batch of one
	out, err = lin.ForwardPlaintext(tensor.NewWithData([]float64{1, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 20}, out.Data)
}

func TestLinear_ShapeErrors(t *testing.T) {
	lin := NewLinear(3, 2, false, nil)
	_, err := lin.ForwardPlaintext(tensor.New(2, 4))
	assert.Error(t, err)
	_, err = lin.BackwardPlain(tensor.New(2, 2))
	assert.Error(t, err, "backward before forward")
	_, err = lin.ForwardPlaintext(tensor.New(2, 3))
	require.NoError(t, err)
	_, err = lin.BackwardPlain(tensor.New(3, 2))
	assert.Error(t, err)
}

func TestLinear_Gradients(t *testing.T) {
	lin := NewLinear(5, 3, false, nil)
	copy(lin.W.Data, randTensor(1, 3, 5).Data)
	copy(lin.B.Data, randTensor(2, 3).Data)
	checkGradients(t, plainLinear{lin}, lin.Params(), randTensor(3, 4, 5), 1e-7)
}

// plainLinear adapts ForwardPlaintext to the plainLayer helper.
type plainLinear struct{ *Linear }

func (p plainLinear) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	return p.ForwardPlaintext(x)
}

func TestLinear_RotationsAndTag(t *testing.T) {
	lin := NewLinear(32, 4, false, nil)
	assert.Equal(t, []int{1, 2, 4, 8, 16, -1, -2, -3}, lin.Rotations())
	assert.Equal(t, "Linear_32_4", lin.Tag())
	assert.Equal(t, 0, lin.Levels())
	assert.False(t, lin.Encrypted())
}
