package layers

import (
	"sqnxt/tensor"
)

// ReLU is the elementwise max(0, x) activation.
type ReLU struct {
	lastInput *tensor.Tensor
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	r.lastInput = x
	return tensor.ReluPlain(x), nil
}

// BackwardPlain passes the gradient where the cached input was positive.
func (r *ReLU) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if r.lastInput == nil {
		return nil, errNoForward("ReLU")
	}
	if !tensor.SameShape(gradOut, r.lastInput) {
		return nil, errShape("ReLU", gradOut.Shape, r.lastInput.Shape)
	}
	gradIn := tensor.New(gradOut.Shape...)
	for i, v := range r.lastInput.Data {
		if v > 0 {
			gradIn.Data[i] = gradOut.Data[i]
		}
	}
	return gradIn, nil
}

func (r *ReLU) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return r.ForwardPlain(x)
}

func (r *ReLU) Backward(gradOut interface{}) (interface{}, error) {
	g, err := asTensor(gradOut)
	if err != nil {
		return nil, err
	}
	return r.BackwardPlain(g)
}

func (r *ReLU) Update(float64) error { return nil }
func (r *ReLU) Encrypted() bool      { return false }
func (r *ReLU) Levels() int          { return 0 }
func (r *ReLU) Tag() string          { return "ReLU" }
