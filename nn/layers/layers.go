// Package layers holds the leaf layers of the network: convolution,
// normalization, activation, pooling and the fully-connected classifier.
// Every layer exposes a typed plaintext path (ForwardPlain/BackwardPlain)
// and the interface{}-based Forward/Backward used by nn.Module.
package layers

import (
	"fmt"

	"sqnxt/tensor"
)

// Param couples a learnable tensor with its gradient buffer.
type Param struct {
	Name  string
	Value *tensor.Tensor
	Grad  *tensor.Tensor
}

var ErrType = &TypeError{"input must be *tensor.Tensor"}

type TypeError struct{ msg string }

func (e *TypeError) Error() string { return e.msg }

func asTensor(x interface{}) (*tensor.Tensor, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w, got %T", ErrType, x)
	}
	return t, nil
}

// sgd applies p.Value -= lr * p.Grad for every param.
func sgd(lr float64, params ...Param) error {
	for _, p := range params {
		if p.Grad == nil || len(p.Grad.Data) != len(p.Value.Data) {
			return fmt.Errorf("%s: no gradient to apply", p.Name)
		}
		for i := range p.Value.Data {
			p.Value.Data[i] -= lr * p.Grad.Data[i]
		}
	}
	return nil
}

func errNoForward(tag string) error {
	return fmt.Errorf("%s: no cached input for backward pass", tag)
}

func errShape(tag string, got, want []int) error {
	return fmt.Errorf("%s: gradOut shape %v does not match forward output %v", tag, got, want)
}
