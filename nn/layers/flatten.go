package layers

import (
	"sqnxt/tensor"
)

// Flatten layer: reshapes [N, ...] to [N, prod(...)], keeping the batch axis.
type Flatten struct {
	inputShape []int
}

func NewFlatten() *Flatten { return &Flatten{} }

func (f *Flatten) ForwardPlain(t *tensor.Tensor) (*tensor.Tensor, error) {
	f.inputShape = append([]int(nil), t.Shape...)
	if len(t.Shape) == 0 {
		return tensor.New(0), nil
	}
	n := t.Shape[0]
	rest := 1
	if n > 0 {
		rest = len(t.Data) / n
	}
	y := tensor.New(n, rest)
	copy(y.Data, t.Data)
	return y, nil
}

func (f *Flatten) BackwardPlain(g *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inputShape == nil {
		return nil, errNoForward(f.Tag())
	}
	if len(g.Data) != tensor.Numel(f.inputShape) {
		return nil, errShape(f.Tag(), g.Shape, f.inputShape)
	}
	out := tensor.New(f.inputShape...)
	copy(out.Data, g.Data)
	return out, nil
}

func (f *Flatten) Forward(x interface{}) (interface{}, error) {
	t, err := asTensor(x)
	if err != nil {
		return nil, err
	}
	return f.ForwardPlain(t)
}

func (f *Flatten) Backward(g interface{}) (interface{}, error) {
	t, err := asTensor(g)
	if err != nil {
		return nil, err
	}
	return f.BackwardPlain(t)
}

func (f *Flatten) Update(float64) error { return nil }
func (f *Flatten) Encrypted() bool      { return false }
func (f *Flatten) Levels() int          { return 0 }

func (f *Flatten) Tag() string {
	return "Flatten"
}
