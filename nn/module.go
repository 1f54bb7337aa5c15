package nn

import (
	"fmt"
	"strings"

	"sqnxt/nn/layers"
	"sqnxt/tensor"
)

// Module defines a single layer/unit in the network.
type Module interface {
	Forward(input interface{}) (interface{}, error)
	// Backward computes gradients and propagates them.
	// It takes the gradient of the loss with respect to the module's output,
	// and returns the gradient of the loss with respect to the module's input.
	Backward(gradOut interface{}) (interface{}, error)
	Update(lr float64) error
	Encrypted() bool
	Levels() int
	Tag() string
}

// Param is a named parameter with its gradient buffer.
type Param = layers.Param

// Container is implemented by modules that own sub-modules.
type Container interface {
	Modules() []Module
}

// Parameterized is implemented by modules with learnable tensors.
type Parameterized interface {
	Params() []layers.Param
}

// Trainable is implemented by modules whose forward pass differs between
// training and evaluation.
type Trainable interface {
	SetTraining(training bool)
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

func NewSequential(mods ...Module) *Sequential {
	return &Sequential{Layers: mods}
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x interface{}) (interface{}, error) {
	var err error
	out := x
	for i, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Tag(), err)
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad interface{}) (interface{}, error) {
	var err error
	out := grad
	for i := len(s.Layers) - 1; i >= 0; i-- {
		out, err = s.Layers[i].Backward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, s.Layers[i].Tag(), err)
		}
	}
	return out, nil
}

// Update applies Update to every layer.
func (s *Sequential) Update(lr float64) error {
	for _, layer := range s.Layers {
		if err := layer.Update(lr); err != nil {
			return err
		}
	}
	return nil
}

// Levels sums Levels() of all layers.
func (s *Sequential) Levels() int {
	sum := 0
	for _, layer := range s.Layers {
		sum += layer.Levels()
	}
	return sum
}

// Encrypted returns true if any layer is encrypted.
func (s *Sequential) Encrypted() bool {
	for _, layer := range s.Layers {
		if layer.Encrypted() {
			return true
		}
	}
	return false
}

func (s *Sequential) Modules() []Module { return s.Layers }

// Params lists the parameters of every layer, prefixed by layer index.
func (s *Sequential) Params() []layers.Param {
	var ps []layers.Param
	for i, layer := range s.Layers {
		ps = append(ps, PrefixParams(fmt.Sprint(i), CollectParams(layer))...)
	}
	return ps
}

func (s *Sequential) Tag() string {
	tags := make([]string, len(s.Layers))
	for i, m := range s.Layers {
		tags[i] = m.Tag()
	}
	return "Sequential[" + strings.Join(tags, ",") + "]"
}

// ForwardTensor runs m on a plaintext tensor and checks the result type.
func ForwardTensor(m Module, x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	t, ok := out.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%s: expected *tensor.Tensor output, got %T", m.Tag(), out)
	}
	return t, nil
}

// BackwardTensor is the Backward counterpart of ForwardTensor.
func BackwardTensor(m Module, g *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.Backward(g)
	if err != nil {
		return nil, err
	}
	t, ok := out.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%s: expected *tensor.Tensor gradient, got %T", m.Tag(), out)
	}
	return t, nil
}

// Walk calls fn for m and, depth first, for every sub-module.
func Walk(m Module, fn func(Module)) {
	fn(m)
	if c, ok := m.(Container); ok {
		for _, child := range c.Modules() {
			Walk(child, fn)
		}
	}
}

// SetTraining propagates the training flag to every Trainable module under m.
func SetTraining(m Module, training bool) {
	Walk(m, func(mod Module) {
		if t, ok := mod.(Trainable); ok {
			t.SetTraining(training)
		}
	})
}

// CollectParams returns m's parameters. Only Parameterized modules report
// any; a Container lists its children's parameters through its own Params.
func CollectParams(m Module) []layers.Param {
	if p, ok := m.(Parameterized); ok {
		return p.Params()
	}
	return nil
}

// PrefixParams returns ps with "prefix." prepended to each name.
func PrefixParams(prefix string, ps []layers.Param) []layers.Param {
	out := make([]layers.Param, len(ps))
	for i, p := range ps {
		p.Name = prefix + "." + p.Name
		out[i] = p
	}
	return out
}

// NumParams counts scalar parameters.
func NumParams(m Module) int {
	n := 0
	for _, p := range CollectParams(m) {
		n += len(p.Value.Data)
	}
	return n
}
