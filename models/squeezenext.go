// Package models assembles SqueezeNext networks with IBN-b normalization
// for 32x32 inputs.
package models

import (
	"fmt"

	"sqnxt/nn"
	"sqnxt/nn/layers"
	"sqnxt/tensor"
)

const (
	// DefaultNumClasses is the CIFAR-10 label count.
	DefaultNumClasses = 10
	// DefaultSeed seeds weight initialization for the preset constructors.
	DefaultSeed = 1

	baseWidth = 64
	headWidth = 128
	poolSize  = 4
	// IBNStage is the stage whose last block carries instance norm.
	IBNStage = 0
)

var (
	stageWidths  = [4]int{32, 64, 128, 256}
	stageStrides = [4]int{1, 2, 2, 2}
)

// SqueezeNext is the full network: stem, four stages of BasicBlocks, head
// conv, average pooling and a linear classifier.
type SqueezeNext struct {
	Width      float64
	Blocks     [4]int
	NumClasses int

	StemConv *layers.Conv2D
	StemBN   *layers.BatchNorm2D
	Stages   [4][]*BasicBlock
	HeadConv *layers.Conv2D
	HeadBN   *layers.BatchNorm2D
	Pool     *layers.AvgPool2D
	FC       *layers.Linear

	trunk *nn.Sequential
	net   *nn.Sequential
}

func scaled(width float64, c int) int { return int(width * float64(c)) }

// NewSqueezeNext builds a network with the given width multiplier and
// per-stage block counts, initialising weights from seed.
func NewSqueezeNext(width float64, blocks []int, numClasses int, seed uint64) (*SqueezeNext, error) {
	if width <= 0 {
		return nil, fmt.Errorf("width multiplier must be positive, got %g", width)
	}
	if len(blocks) != 4 {
		return nil, fmt.Errorf("expected 4 block counts, got %d", len(blocks))
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}
	stem, head := scaled(width, baseWidth), scaled(width, headWidth)
	if stem < 1 || head < 1 {
		return nil, fmt.Errorf("width %g leaves no channels", width)
	}

	m := &SqueezeNext{Width: width, NumClasses: numClasses}
	m.StemConv = layers.NewConv2D(3, stem, 3, 3, 1, 1, 1)
	m.StemBN = layers.NewBatchNorm2D(stem)
	mods := []nn.Module{m.StemConv, m.StemBN, layers.NewReLU()}

	base := baseWidth
	for s := 0; s < 4; s++ {
		if blocks[s] < 1 {
			return nil, fmt.Errorf("stage %d: needs at least one block, got %d", s+1, blocks[s])
		}
		m.Blocks[s] = blocks[s]
		for i := 0; i < blocks[s]; i++ {
			stride := 1
			if i == 0 {
				stride = stageStrides[s]
			}
			ibn := s == IBNStage && i == blocks[s]-1
			blk, err := NewBasicBlock(scaled(width, base), scaled(width, stageWidths[s]), stride, ibn)
			if err != nil {
				return nil, fmt.Errorf("stage %d block %d: %w", s+1, i, err)
			}
			m.Stages[s] = append(m.Stages[s], blk)
			mods = append(mods, blk)
			base = stageWidths[s]
		}
	}

	m.HeadConv = layers.NewConv2D(scaled(width, stageWidths[3]), head, 1, 1, 1, 0, 0)
	m.HeadBN = layers.NewBatchNorm2D(head)
	m.Pool = layers.NewAvgPool2D(poolSize)
	mods = append(mods, m.HeadConv, m.HeadBN, layers.NewReLU(), m.Pool, layers.NewFlatten())
	m.trunk = nn.NewSequential(mods...)

	m.FC = layers.NewLinear(head, numClasses, false, nil)
	m.net = nn.NewSequential(m.trunk, m.FC)

	InitWeights(m.net, nn.NewInitializer(seed))
	return m, nil
}

// InitWeights draws conv weights from N(0, 2/(kh·kw·out)), conv biases from
// U(±1/√fanIn) and linear weights Kaiming-normal with zero bias.
// Normalization layers keep weight 1 and bias 0.
func InitWeights(root nn.Module, ini *nn.Initializer) {
	nn.Walk(root, func(mod nn.Module) {
		switch l := mod.(type) {
		case *layers.Conv2D:
			kh, kw := l.KernelSize()
			ini.ConvNormal(l.W, kh, kw, l.OutChannels())
			ini.FanInUniform(l.B, l.InChannels()*kh*kw)
		case *layers.Linear:
			ini.KaimingNormal(l.W, l.InDim())
			l.B.Fill(0)
		}
	})
}

// Forward maps (N, 3, 32, 32) images to (N, NumClasses) logits.
func (m *SqueezeNext) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return nn.ForwardTensor(m.net, x)
}

// Features returns the pooled, flattened trunk output (N, FeatureDim()).
func (m *SqueezeNext) Features(x *tensor.Tensor) (*tensor.Tensor, error) {
	return nn.ForwardTensor(m.trunk, x)
}

// Backward propagates dL/dlogits through the network after a Forward call
// and returns dL/dinput. Parameter gradients are left in Params().
func (m *SqueezeNext) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	return nn.BackwardTensor(m.net, gradOut)
}

// Update applies one SGD step to every parameter.
func (m *SqueezeNext) Update(lr float64) error { return m.net.Update(lr) }

// SetTraining toggles batch statistics for every BatchNorm2D.
func (m *SqueezeNext) SetTraining(training bool) { nn.SetTraining(m.net, training) }

func (m *SqueezeNext) Classifier() *layers.Linear { return m.FC }

// Trunk is every module before the classifier.
func (m *SqueezeNext) Trunk() *nn.Sequential { return m.trunk }

func (m *SqueezeNext) FeatureDim() int { return m.FC.InDim() }

// Params lists parameters in forward order with dotted names such as
// "stage1.block0.main.0.weight".
func (m *SqueezeNext) Params() []nn.Param {
	var ps []nn.Param
	ps = append(ps, nn.PrefixParams("stem.conv", m.StemConv.Params())...)
	ps = append(ps, nn.PrefixParams("stem.bn", m.StemBN.Params())...)
	for s, stage := range m.Stages {
		for i, blk := range stage {
			ps = append(ps, nn.PrefixParams(fmt.Sprintf("stage%d.block%d", s+1, i), blk.Params())...)
		}
	}
	ps = append(ps, nn.PrefixParams("head.conv", m.HeadConv.Params())...)
	ps = append(ps, nn.PrefixParams("head.bn", m.HeadBN.Params())...)
	return append(ps, nn.PrefixParams("classifier", m.FC.Params())...)
}

// NumParams counts learnable scalars.
func (m *SqueezeNext) NumParams() int {
	n := 0
	for _, p := range m.Params() {
		n += len(p.Value.Data)
	}
	return n
}

// AllBlocks returns the blocks of all stages in order.
func (m *SqueezeNext) AllBlocks() []*BasicBlock {
	var out []*BasicBlock
	for _, stage := range m.Stages {
		out = append(out, stage...)
	}
	return out
}
