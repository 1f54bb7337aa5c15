package models

import (
	"fmt"

	"sqnxt/nn"
	"sqnxt/nn/layers"
)

// ReductionRatio is the bottleneck ratio of a block: 1.0 for downsampling
// blocks, 0.25 when the block narrows the channel count and 0.5 otherwise.
func ReductionRatio(in, out, stride int) float64 {
	switch {
	case stride == 2:
		return 1.0
	case in > out:
		return 0.25
	default:
		return 0.5
	}
}

// BasicBlock is the SqueezeNext unit: a five-conv bottleneck
// (1x1, 1x1, 1x3, 3x1, 1x1) added to an identity or projection shortcut,
// followed by an optional instance norm and a ReLU.
type BasicBlock struct {
	InChannels, OutChannels int
	Stride                  int
	Ratio                   float64
	C1, C2                  int

	Convs [5]*layers.Conv2D
	BNs   [5]*layers.BatchNorm2D

	// nil for the identity shortcut
	ShortcutConv *layers.Conv2D
	ShortcutBN   *layers.BatchNorm2D

	// nil unless the block carries IBN-b
	IN *layers.InstanceNorm2D

	res *nn.ResidualBlock
}

// NewBasicBlock builds a block mapping in channels to out channels.
func NewBasicBlock(in, out, stride int, instanceNorm bool) (*BasicBlock, error) {
	if in < 1 || out < 1 {
		return nil, fmt.Errorf("block %d->%d: channel counts must be positive", in, out)
	}
	if stride < 1 {
		return nil, fmt.Errorf("block %d->%d: invalid stride %d", in, out, stride)
	}
	r := ReductionRatio(in, out, stride)
	c1 := int(float64(in) * r)
	c2 := int(float64(in) * r * 0.5)
	if c1 < 1 || c2 < 1 {
		return nil, fmt.Errorf("block %d->%d: bottleneck width %d/%d too small", in, out, c1, c2)
	}

	b := &BasicBlock{InChannels: in, OutChannels: out, Stride: stride, Ratio: r, C1: c1, C2: c2}
	b.Convs = [5]*layers.Conv2D{
		layers.NewConv2D(in, c1, 1, 1, stride, 0, 0),
		layers.NewConv2D(c1, c2, 1, 1, 1, 0, 0),
		layers.NewConv2D(c2, c1, 1, 3, 1, 0, 1),
		layers.NewConv2D(c1, c1, 3, 1, 1, 1, 0),
		layers.NewConv2D(c1, out, 1, 1, 1, 0, 0),
	}
	main := make([]nn.Module, 0, 14)
	for i, conv := range b.Convs {
		b.BNs[i] = layers.NewBatchNorm2D(conv.OutChannels())
		main = append(main, conv, b.BNs[i])
		if i < 4 {
			main = append(main, layers.NewReLU())
		}
	}

	var shortcut []nn.Module
	if stride != 1 || in != out {
		b.ShortcutConv = layers.NewConv2D(in, out, 1, 1, stride, 0, 0)
		b.ShortcutBN = layers.NewBatchNorm2D(out)
		shortcut = []nn.Module{b.ShortcutConv, b.ShortcutBN}
	}

	var post []nn.Module
	if instanceNorm {
		b.IN = layers.NewInstanceNorm2D(out)
		post = append(post, b.IN)
	}
	post = append(post, layers.NewReLU())

	b.res = nn.NewResidualBlock(main, shortcut, post)
	return b, nil
}

func (b *BasicBlock) IdentityShortcut() bool { return b.ShortcutConv == nil }
func (b *BasicBlock) HasInstanceNorm() bool  { return b.IN != nil }

func (b *BasicBlock) Forward(x interface{}) (interface{}, error)  { return b.res.Forward(x) }
func (b *BasicBlock) Backward(g interface{}) (interface{}, error) { return b.res.Backward(g) }
func (b *BasicBlock) Update(lr float64) error                     { return b.res.Update(lr) }
func (b *BasicBlock) Encrypted() bool                             { return false }
func (b *BasicBlock) Levels() int                                 { return 0 }
func (b *BasicBlock) Modules() []nn.Module                        { return []nn.Module{b.res} }
func (b *BasicBlock) Params() []nn.Param                          { return b.res.Params() }

func (b *BasicBlock) Tag() string {
	s := fmt.Sprintf("BasicBlock_%d_%d_s%d", b.InChannels, b.OutChannels, b.Stride)
	if b.IN != nil {
		s += "_ibn"
	}
	return s
}
