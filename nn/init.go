package nn

import (
	"math"

	"sqnxt/tensor"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer fills parameter tensors from a seeded source so that two
// networks built with the same seed are identical.
type Initializer struct {
	src rand.Source
}

func NewInitializer(seed uint64) *Initializer {
	return &Initializer{src: rand.NewSource(seed)}
}

// Normal fills t with draws from N(0, std²).
func (in *Initializer) Normal(t *tensor.Tensor, std float64) {
	dist := distuv.Normal{Mu: 0, Sigma: std, Src: in.src}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

// Uniform fills t with draws from U(-bound, bound).
func (in *Initializer) Uniform(t *tensor.Tensor, bound float64) {
	if bound <= 0 {
		t.Fill(0)
		return
	}
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: in.src}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

// ConvNormal draws conv weights from N(0, 2/(kh·kw·outChannels)).
func (in *Initializer) ConvNormal(w *tensor.Tensor, kh, kw, outChannels int) {
	in.Normal(w, math.Sqrt(2/float64(kh*kw*outChannels)))
}

// FanInUniform draws from U(±1/√fanIn), the default bias init of a conv or
// linear layer.
func (in *Initializer) FanInUniform(t *tensor.Tensor, fanIn int) {
	if fanIn < 1 {
		t.Fill(0)
		return
	}
	in.Uniform(t, 1/math.Sqrt(float64(fanIn)))
}

// KaimingNormal draws from N(0, 2/fanIn).
func (in *Initializer) KaimingNormal(w *tensor.Tensor, fanIn int) {
	in.Normal(w, math.Sqrt(2/float64(fanIn)))
}
