package layers

import (
	"fmt"
	"math"

	"sqnxt/tensor"

	"gonum.org/v1/gonum/stat"
)

// InstanceNorm2D normalizes every (sample, channel) plane independently and
// applies a learnable per-channel affine transform. It keeps no running
// statistics, so training and eval behave the same.
type InstanceNorm2D struct {
	numFeatures int
	eps         float64

	Gamma *tensor.Tensor
	Beta  *tensor.Tensor

	gradGamma *tensor.Tensor
	gradBeta  *tensor.Tensor

	xhat   *tensor.Tensor
	invStd []float64 // [n*c]
}

func NewInstanceNorm2D(numFeatures int) *InstanceNorm2D {
	in := &InstanceNorm2D{
		numFeatures: numFeatures,
		eps:         DefaultNormEps,
		Gamma:       tensor.New(numFeatures),
		Beta:        tensor.New(numFeatures),
		gradGamma:   tensor.New(numFeatures),
		gradBeta:    tensor.New(numFeatures),
	}
	in.Gamma.Fill(1)
	return in
}

func (in *InstanceNorm2D) NumFeatures() int { return in.numFeatures }

// ForwardPlain normalizes each (sample, channel) plane. Planes with fewer
// than 2 elements are rejected in both modes, since the layer keeps no
// running statistics to fall back on.
func (in *InstanceNorm2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Tag(), err)
	}
	if c != in.numFeatures {
		return nil, fmt.Errorf("%s: expected %d channels, got %d", in.Tag(), in.numFeatures, c)
	}
	plane := h * w
	if plane < 2 {
		return nil, fmt.Errorf("%s: expected more than 1 spatial element, got input shape %v", in.Tag(), x.Shape)
	}
	out := tensor.New(x.Shape...)
	in.xhat = tensor.New(x.Shape...)
	in.invStd = make([]float64, n*c)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			base := (i*c + ch) * plane
			src := x.Data[base : base+plane]
			mean, variance := stat.PopMeanVariance(src, nil)
			inv := 1 / math.Sqrt(variance+in.eps)
			in.invStd[i*c+ch] = inv
			g, be := in.Gamma.Data[ch], in.Beta.Data[ch]
			for j, v := range src {
				xh := (v - mean) * inv
				in.xhat.Data[base+j] = xh
				out.Data[base+j] = g*xh + be
			}
		}
	}
	return out, nil
}

func (in *InstanceNorm2D) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if in.xhat == nil {
		return nil, errNoForward(in.Tag())
	}
	if !tensor.SameShape(gradOut, in.xhat) {
		return nil, errShape(in.Tag(), gradOut.Shape, in.xhat.Shape)
	}
	n, c, h, w, _ := gradOut.Dims4()
	plane := h * w
	m := float64(plane)
	in.gradGamma.Fill(0)
	in.gradBeta.Fill(0)
	gradIn := tensor.New(gradOut.Shape...)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			base := (i*c + ch) * plane
			dy := gradOut.Data[base : base+plane]
			xh := in.xhat.Data[base : base+plane]
			var sumDy, sumDyXhat float64
			for j := range dy {
				sumDy += dy[j]
				sumDyXhat += dy[j] * xh[j]
			}
			in.gradGamma.Data[ch] += sumDyXhat
			in.gradBeta.Data[ch] += sumDy
			scale := in.Gamma.Data[ch] * in.invStd[i*c+ch] / m
			for j := range dy {
				gradIn.Data[base+j] = scale * (m*dy[j] - sumDy - xh[j]*sumDyXhat)
			}
		}
	}
	return gradIn, nil
}

func (in *InstanceNorm2D) Params() []Param {
	return []Param{
		{Name: "weight", Value: in.Gamma, Grad: in.gradGamma},
		{Name: "bias", Value: in.Beta, Grad: in.gradBeta},
	}
}

func (in *InstanceNorm2D) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return in.ForwardPlain(x)
}

func (in *InstanceNorm2D) Backward(gradOut interface{}) (interface{}, error) {
	g, err := asTensor(gradOut)
	if err != nil {
		return nil, err
	}
	return in.BackwardPlain(g)
}

func (in *InstanceNorm2D) Update(lr float64) error { return sgd(lr, in.Params()...) }
func (in *InstanceNorm2D) Encrypted() bool         { return false }
func (in *InstanceNorm2D) Levels() int             { return 0 }
func (in *InstanceNorm2D) Tag() string             { return fmt.Sprintf("InstanceNorm2D_%d", in.numFeatures) }
