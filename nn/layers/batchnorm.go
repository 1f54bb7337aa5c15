package layers

import (
	"fmt"
	"math"

	"sqnxt/tensor"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultNormEps    = 1e-5
	DefaultBNMomentum = 0.1
)

// BatchNorm2D normalizes each channel over the batch and spatial axes.
// In training mode it uses batch statistics and updates running estimates;
// in eval mode it uses the running estimates.
type BatchNorm2D struct {
	numFeatures int
	eps         float64
	momentum    float64
	training    bool

	Gamma *tensor.Tensor // [C], initialised to 1
	Beta  *tensor.Tensor // [C], initialised to 0

	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor

	gradGamma *tensor.Tensor
	gradBeta  *tensor.Tensor

	// saved for backward
	xhat     *tensor.Tensor
	invStd   []float64
	lastMode bool
}

// NewBatchNorm2D creates a batch norm over numFeatures channels with
// gamma=1, beta=0, running mean 0 and running variance 1.
func NewBatchNorm2D(numFeatures int) *BatchNorm2D {
	b := &BatchNorm2D{
		numFeatures: numFeatures,
		eps:         DefaultNormEps,
		momentum:    DefaultBNMomentum,
		training:    true,
		Gamma:       tensor.New(numFeatures),
		Beta:        tensor.New(numFeatures),
		RunningMean: tensor.New(numFeatures),
		RunningVar:  tensor.New(numFeatures),
		gradGamma:   tensor.New(numFeatures),
		gradBeta:    tensor.New(numFeatures),
	}
	b.Gamma.Fill(1)
	b.RunningVar.Fill(1)
	return b
}

func (b *BatchNorm2D) NumFeatures() int { return b.numFeatures }

// SetTraining switches between batch statistics (true) and running statistics (false).
func (b *BatchNorm2D) SetTraining(training bool) { b.training = training }

func (b *BatchNorm2D) Training() bool { return b.training }

func (b *BatchNorm2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	n, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Tag(), err)
	}
	if c != b.numFeatures {
		return nil, fmt.Errorf("%s: expected %d channels, got %d", b.Tag(), b.numFeatures, c)
	}
	plane := h * w
	count := n * plane
	if b.training && count < 2 {
		return nil, fmt.Errorf("%s: expected more than 1 value per channel when training, got input shape %v", b.Tag(), x.Shape)
	}

	out := tensor.New(x.Shape...)
	b.xhat = tensor.New(x.Shape...)
	b.invStd = make([]float64, c)
	b.lastMode = b.training

	buf := make([]float64, count)
	for ch := 0; ch < c; ch++ {
		var mean, variance float64
		if b.training {
			for i := 0; i < n; i++ {
				copy(buf[i*plane:(i+1)*plane], x.Data[(i*c+ch)*plane:(i*c+ch+1)*plane])
			}
			mean, variance = stat.PopMeanVariance(buf, nil)
			unbiased := variance * float64(count) / float64(count-1)
			b.RunningMean.Data[ch] = (1-b.momentum)*b.RunningMean.Data[ch] + b.momentum*mean
			b.RunningVar.Data[ch] = (1-b.momentum)*b.RunningVar.Data[ch] + b.momentum*unbiased
		} else {
			mean, variance = b.RunningMean.Data[ch], b.RunningVar.Data[ch]
		}
		inv := 1 / math.Sqrt(variance+b.eps)
		b.invStd[ch] = inv
		g, be := b.Gamma.Data[ch], b.Beta.Data[ch]
		for i := 0; i < n; i++ {
			base := (i*c + ch) * plane
			for j := 0; j < plane; j++ {
				xh := (x.Data[base+j] - mean) * inv
				b.xhat.Data[base+j] = xh
				out.Data[base+j] = g*xh + be
			}
		}
	}
	return out, nil
}

func (b *BatchNorm2D) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if b.xhat == nil {
		return nil, errNoForward(b.Tag())
	}
	if !tensor.SameShape(gradOut, b.xhat) {
		return nil, errShape(b.Tag(), gradOut.Shape, b.xhat.Shape)
	}
	n, c, h, w, _ := gradOut.Dims4()
	plane := h * w
	m := float64(n * plane)
	gradIn := tensor.New(gradOut.Shape...)
	for ch := 0; ch < c; ch++ {
		var sumDy, sumDyXhat float64
		for i := 0; i < n; i++ {
			base := (i*c + ch) * plane
			for j := 0; j < plane; j++ {
				dy := gradOut.Data[base+j]
				sumDy += dy
				sumDyXhat += dy * b.xhat.Data[base+j]
			}
		}
		b.gradGamma.Data[ch] = sumDyXhat
		b.gradBeta.Data[ch] = sumDy

		scale := b.Gamma.Data[ch] * b.invStd[ch]
		for i := 0; i < n; i++ {
			base := (i*c + ch) * plane
			for j := 0; j < plane; j++ {
				dy := gradOut.Data[base+j]
				if b.lastMode {
					gradIn.Data[base+j] = scale / m * (m*dy - sumDy - b.xhat.Data[base+j]*sumDyXhat)
				} else {
					gradIn.Data[base+j] = scale * dy
				}
			}
		}
	}
	return gradIn, nil
}

func (b *BatchNorm2D) Params() []Param {
	return []Param{
		{Name: "weight", Value: b.Gamma, Grad: b.gradGamma},
		{Name: "bias", Value: b.Beta, Grad: b.gradBeta},
	}
}

func (b *BatchNorm2D) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return b.ForwardPlain(x)
}

func (b *BatchNorm2D) Backward(gradOut interface{}) (interface{}, error) {
	g, err := asTensor(gradOut)
	if err != nil {
		return nil, err
	}
	return b.BackwardPlain(g)
}

func (b *BatchNorm2D) Update(lr float64) error { return sgd(lr, b.Params()...) }
func (b *BatchNorm2D) Encrypted() bool         { return false }
func (b *BatchNorm2D) Levels() int             { return 0 }
func (b *BatchNorm2D) Tag() string             { return fmt.Sprintf("BatchNorm2D_%d", b.numFeatures) }
