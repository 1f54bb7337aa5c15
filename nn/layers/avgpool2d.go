package layers

import (
	"fmt"

	"sqnxt/tensor"
)

// AvgPool2D averages non-overlapping p×p windows (kernel = stride = p).
// Trailing rows/columns that do not fill a window are dropped.
type AvgPool2D struct {
	poolSize   int
	inputShape []int
}

func NewAvgPool2D(p int) *AvgPool2D {
	return &AvgPool2D{poolSize: p}
}

func (a *AvgPool2D) PoolSize() int { return a.poolSize }

func (a *AvgPool2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	B, C, H, W, err := x.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Tag(), err)
	}
	p := a.poolSize
	outH, outW := H/p, W/p
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("%s: input %dx%d smaller than pooling window", a.Tag(), H, W)
	}
	a.inputShape = append([]int(nil), x.Shape...)
	out := tensor.New(B, C, outH, outW)
	inv := 1.0 / float64(p*p)
	for b := 0; b < B; b++ {
		for c := 0; c < C; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := 0.0
					for ph := 0; ph < p; ph++ {
						for pw := 0; pw < p; pw++ {
							ih := oh*p + ph
							jw := ow*p + pw
							sum += x.Data[((b*C+c)*H+ih)*W+jw]
						}
					}
					out.Data[((b*C+c)*outH+oh)*outW+ow] = sum * inv
				}
			}
		}
	}
	return out, nil
}

// BackwardPlain spreads each output gradient evenly over its window.
func (a *AvgPool2D) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if a.inputShape == nil {
		return nil, errNoForward(a.Tag())
	}
	B, C, H, W := a.inputShape[0], a.inputShape[1], a.inputShape[2], a.inputShape[3]
	p := a.poolSize
	outH, outW := H/p, W/p
	if want := []int{B, C, outH, outW}; !tensor.SameShape(gradOut, &tensor.Tensor{Shape: want}) {
		return nil, errShape(a.Tag(), gradOut.Shape, want)
	}
	gradIn := tensor.New(a.inputShape...)
	inv := 1.0 / float64(p*p)
	for b := 0; b < B; b++ {
		for c := 0; c < C; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					g := gradOut.Data[((b*C+c)*outH+oh)*outW+ow] * inv
					for ph := 0; ph < p; ph++ {
						for pw := 0; pw < p; pw++ {
							gradIn.Data[((b*C+c)*H+oh*p+ph)*W+ow*p+pw] = g
						}
					}
				}
			}
		}
	}
	return gradIn, nil
}

func (a *AvgPool2D) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return a.ForwardPlain(x)
}

func (a *AvgPool2D) Backward(gradOut interface{}) (interface{}, error) {
	g, err := asTensor(gradOut)
	if err != nil {
		return nil, err
	}
	return a.BackwardPlain(g)
}

func (a *AvgPool2D) Update(float64) error { return nil }
func (a *AvgPool2D) Encrypted() bool      { return false }
func (a *AvgPool2D) Levels() int          { return 0 }

func (a *AvgPool2D) Tag() string {
	return fmt.Sprintf("AvgPool2D_%d", a.poolSize)
}
