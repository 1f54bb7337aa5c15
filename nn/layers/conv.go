package layers

import (
	"fmt"

	"sqnxt/tensor"
)

// Conv2D is a 2D convolutional layer with bias, a square stride and
// per-axis zero padding. Kernels may be rectangular (1x3, 3x1).
type Conv2D struct {
	// Layer parameters
	inChan, outChan int // number of input/output channels
	kh, kw          int // kernel height and width
	stride          int
	padH, padW      int

	W *tensor.Tensor // weights: [outChan, inChan, kh, kw]
	B *tensor.Tensor // bias: [outChan]

	// Cached input for backward pass
	lastInput *tensor.Tensor

	// Gradient storage
	gradW *tensor.Tensor
	gradB *tensor.Tensor
}

// NewConv2D creates a new Conv2D layer.
func NewConv2D(inChan, outChan, kh, kw, stride, padH, padW int) *Conv2D {
	if stride < 1 {
		stride = 1
	}
	return &Conv2D{
		inChan:  inChan,
		outChan: outChan,
		kh:      kh,
		kw:      kw,
		stride:  stride,
		padH:    padH,
		padW:    padW,
		W:       tensor.New(outChan, inChan, kh, kw),
		B:       tensor.New(outChan),
		gradW:   tensor.New(outChan, inChan, kh, kw),
		gradB:   tensor.New(outChan),
	}
}

func (c *Conv2D) InChannels() int  { return c.inChan }
func (c *Conv2D) OutChannels() int { return c.outChan }
func (c *Conv2D) Stride() int      { return c.stride }

// KernelSize returns (kh, kw).
func (c *Conv2D) KernelSize() (int, int) { return c.kh, c.kw }

// Padding returns (padH, padW).
func (c *Conv2D) Padding() (int, int) { return c.padH, c.padW }

// GetOutputShape returns the output dimensions for given input dimensions.
func (c *Conv2D) GetOutputShape(inH, inW int) (outH, outW int) {
	outH = (inH+2*c.padH-c.kh)/c.stride + 1
	outW = (inW+2*c.padW-c.kw)/c.stride + 1
	return outH, outW
}

// ForwardPlain performs the forward pass on an NCHW tensor.
func (c *Conv2D) ForwardPlain(input *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, inChan, height, width, err := input.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Tag(), err)
	}
	if inChan != c.inChan {
		return nil, fmt.Errorf("%s: expected %d input channels, got %d", c.Tag(), c.inChan, inChan)
	}
	outHeight, outWidth := c.GetOutputShape(height, width)
	if outHeight < 1 || outWidth < 1 {
		return nil, fmt.Errorf("%s: input %dx%d too small", c.Tag(), height, width)
	}

	output := tensor.New(batchSize, c.outChan, outHeight, outWidth)
	c.lastInput = input

	inPlane := height * width
	outPlane := outHeight * outWidth
	for b := 0; b < batchSize; b++ {
		for oc := 0; oc < c.outChan; oc++ {
			out := output.Data[(b*c.outChan+oc)*outPlane : (b*c.outChan+oc+1)*outPlane]
			bias := c.B.Data[oc]
			for i := range out {
				out[i] = bias
			}
			for ic := 0; ic < c.inChan; ic++ {
				in := input.Data[(b*c.inChan+ic)*inPlane : (b*c.inChan+ic+1)*inPlane]
				for dy := 0; dy < c.kh; dy++ {
					for dx := 0; dx < c.kw; dx++ {
						w := c.W.Data[((oc*c.inChan+ic)*c.kh+dy)*c.kw+dx]
						if w == 0 {
							continue
						}
						for oy := 0; oy < outHeight; oy++ {
							iy := oy*c.stride - c.padH + dy
							if iy < 0 || iy >= height {
								continue
							}
							row := in[iy*width : (iy+1)*width]
							orow := out[oy*outWidth : (oy+1)*outWidth]
							for ox := range orow {
								ix := ox*c.stride - c.padW + dx
								if ix < 0 || ix >= width {
									continue
								}
								orow[ox] += w * row[ix]
							}
						}
					}
				}
			}
		}
	}

	return output, nil
}

// BackwardPlain computes weight, bias and input gradients for the last
// ForwardPlain call. Gradients are sums over the batch.
func (c *Conv2D) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastInput == nil {
		return nil, errNoForward(c.Tag())
	}
	batchSize, outChan, outHeight, outWidth, err := gradOut.Dims4()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Tag(), err)
	}
	_, _, height, width, _ := c.lastInput.Dims4()
	wantH, wantW := c.GetOutputShape(height, width)
	if outChan != c.outChan || outHeight != wantH || outWidth != wantW || batchSize != c.lastInput.Shape[0] {
		return nil, errShape(c.Tag(), gradOut.Shape, []int{c.lastInput.Shape[0], c.outChan, wantH, wantW})
	}

	c.gradW.Fill(0)
	c.gradB.Fill(0)
	inputGrad := tensor.New(c.lastInput.Shape...)

	inPlane := height * width
	outPlane := outHeight * outWidth
	for b := 0; b < batchSize; b++ {
		for oc := 0; oc < c.outChan; oc++ {
			g := gradOut.Data[(b*c.outChan+oc)*outPlane : (b*c.outChan+oc+1)*outPlane]
			for _, v := range g {
				c.gradB.Data[oc] += v
			}
			for ic := 0; ic < c.inChan; ic++ {
				base := (b*c.inChan + ic) * inPlane
				in := c.lastInput.Data[base : base+inPlane]
				gin := inputGrad.Data[base : base+inPlane]
				for dy := 0; dy < c.kh; dy++ {
					for dx := 0; dx < c.kw; dx++ {
						wIdx := ((oc*c.inChan+ic)*c.kh+dy)*c.kw + dx
						w := c.W.Data[wIdx]
						sum := 0.0
						for oy := 0; oy < outHeight; oy++ {
							iy := oy*c.stride - c.padH + dy
							if iy < 0 || iy >= height {
								continue
							}
							for ox := 0; ox < outWidth; ox++ {
								ix := ox*c.stride - c.padW + dx
								if ix < 0 || ix >= width {
									continue
								}
								gv := g[oy*outWidth+ox]
								sum += gv * in[iy*width+ix]
								gin[iy*width+ix] += w * gv
							}
						}
						c.gradW.Data[wIdx] += sum
					}
				}
			}
		}
	}

	return inputGrad, nil
}

// UpdatePlain updates parameters using plaintext gradients.
func (c *Conv2D) UpdatePlain(lr float64) error {
	return sgd(lr, c.Params()...)
}

// Params returns weight and bias with their gradients.
func (c *Conv2D) Params() []Param {
	return []Param{
		{Name: "weight", Value: c.W, Grad: c.gradW},
		{Name: "bias", Value: c.B, Grad: c.gradB},
	}
}

func (c *Conv2D) Forward(input interface{}) (interface{}, error) {
	x, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return c.ForwardPlain(x)
}

func (c *Conv2D) Backward(gradOut interface{}) (interface{}, error) {
	g, err := asTensor(gradOut)
	if err != nil {
		return nil, err
	}
	return c.BackwardPlain(g)
}

func (c *Conv2D) Update(learningRate float64) error { return c.UpdatePlain(learningRate) }
func (c *Conv2D) Encrypted() bool                  { return false }
func (c *Conv2D) Levels() int                      { return 0 }

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D_%d_%d_%dx%d_s%d", c.inChan, c.outChan, c.kh, c.kw, c.stride)
}
