package layers

import (
	"fmt"

	"sqnxt/core/ckkswrapper"
	"sqnxt/tensor"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"gonum.org/v1/gonum/mat"
)

// LinearHELevels is the multiplicative depth of ForwardCipher: one
// plaintext product and one slot mask.
const LinearHELevels = 2

// Linear is a fully-connected layer y = x·Wᵀ + B on [N, inDim] inputs.
// When encrypted it evaluates the same map on a CKKS ciphertext holding
// one feature vector, with W and B kept in plaintext.
type Linear struct {
	// plaintext params
	W, B *tensor.Tensor // W: [outDim, inDim], B: [outDim]

	gradW, gradB *tensor.Tensor
	lastInput    *tensor.Tensor

	// HE params
	encrypted bool
	heCtx     *ckkswrapper.HeContext
	serverKit *ckkswrapper.ServerKit
	weightPTs []*rlwe.Plaintext // row j of W, encoded at max level
	maskPTs   map[int]*rlwe.Plaintext
}

// NewLinear(inDim→outDim, encrypted, heCtx) sets up W,B and, when
// encrypted, the rotation keys ForwardCipher needs.
func NewLinear(inDim, outDim int, encrypted bool, heCtx *ckkswrapper.HeContext) *Linear {
	l := &Linear{
		W:     tensor.New(outDim, inDim),
		B:     tensor.New(outDim),
		gradW: tensor.New(outDim, inDim),
		gradB: tensor.New(outDim),
		heCtx: heCtx,
	}
	if encrypted {
		l.EnableEncrypted(true)
	}
	return l
}

func (l *Linear) InDim() int  { return l.W.Shape[1] }
func (l *Linear) OutDim() int { return l.W.Shape[0] }

// Rotations lists the Galois rotations ForwardCipher uses: powers of two
// for the slot tree-sum, negative steps to place output j in slot j.
func (l *Linear) Rotations() []int {
	inDim, outDim := l.InDim(), l.OutDim()
	rots := []int{}
	for step := 1; step < inDim; step *= 2 {
		rots = append(rots, step)
	}
	for j := 1; j < outDim; j++ {
		rots = append(rots, -j)
	}
	return rots
}

// EnableEncrypted switches the layer between encrypted and plaintext mode.
func (l *Linear) EnableEncrypted(encrypted bool) {
	l.encrypted = encrypted
	if encrypted && l.heCtx != nil && l.serverKit == nil {
		l.serverKit = l.heCtx.GenServerKit(l.Rotations())
	}
}

// SetServerKit installs externally generated evaluation keys.
func (l *Linear) SetServerKit(kit *ckkswrapper.ServerKit) {
	l.serverKit = kit
	l.encrypted = kit != nil
}

// SyncHE encodes the rows of W as plaintexts. Call after changing W.
func (l *Linear) SyncHE() error {
	if !l.encrypted {
		return nil
	}
	if l.serverKit == nil {
		return fmt.Errorf("%s: encrypted layer has no server kit", l.Tag())
	}
	params := l.serverKit.Params
	inDim, outDim := l.InDim(), l.OutDim()
	slots := params.MaxSlots()
	if inDim > slots || outDim > slots {
		return fmt.Errorf("%s: dimensions exceed %d slots", l.Tag(), slots)
	}
	level := params.MaxLevel()
	l.weightPTs = make([]*rlwe.Plaintext, outDim)
	for j := 0; j < outDim; j++ {
		wrow := make([]complex128, slots)
		for i := 0; i < inDim; i++ {
			wrow[i] = complex(l.W.Data[j*inDim+i], 0)
		}
		pt := ckks.NewPlaintext(params, level)
		pt.Scale = rlwe.NewScale(float64(params.Q()[level]))
		if err := l.serverKit.Encoder.Encode(wrow, pt); err != nil {
			return fmt.Errorf("%s: encode row %d: %w", l.Tag(), j, err)
		}
		l.weightPTs[j] = pt
	}
	l.maskPTs = make(map[int]*rlwe.Plaintext)
	return nil
}

// slot0Mask returns the one-hot 〈1,0,0,…〉 plaintext for the given level,
// scaled so that the following rescale restores the ciphertext scale.
func (l *Linear) slot0Mask(level int) (*rlwe.Plaintext, error) {
	if pt, ok := l.maskPTs[level]; ok {
		return pt, nil
	}
	params := l.serverKit.Params
	mvec := make([]complex128, params.MaxSlots())
	mvec[0] = 1
	pt := ckks.NewPlaintext(params, level)
	pt.Scale = rlwe.NewScale(float64(params.Q()[level]))
	if err := l.serverKit.Encoder.Encode(mvec, pt); err != nil {
		return nil, err
	}
	l.maskPTs[level] = pt
	return pt, nil
}

func (l *Linear) mulRescale(eval *ckks.Evaluator, ct *rlwe.Ciphertext, pt *rlwe.Plaintext) (*rlwe.Ciphertext, error) {
	tmp, err := eval.MulNew(ct, pt)
	if err != nil {
		return nil, err
	}
	out := rlwe.NewCiphertext(l.serverKit.Params, tmp.Degree(), tmp.Level()-1)
	if err := eval.Rescale(tmp, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ForwardCipher returns Enc(W·x + B) with logits in slots [0, outDim),
// given Enc(x) with x in slots [0, inDim) and zeros elsewhere.
func (l *Linear) ForwardCipher(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	if !l.encrypted {
		return nil, fmt.Errorf("ForwardCipher on plaintext layer")
	}
	if l.weightPTs == nil {
		return nil, fmt.Errorf("%s: SyncHE has not been called", l.Tag())
	}
	if err := ckkswrapper.CheckLevel(ct, LinearHELevels); err != nil {
		return nil, fmt.Errorf("%s: %w", l.Tag(), err)
	}
	eval := l.serverKit.GetWorkerEvaluator()
	inDim := l.InDim()

	var acc *rlwe.Ciphertext
	for j, wpt := range l.weightPTs {
		// (1) x ⊙ w_j, rescaled
		prod, err := l.mulRescale(eval, ct, wpt)
		if err != nil {
			return nil, err
		}
		// (2) tree-sum so slot 0 holds the dot product
		for step := 1; step < inDim; step *= 2 {
			rot, err := eval.RotateNew(prod, step)
			if err != nil {
				return nil, err
			}
			if prod, err = eval.AddNew(prod, rot); err != nil {
				return nil, err
			}
		}
		// (3) keep slot 0 only
		mask, err := l.slot0Mask(prod.Level())
		if err != nil {
			return nil, err
		}
		dot, err := l.mulRescale(eval, prod, mask)
		if err != nil {
			return nil, err
		}
		// (4) move it to slot j
		if j > 0 {
			if dot, err = eval.RotateNew(dot, -j); err != nil {
				return nil, err
			}
		}
		if acc == nil {
			acc = dot
		} else if acc, err = eval.AddNew(acc, dot); err != nil {
			return nil, err
		}
	}

	// Add bias at the result's level and scale
	params := l.serverKit.Params
	bvec := make([]complex128, params.MaxSlots())
	for j := range l.weightPTs {
		bvec[j] = complex(l.B.Data[j], 0)
	}
	bpt := ckks.NewPlaintext(params, acc.Level())
	bpt.Scale = acc.Scale
	if err := l.serverKit.Encoder.Encode(bvec, bpt); err != nil {
		return nil, err
	}
	return eval.AddNew(acc, bpt)
}

// ForwardPlaintext computes y = x·Wᵀ + B for x of shape [N, inDim].
func (l *Linear) ForwardPlaintext(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 1 {
		x = &tensor.Tensor{Data: x.Data, Shape: []int{1, x.Shape[0]}}
	}
	if len(x.Shape) != 2 || x.Shape[1] != l.InDim() {
		return nil, fmt.Errorf("%s: expected [N, %d] input, got %v", l.Tag(), l.InDim(), x.Shape)
	}
	l.lastInput = x
	y, err := tensor.MatMulTransB(x, l.W)
	if err != nil {
		return nil, err
	}
	outDim := l.OutDim()
	for n := 0; n < y.Shape[0]; n++ {
		row := y.Data[n*outDim : (n+1)*outDim]
		for j := range row {
			row[j] += l.B.Data[j]
		}
	}
	return y, nil
}

// BackwardPlain returns dL/dx and stores dL/dW = gᵀ·x and dL/dB = Σ_n g.
func (l *Linear) BackwardPlain(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.lastInput == nil {
		return nil, errNoForward(l.Tag())
	}
	n, outDim, inDim := l.lastInput.Shape[0], l.OutDim(), l.InDim()
	if len(gradOut.Shape) != 2 || gradOut.Shape[0] != n || gradOut.Shape[1] != outDim {
		return nil, errShape(l.Tag(), gradOut.Shape, []int{n, outDim})
	}
	l.gradB.Fill(0)
	for b := 0; b < n; b++ {
		for j := 0; j < outDim; j++ {
			l.gradB.Data[j] += gradOut.Data[b*outDim+j]
		}
	}
	if n > 0 {
		G := mat.NewDense(n, outDim, gradOut.Data)
		X := mat.NewDense(n, inDim, l.lastInput.Data)
		gw := mat.NewDense(outDim, inDim, l.gradW.Data)
		gw.Mul(G.T(), X)
	}
	return tensor.MatMul(gradOut, l.W)
}

// Forward processes the input through the layer.
// It accepts either a *tensor.Tensor or an *rlwe.Ciphertext.
func (l *Linear) Forward(input interface{}) (interface{}, error) {
	if l.encrypted {
		ctInput, ok := input.(*rlwe.Ciphertext)
		if !ok {
			return nil, fmt.Errorf("encrypted layer expects *rlwe.Ciphertext input")
		}
		return l.ForwardCipher(ctInput)
	}
	ptInput, err := asTensor(input)
	if err != nil {
		return nil, err
	}
	return l.ForwardPlaintext(ptInput)
}

func (l *Linear) Backward(gradOut interface{}) (interface{}, error) {
	if l.encrypted {
		return nil, fmt.Errorf("%s: backward is plaintext only", l.Tag())
	}
	g, err := asTensor(gradOut)
	if err != nil {
		return nil, err
	}
	return l.BackwardPlain(g)
}

func (l *Linear) Params() []Param {
	return []Param{
		{Name: "weight", Value: l.W, Grad: l.gradW},
		{Name: "bias", Value: l.B, Grad: l.gradB},
	}
}

func (l *Linear) Update(learningRate float64) error {
	if l.encrypted {
		return nil
	}
	return sgd(learningRate, l.Params()...)
}

func (l *Linear) Levels() int {
	if l.encrypted {
		return LinearHELevels
	}
	return 0
}

func (l *Linear) Encrypted() bool { return l.encrypted }

func (l *Linear) Tag() string {
	return fmt.Sprintf("Linear_%d_%d", l.InDim(), l.OutDim())
}
