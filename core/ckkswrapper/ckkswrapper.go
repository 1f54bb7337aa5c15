// Package ckkswrapper owns the CKKS key material used by split inference.
// The HeContext stays with the party that holds the secret key; a
// ServerKit carries only public evaluation keys and is what the
// classifier-evaluating side receives.
package ckkswrapper

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// DefaultLogN is the ring degree used by NewHeContext.
const DefaultLogN = 13

// HeContext bundles parameters, keys and the client-side codec objects.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor

	kgen *rlwe.KeyGenerator
	sk   *rlwe.SecretKey
	pk   *rlwe.PublicKey
	rlk  *rlwe.RelinearizationKey
}

// ServerKit is an evaluator plus encoder built from public evaluation keys.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator
	Rotations []int
}

// Literal returns the parameter literal for a ring of degree 2^logN.
// Three 38-bit levels above a 45-bit base prime leave room for one
// plaintext multiplication and one masking step with margin.
func Literal(logN int) ckks.ParametersLiteral {
	return ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            []int{45, 38, 38, 38},
		LogP:            []int{45},
		LogDefaultScale: 38,
	}
}

// NewHeContext creates a context with DefaultLogN.
func NewHeContext() *HeContext {
	return NewHeContextWithLogN(DefaultLogN)
}

// NewHeContextWithLogN creates a context and panics on invalid parameters.
func NewHeContextWithLogN(logN int) *HeContext {
	h, err := NewHeContextFromLiteral(Literal(logN))
	if err != nil {
		panic(err)
	}
	return h
}

// NewHeContextFromLiteral generates fresh keys for the given parameters.
func NewHeContextFromLiteral(lit ckks.ParametersLiteral) (*HeContext, error) {
	params, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("ckks parameters: %w", err)
	}
	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: rlwe.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		kgen:      kgen,
		sk:        sk,
		pk:        pk,
		rlk:       kgen.GenRelinearizationKeyNew(sk),
	}, nil
}

// GenServerKit generates Galois keys for the given rotation steps and
// returns an evaluator that can apply them. Duplicate steps are ignored.
func (h *HeContext) GenServerKit(rotations []int) *ServerKit {
	seen := make(map[int]bool, len(rotations))
	steps := make([]int, 0, len(rotations))
	for _, r := range rotations {
		if r == 0 || seen[r] {
			continue
		}
		seen[r] = true
		steps = append(steps, r)
	}
	galEls := make([]uint64, len(steps))
	for i, r := range steps {
		galEls[i] = h.Params.GaloisElement(r)
	}
	gks := h.kgen.GenGaloisKeysNew(galEls, h.sk)
	evk := rlwe.NewMemEvaluationKeySet(h.rlk, gks...)
	return &ServerKit{
		Params:    h.Params,
		Encoder:   ckks.NewEncoder(h.Params),
		Evaluator: ckks.NewEvaluator(h.Params, evk),
		Rotations: steps,
	}
}

// GetWorkerEvaluator returns an evaluator sharing keys but not buffers,
// safe to use from another goroutine.
func (k *ServerKit) GetWorkerEvaluator() *ckks.Evaluator {
	return k.Evaluator.ShallowCopy()
}

// EncryptVector packs values into the first slots and encrypts at max level.
func (h *HeContext) EncryptVector(values []float64) (*rlwe.Ciphertext, error) {
	slots := h.Params.MaxSlots()
	if len(values) > slots {
		return nil, fmt.Errorf("vector of length %d exceeds %d slots", len(values), slots)
	}
	vec := make([]complex128, slots)
	for i, v := range values {
		vec[i] = complex(v, 0)
	}
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	pt.Scale = h.Params.DefaultScale()
	if err := h.Encoder.Encode(vec, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return h.Encryptor.EncryptNew(pt)
}

// DecryptVector decrypts ct and returns the real parts of the first n slots.
func (h *HeContext) DecryptVector(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	slots := h.Params.MaxSlots()
	if n > slots {
		return nil, fmt.Errorf("requested %d values from %d slots", n, slots)
	}
	pt := h.Decryptor.DecryptNew(ct)
	decoded := make([]complex128, slots)
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = real(decoded[i])
	}
	return out, nil
}

// CheckLevel returns an error when ct has fewer than need levels left.
func CheckLevel(ct *rlwe.Ciphertext, need int) error {
	if ct.Level() < need {
		return fmt.Errorf("ciphertext at level %d, need %d", ct.Level(), need)
	}
	return nil
}
