package nn

import (
	"fmt"
	"math"

	"sqnxt/tensor"
)

type CrossEntropyLoss struct{}

// Forward returns the mean softmax cross-entropy of (N, C) logits against
// integer labels.
func (c *CrossEntropyLoss) Forward(logits *tensor.Tensor, labels []int) (float64, error) {
	probs, err := Softmax(logits)
	if err != nil {
		return 0, err
	}
	n, classes := logits.Shape[0], logits.Shape[1]
	if len(labels) != n {
		return 0, fmt.Errorf("cross-entropy: %d labels for batch of %d", len(labels), n)
	}
	loss := 0.0
	for i, y := range labels {
		if y < 0 || y >= classes {
			return 0, fmt.Errorf("cross-entropy: label %d outside [0, %d)", y, classes)
		}
		loss -= math.Log(math.Max(probs.Data[i*classes+y], 1e-300))
	}
	return loss / float64(n), nil
}

// Backward computes the gradient of the mean loss with respect to the logits.
// grad = (softmax_output - one_hot_label) / N
func (c *CrossEntropyLoss) Backward(logits *tensor.Tensor, labels []int) (*tensor.Tensor, error) {
	grad, err := Softmax(logits)
	if err != nil {
		return nil, err
	}
	n, classes := logits.Shape[0], logits.Shape[1]
	if len(labels) != n {
		return nil, fmt.Errorf("cross-entropy: %d labels for batch of %d", len(labels), n)
	}
	for i, y := range labels {
		if y < 0 || y >= classes {
			return nil, fmt.Errorf("cross-entropy: label %d outside [0, %d)", y, classes)
		}
		grad.Data[i*classes+y] -= 1
	}
	for i := range grad.Data {
		grad.Data[i] /= float64(n)
	}
	return grad, nil
}

// Softmax applies the softmax function to each row of (N, C) logits.
func Softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 || logits.Shape[1] == 0 {
		return nil, fmt.Errorf("softmax: expected (N, C) logits, got %v", logits.Shape)
	}
	classes := logits.Shape[1]
	out := tensor.New(logits.Shape...)
	for r := 0; r < logits.Shape[0]; r++ {
		row := logits.Data[r*classes : (r+1)*classes]
		maxLogit := row[0]
		for _, v := range row {
			if v > maxLogit {
				maxLogit = v
			}
		}
		expSum := 0.0
		dst := out.Data[r*classes : (r+1)*classes]
		for i, v := range row {
			dst[i] = math.Exp(v - maxLogit)
			expSum += dst[i]
		}
		for i := range dst {
			dst[i] /= expSum
		}
	}
	return out, nil
}
