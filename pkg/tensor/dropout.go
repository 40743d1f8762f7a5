package tensor

import (
	"github.com/pkg/errors"
)

// UniformSource yields uniformly distributed values in [0, 1).
// *rand.Rand from golang.org/x/exp/rand (and math/rand) satisfies it.
type UniformSource interface {
	Float32() float32
}

// Dropout randomly zeros out elements with probability p during training and
// rescales the kept elements by 1/(1-p) (inverted dropout).
// During inference (training=false) or with p == 0, returns an unchanged copy.
//
// Parameters:
//   - p: dropout probability, in [0, 1)
//   - training: if true, apply dropout; if false, return input unchanged
//   - src: random source drawing the keep/drop decision for each element
func (t *Tensor) Dropout(p float32, training bool, src UniformSource) (*Tensor, error) {
	if p < 0 || p >= 1 {
		return nil, errors.Errorf("dropout probability must be in [0, 1), got %g", p)
	}
	if !training || p == 0 {
		return t.Clone(), nil
	}
	if src == nil {
		return nil, errors.New("dropout in training mode requires a random source")
	}

	result := NewTensor(t.Shape)
	scale := 1 / (1 - p)
	for i, v := range t.Data {
		if src.Float32() >= p {
			result.Data[i] = v * scale
		}
	}
	return result, nil
}
