package attention

import (
	"github.com/pkg/errors"

	"gomha/pkg/tensor"
)

// maskFill replaces masked-out scores before the softmax. It is large enough
// that exp(maskFill - max) underflows to zero for any realistic score.
const maskFill = -1e9

// CausalMask creates a (seqLen, seqLen) mask with 1s on and below the diagonal
// and 0s above it: query position i may attend to key positions j <= i.
func CausalMask(seqLen int) *tensor.Tensor {
	mask := tensor.NewTensor([]int{seqLen, seqLen})
	for i := 0; i < seqLen; i++ {
		for j := 0; j <= i; j++ {
			mask.Data[i*seqLen+j] = 1
		}
	}
	return mask
}

// PaddingMask creates a (batch, 1, keyLen) mask marking, for each batch
// element b, the key positions >= lengths[b] as invalid.
func PaddingMask(lengths []int, keyLen int) (*tensor.Tensor, error) {
	mask := tensor.NewTensor([]int{len(lengths), 1, keyLen})
	for b, n := range lengths {
		if n < 0 || n > keyLen {
			return nil, errors.Wrapf(ErrShape, "length %d of batch element %d outside [0, %d]", n, b, keyLen)
		}
		for j := 0; j < n; j++ {
			mask.Data[b*keyLen+j] = 1
		}
	}
	return mask, nil
}

// headMask returns mask as a rank-4 view broadcastable against scores of shape
// (batch, heads, queryLen, keyLen).
//
//   - rank 4 is used as given
//   - rank 3 (batch, queryLen|1, keyLen) gets a head axis inserted at 1
//   - rank 2 (queryLen|1, keyLen) is broadcast over batch and heads
func headMask(mask *tensor.Tensor) (*tensor.Tensor, error) {
	switch mask.Rank() {
	case 4:
		return mask, nil
	case 3:
		return mask.View([]int{mask.Shape[0], 1, mask.Shape[1], mask.Shape[2]})
	case 2:
		return mask.View([]int{1, 1, mask.Shape[0], mask.Shape[1]})
	default:
		return nil, errors.Wrapf(ErrShape, "mask must have rank 2, 3 or 4, got shape %v", mask.Shape)
	}
}
