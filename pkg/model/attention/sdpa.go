// Package attention implements scaled dot-product multi-head attention.
//
// The package provides:
//   - ScaledDotProductAttention: the per-head attention kernel
//   - MultiHeadAttention: four owned linear projections around the kernel
//   - CausalMask / PaddingMask: helpers producing 0/1 key masks
package attention

import (
	"math"

	"github.com/pkg/errors"

	"gomha/pkg/tensor"
)

// WeightsTransform is an optional hook applied to the attention weights after
// the softmax, e.g. dropout. A nil WeightsTransform is the identity.
type WeightsTransform func(weights *tensor.Tensor) (*tensor.Tensor, error)

// ScaledDotProductAttention computes
//
//	softmax(Q @ Kᵀ / sqrt(d_k)) @ V
//
// independently for every batch element and head.
//
// Input shapes:
//   - query: (batch, heads, query_len, d_k)
//   - key: (batch, heads, key_len, d_k)
//   - value: (batch, heads, key_len, d_v)
//   - mask: optional 0/1 mask broadcastable to (batch, heads, query_len, key_len),
//     or of rank 2/3 as accepted by MultiHeadAttention.Forward. Entries equal
//     to 0 mark key positions that must not be attended to.
//   - dropout: optional transform of the attention weights
//
// Returns the attended values (batch, heads, query_len, d_v) and the attention
// weights (batch, heads, query_len, key_len), after dropout if one was given.
func ScaledDotProductAttention(query, key, value, mask *tensor.Tensor, dropout WeightsTransform) (*tensor.Tensor, *tensor.Tensor, error) {
	if query.Rank() != 4 || key.Rank() != 4 || value.Rank() != 4 {
		return nil, nil, errors.Wrapf(ErrShape, "expected 4D query, key and value (batch, heads, seq, dim), got %v, %v and %v",
			query.Shape, key.Shape, value.Shape)
	}
	if key.Shape[2] != value.Shape[2] {
		return nil, nil, errors.Wrapf(ErrShape, "key length %d doesn't match value length %d", key.Shape[2], value.Shape[2])
	}
	dK := query.Shape[3]

	// Step 1: similarity = Q @ Kᵀ, (batch, heads, query_len, key_len)
	scores, err := tensor.MatmulTransB(query, key)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to compute attention scores")
	}

	// Step 2: scale by 1/sqrt(d_k)
	scores = scores.Scale(float32(1 / math.Sqrt(float64(dK))))

	// Step 3: masked positions get a large negative score
	if mask != nil {
		m, err := headMask(mask)
		if err != nil {
			return nil, nil, err
		}
		scores, err = tensor.MaskedFill(scores, m, maskFill)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to apply attention mask")
		}
	}

	// Step 4: normalise over the key axis
	weights, err := tensor.SoftmaxLast(scores)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to apply softmax")
	}

	// Step 5: optional dropout on the distribution
	if dropout != nil {
		weights, err = dropout(weights)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to apply dropout to attention weights")
		}
	}

	// Step 6: weighted sum of the values
	output, err := tensor.Matmul(weights, value)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to apply attention to values")
	}
	return output, weights, nil
}
