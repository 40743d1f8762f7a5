package attention

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"gomha/pkg/tensor"
)

// Result is the outcome of one forward call of ForwardBatches.
type Result struct {
	Output  *tensor.Tensor // (batch, query_len, model_dim)
	Weights *tensor.Tensor // (batch, heads, query_len, key_len)
}

// ForwardBatches runs Forward over independent inputs concurrently, with at
// most GOMAXPROCS calls in flight. Results are returned in input order.
//
// Unlike Forward it leaves AttentionWeights untouched: each Result carries its
// own weights. The first error cancels the remaining work and is returned
// annotated with the index of the failing input.
func (m *MultiHeadAttention) ForwardBatches(ctx context.Context, inputs []Inputs) ([]Result, error) {
	results := make([]Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			output, weights, err := m.forward(in.Query, in.Key, in.Value, in.Mask)
			if err != nil {
				return errors.WithMessagef(err, "input %d", i)
			}
			results[i] = Result{Output: output, Weights: weights}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
