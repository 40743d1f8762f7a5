package attention

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"

	"gomha/pkg/model"
	"gomha/pkg/tensor"
)

// MultiHeadAttention implements multi-head scaled dot-product attention
// ("Attention Is All You Need", https://arxiv.org/abs/1706.03762).
//
// Architecture:
//   - Query, Key and Value project their inputs (model_dim -> model_dim)
//   - the projections are split into NumHeads heads of HeadDim features
//   - every head runs ScaledDotProductAttention independently
//   - heads are concatenated back and re-projected by Output
//
// The projections are exported and may be updated between forward calls, but
// never concurrently with one. The softmax distribution of the latest Forward
// call is kept for inspection, see AttentionWeights.
type MultiHeadAttention struct {
	NumHeads int
	HeadDim  int
	ModelDim int

	Query  *model.Linear
	Key    *model.Linear
	Value  *model.Linear
	Output *model.Linear

	Dropout *model.Dropout

	mu       sync.RWMutex
	training bool
	weights  *tensor.Tensor // (batch, heads, query_len, key_len) of the latest Forward
}

// Inputs groups the arguments of one forward call.
type Inputs struct {
	Query, Key, Value *tensor.Tensor
	Mask              *tensor.Tensor // optional
}

// New creates a multi-head attention block. It fails with ErrConfig if cfg is
// invalid, in particular if ModelDim is not divisible by NumHeads.
// The block starts in inference mode, see SetTraining.
func New(cfg Config) (*MultiHeadAttention, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := uint64(cfg.Seed)
	m := &MultiHeadAttention{
		NumHeads: cfg.NumHeads,
		HeadDim:  cfg.HeadDim(),
		ModelDim: cfg.ModelDim,
	}

	// Each projection draws from its own stream so they are initialised independently.
	projections := []**model.Linear{&m.Query, &m.Key, &m.Value, &m.Output}
	for i, p := range projections {
		l, err := model.NewLinear(cfg.ModelDim, cfg.ModelDim, rand.NewSource(seed+uint64(i)))
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create projection")
		}
		*p = l
	}

	dropout, err := model.NewDropout(cfg.DropoutRate, seed+uint64(len(projections)))
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	m.Dropout = dropout

	if cfg.HalfPrecision {
		for _, p := range m.Parameters() {
			p.Value.RoundHalf()
		}
	}

	klog.V(1).Infof("created multi-head attention: heads=%d model_dim=%d head_dim=%d dropout=%g params=%d",
		m.NumHeads, m.ModelDim, m.HeadDim, cfg.DropoutRate, m.NumParams())
	return m, nil
}

// MustNew is like New but panics on error.
func MustNew(cfg Config) *MultiHeadAttention {
	m, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return m
}

// SetTraining switches dropout on (training) or off (inference).
func (m *MultiHeadAttention) SetTraining(training bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.training = training
}

// Training reports whether the block is in training mode.
func (m *MultiHeadAttention) Training() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.training
}

// AttentionWeights returns the attention distribution computed by the latest
// successful Forward call, shaped (batch, heads, query_len, key_len), or nil
// before the first call. In training mode it is the distribution after dropout.
func (m *MultiHeadAttention) AttentionWeights() *tensor.Tensor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights
}

// Forward computes multi-head attention.
//
// Input shapes:
//   - query: (batch, query_len, model_dim)
//   - key, value: (batch, key_len, model_dim)
//   - mask: optional 0/1 key mask, nil for none. Accepted shapes are
//     (batch, heads|1, query_len|1, key_len), (batch, query_len|1, key_len)
//     and (query_len|1, key_len).
//
// Output shape: (batch, query_len, model_dim)
func (m *MultiHeadAttention) Forward(query, key, value, mask *tensor.Tensor) (*tensor.Tensor, error) {
	output, weights, err := m.forward(query, key, value, mask)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.weights = weights
	m.mu.Unlock()
	return output, nil
}

// forward is Forward without touching the retained attention weights.
func (m *MultiHeadAttention) forward(query, key, value, mask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := m.checkInputs(query, key, value); err != nil {
		return nil, nil, err
	}
	if klog.V(2).Enabled() {
		klog.Infof("multi-head attention forward: query=%v key=%v value=%v masked=%v",
			query.Shape, key.Shape, value.Shape, mask != nil)
	}

	// Step 1: Project to Q, K, V, (batch, seq, model_dim)
	q, err := m.Query.Forward(query)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to project query")
	}
	k, err := m.Key.Forward(key)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to project key")
	}
	v, err := m.Value.Forward(value)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to project value")
	}

	// Step 2: Split heads, (batch, heads, seq, head_dim)
	if q, err = m.splitHeads(q); err != nil {
		return nil, nil, err
	}
	if k, err = m.splitHeads(k); err != nil {
		return nil, nil, err
	}
	if v, err = m.splitHeads(v); err != nil {
		return nil, nil, err
	}

	// Step 3: Per-head scaled dot-product attention
	var dropout WeightsTransform
	if training := m.Training(); training && m.Dropout.Rate > 0 {
		dropout = func(w *tensor.Tensor) (*tensor.Tensor, error) {
			return m.Dropout.Forward(w, training)
		}
	}
	attended, weights, err := ScaledDotProductAttention(q, k, v, mask, dropout)
	if err != nil {
		return nil, nil, err
	}

	// Step 4: Concatenate heads, (batch, query_len, model_dim)
	concat, err := m.mergeHeads(attended)
	if err != nil {
		return nil, nil, err
	}

	// Step 5: Output projection
	output, err := m.Output.Forward(concat)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to apply output projection")
	}
	return output, weights, nil
}

func (m *MultiHeadAttention) checkInputs(query, key, value *tensor.Tensor) error {
	for _, in := range []struct {
		name string
		t    *tensor.Tensor
	}{{"query", query}, {"key", key}, {"value", value}} {
		if in.t == nil {
			return errors.Wrapf(ErrShape, "%s is nil", in.name)
		}
		if in.t.Rank() != 3 {
			return errors.Wrapf(ErrShape, "expected 3D %s (batch, seq, model_dim), got %dD with shape %v",
				in.name, in.t.Rank(), in.t.Shape)
		}
	}
	if query.Shape[0] != key.Shape[0] || key.Shape[0] != value.Shape[0] {
		return errors.Wrapf(ErrShape, "batch sizes differ: query %v, key %v, value %v", query.Shape, key.Shape, value.Shape)
	}
	if key.Shape[1] != value.Shape[1] {
		return errors.Wrapf(ErrShape, "key length %d doesn't match value length %d", key.Shape[1], value.Shape[1])
	}
	return nil
}

// splitHeads reshapes (batch, seq, model_dim) into (batch, heads, seq, head_dim).
func (m *MultiHeadAttention) splitHeads(x *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, seqLen := x.Shape[0], x.Shape[1]
	view, err := x.View([]int{batchSize, seqLen, m.NumHeads, m.HeadDim})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to split heads")
	}
	return view.Transpose(1, 2)
}

// mergeHeads is the inverse of splitHeads.
func (m *MultiHeadAttention) mergeHeads(x *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, seqLen := x.Shape[0], x.Shape[2]
	swapped, err := x.Transpose(1, 2) // (batch, seq, heads, head_dim)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to merge heads")
	}
	return swapped.View([]int{batchSize, seqLen, m.ModelDim})
}

// Parameters lists the block's parameters: query, key, value and output
// projections, weight then bias.
func (m *MultiHeadAttention) Parameters() []model.Parameter {
	var params []model.Parameter
	params = append(params, m.Query.Parameters("query")...)
	params = append(params, m.Key.Parameters("key")...)
	params = append(params, m.Value.Parameters("value")...)
	params = append(params, m.Output.Parameters("output")...)
	return params
}

// NumParams returns the number of scalar parameters, 4 * (model_dim² + model_dim).
func (m *MultiHeadAttention) NumParams() int {
	return m.Query.NumParams() + m.Key.NumParams() + m.Value.NumParams() + m.Output.NumParams()
}
