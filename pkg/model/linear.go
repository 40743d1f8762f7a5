// Package model provides the parameter-holding layers used by the attention block.
//
// The layers here follow PyTorch's nn.Linear and nn.Dropout semantics:
//   - Linear: y = x @ W + b over the last axis, with W stored as (in, out)
//   - Dropout: inverted dropout, identity outside of training
package model

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"gomha/pkg/tensor"
)

// Parameter is a named, externally mutable parameter tensor.
type Parameter struct {
	Name  string
	Value *tensor.Tensor
}

// Linear implements an affine transform over the last dimension of its input.
//
// Formula:
//
//	y = x @ Weight + Bias
//
// Weight has shape (in, out) and Bias has shape (out,). Both are exported so an
// optimizer can update them between forward calls.
type Linear struct {
	In  int
	Out int

	Weight *tensor.Tensor // (in, out)
	Bias   *tensor.Tensor // (out,)
}

// NewLinear creates a linear layer initialised like PyTorch's nn.Linear:
// weight and bias drawn from U(-1/sqrt(in), 1/sqrt(in)).
//
// Parameters:
//   - in: input feature width
//   - out: output feature width
//   - src: random source for the initial parameters
func NewLinear(in, out int, src rand.Source) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.Errorf("linear layer dimensions must be positive, got in=%d out=%d", in, out)
	}

	l := &Linear{
		In:     in,
		Out:    out,
		Weight: tensor.NewTensor([]int{in, out}),
		Bias:   tensor.NewTensor([]int{out}),
	}
	bound := 1 / math.Sqrt(float64(in))
	InitUniform(l.Weight, bound, src)
	InitUniform(l.Bias, bound, src)
	return l, nil
}

// InitUniform fills t with samples of U(-bound, bound).
func InitUniform(t *tensor.Tensor, bound float64, src rand.Source) {
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range t.Data {
		t.Data[i] = float32(dist.Rand())
	}
}

// Forward applies the layer to x.
//
// Input shape: (..., in), at least 2D
// Output shape: (..., out)
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() < 2 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "linear layer expects at least a 2D input, got shape %v", x.Shape)
	}
	if width := x.Shape[x.Rank()-1]; width != l.In {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "linear layer expects input width %d, got shape %v", l.In, x.Shape)
	}

	y, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to apply linear weight")
	}
	y, err = tensor.Add(y, l.Bias)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to add linear bias")
	}
	return y, nil
}

// NumParams returns the number of scalar parameters of the layer.
func (l *Linear) NumParams() int {
	return l.Weight.Size() + l.Bias.Size()
}

// Parameters lists the layer's parameters as "<prefix>.weight" and "<prefix>.bias".
func (l *Linear) Parameters(prefix string) []Parameter {
	return []Parameter{
		{Name: prefix + ".weight", Value: l.Weight},
		{Name: prefix + ".bias", Value: l.Bias},
	}
}
