package model

import (
	"math"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"gomha/pkg/tensor"
)

func TestNewLinear_Initialisation(t *testing.T) {
	in, out := 16, 8
	l := must.M1(NewLinear(in, out, rand.NewSource(7)))

	assert.Equal(t, []int{in, out}, l.Weight.Shape)
	assert.Equal(t, []int{out}, l.Bias.Shape)
	assert.Equal(t, in*out+out, l.NumParams())

	bound := float32(1 / math.Sqrt(float64(in)))
	nonZero := 0
	for _, p := range l.Parameters("proj") {
		for _, v := range p.Value.Data {
			if v < -bound || v > bound {
				t.Errorf("%s value %f outside [-%f, %f]", p.Name, v, bound, bound)
			}
			if v != 0 {
				nonZero++
			}
		}
	}
	assert.Greater(t, nonZero, 0)

	// Same seed, same parameters.
	again := must.M1(NewLinear(in, out, rand.NewSource(7)))
	assert.Equal(t, l.Weight.Data, again.Weight.Data)
	assert.Equal(t, l.Bias.Data, again.Bias.Data)

	_, err := NewLinear(0, 4, rand.NewSource(1))
	assert.Error(t, err)
}

func TestLinear_Parameters(t *testing.T) {
	l := must.M1(NewLinear(2, 3, rand.NewSource(1)))
	params := l.Parameters("query")
	require.Len(t, params, 2)
	assert.Equal(t, "query.weight", params[0].Name)
	assert.Equal(t, "query.bias", params[1].Name)
	assert.Same(t, l.Weight, params[0].Value)
}

func TestLinear_Forward(t *testing.T) {
	l := must.M1(NewLinear(2, 3, rand.NewSource(1)))
	copy(l.Weight.Data, []float32{
		1, 0, 1,
		0, 1, 1,
	})
	copy(l.Bias.Data, []float32{0.5, -0.5, 0})

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4}, []int{1, 2, 2})
	y, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, y.Shape)
	assert.InDeltaSlice(t, []float32{1.5, 1.5, 3, 3.5, 3.5, 7}, y.Data, 1e-6)
}

func TestLinear_ShapeErrors(t *testing.T) {
	l := must.M1(NewLinear(4, 4, rand.NewSource(1)))

	tests := []struct {
		name  string
		input *tensor.Tensor
	}{
		{"1D input", tensor.NewTensor([]int{4})},
		{"wrong width", tensor.NewTensor([]int{2, 3, 5})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Forward(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tensor.ErrShapeMismatch))
		})
	}
}

func TestDropout_Forward(t *testing.T) {
	x := tensor.Full([]int{4, 25}, 1)

	d := must.M1(NewDropout(0.5, 3))
	same, err := d.Forward(x, false)
	require.NoError(t, err)
	assert.Same(t, x, same, "inference mode is the identity")

	dropped, err := d.Forward(x, true)
	require.NoError(t, err)
	zeros := 0
	for _, v := range dropped.Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected value %f", v)
		}
	}
	assert.Greater(t, zeros, 0)
	assert.Less(t, zeros, len(x.Data))

	// Reproducible for a given seed.
	again, err := must.M1(NewDropout(0.5, 3)).Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, dropped.Data, again.Data)

	var none *Dropout
	out, err := none.Forward(x, true)
	require.NoError(t, err)
	assert.Same(t, x, out)

	_, err = NewDropout(1, 0)
	assert.Error(t, err)
}
