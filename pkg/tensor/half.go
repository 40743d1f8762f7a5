package tensor

import (
	"github.com/x448/float16"
)

// ToFloat16 converts the tensor data to IEEE 754 binary16 values.
func (t *Tensor) ToFloat16() []float16.Float16 {
	out := make([]float16.Float16, len(t.Data))
	for i, v := range t.Data {
		out[i] = float16.Fromfloat32(v)
	}
	return out
}

// FromFloat16 builds a float32 tensor from binary16 values.
func FromFloat16(data []float16.Float16, shape []int) (*Tensor, error) {
	values := make([]float32, len(data))
	for i, h := range data {
		values[i] = h.Float32()
	}
	return FromSlice(values, shape)
}

// RoundHalf rounds every element in place to the nearest value representable
// in binary16, keeping float32 storage. Values beyond the half range become ±Inf.
func (t *Tensor) RoundHalf() {
	for i, v := range t.Data {
		t.Data[i] = float16.Fromfloat32(v).Float32()
	}
}
