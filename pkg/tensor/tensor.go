// Package tensor provides the dense float32 tensor used by the attention block.
// It covers the shape handling, matrix products and normalisations of a
// multi-head attention forward pass.
package tensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ErrShapeMismatch is returned (wrapped) by every operation whose operands have
// incompatible shapes.
var ErrShapeMismatch = errors.New("shape mismatch")

// Tensor represents a multi-dimensional array of float32 values.
// It stores data in a flat, row-major slice with shape information for indexing.
type Tensor struct {
	Data    []float32 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [batch, heads, seq, dim])
	Strides []int     // Precomputed strides for indexing
}

// NewTensor creates a new tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	return &Tensor{
		Data:    make([]float32, numElements(shape)),
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}
}

// Full creates a tensor with every element set to value.
func Full(shape []int, value float32) *Tensor {
	t := NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// FromSlice creates a tensor from existing data with the given shape.
// The data is copied. Returns an error if data size doesn't match the shape.
func FromSlice(data []float32, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if expected := numElements(shape); len(data) != expected {
		return nil, errors.Wrapf(ErrShapeMismatch, "data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expected)
	}

	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)
	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}, nil
}

// MustFromSlice is like FromSlice but panics on error.
func MustFromSlice(data []float32, shape []int) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// View returns a new tensor with a different shape but sharing the same underlying data.
// Returns an error if total size doesn't match.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if newSize := numElements(newShape); newSize != len(t.Data) {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}
	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: computeStrides(newShape),
	}, nil
}

// Reshape returns a view with a different shape (same underlying data).
// It panics if the sizes don't match; use View for the checked version.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	result, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Transpose exchanges two dimensions of the tensor, returning a new contiguous tensor.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	rank := len(t.Shape)
	if dim1 < 0 || dim1 >= rank || dim2 < 0 || dim2 >= rank {
		return nil, errors.Errorf("invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, rank)
	}
	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]
	result := NewTensor(newShape)

	// srcStrides[i] is the stride in t for the i-th axis of the result.
	srcStrides := copyShape(t.Strides)
	srcStrides[dim1], srcStrides[dim2] = srcStrides[dim2], srcStrides[dim1]

	idx := make([]int, rank)
	src := 0
	for dst := range result.Data {
		result.Data[dst] = t.Data[src]
		// Increment the multi-index of the destination, tracking the source offset.
		for axis := rank - 1; axis >= 0; axis-- {
			idx[axis]++
			src += srcStrides[axis]
			if idx[axis] < newShape[axis] {
				break
			}
			src -= srcStrides[axis] * newShape[axis]
			idx[axis] = 0
		}
	}
	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return numElements(t.Shape)
}

// Rank returns the number of dimensions of the tensor.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := range t.Shape {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices ...int) float32 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(value float32, indices ...int) {
	t.Data[t.FlatIndex(indices)] = value
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	dataCopy := make([]float32, len(t.Data))
	copy(dataCopy, t.Data)
	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(t.Shape),
		Strides: computeStrides(t.Shape),
	}
}

// ShapeString returns a string representation of the shape.
func (t *Tensor) ShapeString() string {
	return fmt.Sprintf("%v", t.Shape)
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	return shapeEqual(t.Shape, other.Shape)
}

// Equals checks if two tensors have the same shape and approximately equal values.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i]-other.Data[i])) > float64(tolerance) {
			return false
		}
	}
	return true
}

// Matmul performs matrix multiplication on the last two dimensions.
// For tensors of shape (..., m, k) and (..., k, n), returns (..., m, n).
// The right operand is broadcast when it is 2D; otherwise the leading
// (batch) dimensions of both operands must match.
func Matmul(a, b *Tensor) (*Tensor, error) {
	return matmul(a, b, false)
}

// MatmulTransB multiplies a by the transpose of b's last two dimensions:
// (..., m, k) x (..., n, k) -> (..., m, n). Used for query-key similarity
// without materialising the transposed keys.
func MatmulTransB(a, b *Tensor) (*Tensor, error) {
	return matmul(a, b, true)
}

func matmul(a, b *Tensor, transB bool) (*Tensor, error) {
	ra, rb := len(a.Shape), len(b.Shape)
	if ra < 2 || rb < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul requires at least 2D tensors, got %dD and %dD", ra, rb)
	}

	m, k := a.Shape[ra-2], a.Shape[ra-1]
	bRows, bCols := b.Shape[rb-2], b.Shape[rb-1]
	n, kb := bCols, bRows
	tB := blas.NoTrans
	if transB {
		n, kb = bRows, bCols
		tB = blas.Trans
	}
	if k != kb {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul %v x %v (transB=%v): inner dimensions %d and %d don't match",
			a.Shape, b.Shape, transB, k, kb)
	}

	batchDims := a.Shape[:ra-2]
	broadcastB := rb == 2
	if !broadcastB && !shapeEqual(batchDims, b.Shape[:rb-2]) {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul %v x %v: batch dimensions don't match", a.Shape, b.Shape)
	}

	resultShape := append(copyShape(batchDims), m, n)
	result := NewTensor(resultShape)
	if m == 0 || n == 0 || k == 0 {
		return result, nil
	}

	batchSize := numElements(batchDims)
	aSize, bSize, cSize := m*k, bRows*bCols, m*n
	for batch := 0; batch < batchSize; batch++ {
		bOffset := batch * bSize
		if broadcastB {
			bOffset = 0
		}
		blas32.Gemm(blas.NoTrans, tB, 1,
			blas32.General{Rows: m, Cols: k, Stride: k, Data: a.Data[batch*aSize : (batch+1)*aSize]},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b.Data[bOffset : bOffset+bSize]},
			0,
			blas32.General{Rows: m, Cols: n, Stride: n, Data: result.Data[batch*cSize : (batch+1)*cSize]})
	}
	return result, nil
}

// Scale multiplies all elements by a scalar, returning a new tensor.
func (t *Tensor) Scale(s float32) *Tensor {
	result := NewTensor(t.Shape)
	for i, v := range t.Data {
		result.Data[i] = v * s
	}
	return result
}

// Softmax applies softmax along the specified dimension.
// The maximum of each slice is subtracted before exponentiation.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, errors.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	result := NewTensor(t.Shape)
	n := t.Shape[dim]
	if n == 0 {
		return result, nil
	}
	outer := numElements(t.Shape[:dim])
	inner := numElements(t.Shape[dim+1:])

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*n*inner + i

			maxVal := float32(math.Inf(-1))
			for j := 0; j < n; j++ {
				if v := t.Data[base+j*inner]; v > maxVal {
					maxVal = v
				}
			}

			var sum float64
			for j := 0; j < n; j++ {
				e := math.Exp(float64(t.Data[base+j*inner] - maxVal))
				result.Data[base+j*inner] = float32(e)
				sum += e
			}

			inv := float32(1 / sum)
			for j := 0; j < n; j++ {
				result.Data[base+j*inner] *= inv
			}
		}
	}
	return result, nil
}

// SoftmaxLast applies softmax along the last dimension.
func SoftmaxLast(t *Tensor) (*Tensor, error) {
	return Softmax(t, len(t.Shape)-1)
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot broadcast shapes %v and %v", a.Shape, b.Shape)
	}
	aStrides := broadcastStrides(a.Shape, outShape)
	bStrides := broadcastStrides(b.Shape, outShape)

	result := NewTensor(outShape)
	forEachIndex(outShape, func(dst int, idx []int) {
		result.Data[dst] = a.Data[dot(idx, aStrides)] + b.Data[dot(idx, bStrides)]
	})
	return result, nil
}

// MaskedFill returns a copy of t where every element whose (broadcast) mask
// value is zero is replaced with value. The mask must broadcast to t's shape.
func MaskedFill(t, mask *Tensor, value float32) (*Tensor, error) {
	outShape, err := broadcastShapes(t.Shape, mask.Shape)
	if err != nil || !shapeEqual(outShape, t.Shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "mask of shape %v does not broadcast to %v", mask.Shape, t.Shape)
	}
	maskStrides := broadcastStrides(mask.Shape, t.Shape)

	result := t.Clone()
	forEachIndex(t.Shape, func(dst int, idx []int) {
		if mask.Data[dot(idx, maskStrides)] == 0 {
			result.Data[dst] = value
		}
	})
	return result, nil
}

// String returns a string representation of the tensor.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor")
	sb.WriteString(t.ShapeString())
	sb.WriteString(": ")
	if len(t.Data) == 0 {
		sb.WriteString("[]")
		return sb.String()
	}
	sb.WriteString(formatData(t.Shape, t.Data, 0))
	return sb.String()
}

// formatData recursively formats tensor data, eliding long dimensions.
func formatData(shape []int, data []float32, offset int) string {
	if len(shape) == 0 {
		return fmt.Sprintf("%g", data[offset])
	}

	var sb strings.Builder
	sb.WriteString("[")
	limit := 3
	if len(shape) == 1 {
		limit = 6
	}
	subSize := numElements(shape[1:])
	for i := 0; i < shape[0] && i < limit; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatData(shape[1:], data, offset+i*subSize))
	}
	if shape[0] > limit {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}

// broadcastShapes computes the broadcasted shape of two shapes
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := max(len(a), len(b))
	result := make([]int, maxLen)
	for i := 0; i < maxLen; i++ {
		dimA, dimB := 1, 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}
		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, errors.Wrapf(ErrShapeMismatch, "incompatible dimensions %d and %d", dimA, dimB)
		}
		if dimA == 1 {
			result[maxLen-1-i] = dimB
		} else {
			result[maxLen-1-i] = dimA
		}
	}
	return result, nil
}

// broadcastStrides returns, for each axis of outShape, the stride into a
// row-major tensor of inShape. Broadcast axes get stride 0.
func broadcastStrides(inShape, outShape []int) []int {
	inStrides := computeStrides(inShape)
	diff := len(outShape) - len(inShape)
	strides := make([]int, len(outShape))
	for i := range inShape {
		if inShape[i] != 1 {
			strides[i+diff] = inStrides[i]
		}
	}
	return strides
}

// forEachIndex calls fn for every element of a row-major tensor of the given
// shape, passing the flat index and the multi-index (reused between calls).
func forEachIndex(shape []int, fn func(flat int, idx []int)) {
	total := numElements(shape)
	idx := make([]int, len(shape))
	for flat := 0; flat < total; flat++ {
		fn(flat, idx)
		for axis := len(shape) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
}

func dot(idx, strides []int) int {
	off := 0
	for i, v := range idx {
		off += v * strides[i]
	}
	return off
}

func validateShape(shape []int) error {
	for _, dim := range shape {
		if dim < 0 {
			return errors.Wrapf(ErrShapeMismatch, "invalid dimension %d in shape %v", dim, shape)
		}
	}
	return nil
}

func numElements(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// copyShape creates a copy of a shape slice
func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
