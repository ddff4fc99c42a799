// Package features stores pre-extracted image features as dense float32
// tensors whose first dimension indexes items.
package features

import (
	"fmt"
	"slices"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// Tensor is a row-major float32 array. Shape[0] is the number of items; the
// remaining dimensions describe one item, e.g. [H, W, C] feature maps.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(shape ...int) (Tensor, error) {
	n, err := volume(shape)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{Shape: slices.Clone(shape), Data: make([]float32, n)}, nil
}

// FromData wraps data with a shape, checking that the sizes agree.
func FromData(data []float32, shape ...int) (Tensor, error) {
	n, err := volume(shape)
	if err != nil {
		return Tensor{}, err
	}
	if n != len(data) {
		return Tensor{}, shapeError(fmt.Sprintf("shape %v needs %d values, got %d", shape, n, len(data)))
	}
	return Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

func volume(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, shapeError("tensor needs at least one dimension")
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, shapeError(fmt.Sprintf("negative dimension in %v", shape))
		}
		n *= d
	}
	return n, nil
}

func shapeError(msg string) error {
	return errors.Newf("features: %s", msg).
		Component("features").
		Category(errors.CategoryValidation).
		Build()
}

// Len returns the number of items.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// ItemShape returns the shape of a single item.
func (t Tensor) ItemShape() []int {
	if len(t.Shape) == 0 {
		return nil
	}
	return slices.Clone(t.Shape[1:])
}

// ItemSize returns the number of values per item.
func (t Tensor) ItemSize() int {
	n := 1
	for _, d := range t.ItemShape() {
		n *= d
	}
	return n
}

// Item returns a view of item i.
func (t Tensor) Item(i int) []float32 {
	sz := t.ItemSize()
	return t.Data[i*sz : (i+1)*sz : (i+1)*sz]
}

// Gather copies the given items, in order, into a new tensor.
func (t Tensor) Gather(indices []int) (Tensor, error) {
	sz := t.ItemSize()
	out := Tensor{
		Shape: append([]int{len(indices)}, t.ItemShape()...),
		Data:  make([]float32, len(indices)*sz),
	}
	for k, i := range indices {
		if i < 0 || i >= t.Len() {
			return Tensor{}, errors.Newf("features: index %d out of range [0,%d)", i, t.Len()).
				Component("features").
				Category(errors.CategoryConfiguration).
				Build()
		}
		copy(out.Data[k*sz:(k+1)*sz], t.Item(i))
	}
	return out, nil
}

// Stack concatenates single items of equal shape into one tensor.
func Stack(items [][]float32, itemShape []int) (Tensor, error) {
	sz, err := volume(append([]int{1}, itemShape...))
	if err != nil {
		return Tensor{}, err
	}
	out := Tensor{
		Shape: append([]int{len(items)}, itemShape...),
		Data:  make([]float32, 0, len(items)*sz),
	}
	for k, it := range items {
		if len(it) != sz {
			return Tensor{}, shapeError(fmt.Sprintf("item %d has %d values, want %d", k, len(it), sz))
		}
		out.Data = append(out.Data, it...)
	}
	return out, nil
}
