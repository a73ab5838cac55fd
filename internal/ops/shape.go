package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Shape is the 4-D extent of a tensor in NCHW layout.
type Shape struct {
	N, C, H, W int
}

// Elems returns the flat element count.
func (s Shape) Elems() int {
	return s.N * s.C * s.H * s.W
}

// Valid reports whether all four extents are strictly positive.
func (s Shape) Valid() bool {
	return s.N > 0 && s.C > 0 && s.H > 0 && s.W > 0
}

// Desc converts the shape to a device tensor descriptor.
func (s Shape) Desc() device.TensorDesc {
	return device.TensorDesc{N: s.N, C: s.C, H: s.H, W: s.W}
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", s.N, s.C, s.H, s.W)
}
