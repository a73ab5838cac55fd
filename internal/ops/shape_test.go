package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShapeElems(t *testing.T) {
	assert.Equal(t, 384, Shape{N: 2, C: 3, H: 8, W: 8}.Elems())
	assert.Equal(t, 1, Shape{N: 1, C: 1, H: 1, W: 1}.Elems())
}

func TestShapeValid(t *testing.T) {
	assert.True(t, Shape{N: 1, C: 3, H: 32, W: 32}.Valid())
	assert.False(t, Shape{}.Valid())
	assert.False(t, Shape{N: 1, C: 0, H: 32, W: 32}.Valid())
	assert.False(t, Shape{N: 1, C: 3, H: -1, W: 32}.Valid())
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "2x3x8x8", Shape{N: 2, C: 3, H: 8, W: 8}.String())
}

func TestConvOutputShape(t *testing.T) {
	cases := []struct {
		name   string
		in     Shape
		params ConvParams
		want   Shape
	}{
		{
			name:   "SamePadding",
			in:     Shape{N: 1, C: 3, H: 32, W: 32},
			params: ConvParams{OutputChannels: 16, KernelH: 5, KernelW: 5, PadH: 2, PadW: 2, StrideH: 1, StrideW: 1},
			want:   Shape{N: 1, C: 16, H: 32, W: 32},
		},
		{
			name:   "Stride2",
			in:     Shape{N: 1, C: 3, H: 32, W: 32},
			params: ConvParams{OutputChannels: 8, KernelH: 3, KernelW: 3, PadH: 0, PadW: 0, StrideH: 2, StrideW: 2},
			want:   Shape{N: 1, C: 8, H: 15, W: 15},
		},
		{
			name:   "FloorDivision",
			in:     Shape{N: 1, C: 1, H: 7, W: 7},
			params: ConvParams{OutputChannels: 1, KernelH: 2, KernelW: 2, PadH: 0, PadW: 0, StrideH: 2, StrideW: 2},
			want:   Shape{N: 1, C: 1, H: 3, W: 3},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Convolution{params: tc.params}
			c.inShape = tc.in
			assert.Equal(t, tc.want, c.computeOutputShape())
		})
	}
}

func TestPoolOutputShape(t *testing.T) {
	p := &Pooling{params: PoolParams{WindowH: 2, WindowW: 2, StrideH: 2, StrideW: 2}}
	p.inShape = Shape{N: 4, C: 16, H: 32, W: 32}
	assert.Equal(t, Shape{N: 4, C: 16, H: 16, W: 16}, p.computeOutputShape())
}
