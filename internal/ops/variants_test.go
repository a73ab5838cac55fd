package ops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

func TestPooling_Forward(t *testing.T) {
	ctx, reg, _ := newHarness(t)

	pool := NewPooling(ctx, reg, 0, "pool1",
		StandaloneInput(Shape{N: 2, C: 4, H: 16, W: 16}),
		PoolParams{Mode: device.MaxPool, WindowH: 3, WindowW: 3, StrideH: 2, StrideW: 2})

	require.NoError(t, pool.Setup())
	assert.Equal(t, Shape{N: 2, C: 4, H: 7, W: 7}, pool.OutputShape())
	assert.False(t, pool.HasLearnableParams())

	require.NoError(t, pool.ForwardPropagation())
	require.NoError(t, pool.Teardown())
	assert.Equal(t, 0, reg.Stats().Live)
}

func TestPooling_ShapeInference(t *testing.T) {
	ctx, reg, _ := newHarness(t)

	pool := NewPooling(ctx, reg, 0, "pool_bad",
		StandaloneInput(Shape{N: 1, C: 1, H: 2, W: 2}),
		PoolParams{WindowH: 4, WindowW: 4, StrideH: 1, StrideW: 1})
	assert.ErrorIs(t, pool.Setup(), ErrShapeInference)
}

func TestActivation_Forward(t *testing.T) {
	ctx, reg, rt := newHarness(t)

	for _, mode := range []device.ActivationMode{device.ActReLU, device.ActSigmoid, device.ActTanh} {
		t.Run(mode.String(), func(t *testing.T) {
			act := NewActivation(ctx, reg, 0, "act_"+mode.String(),
				StandaloneInput(Shape{N: 1, C: 2, H: 4, W: 4}), mode)

			require.NoError(t, act.Setup())
			assert.Equal(t, act.InputShape(), act.OutputShape())
			require.NoError(t, act.ForwardPropagation())

			out, err := reg.GetBuffer(act.Outputs()[0])
			require.NoError(t, err)
			host := make([]float32, out.Elems())
			require.NoError(t, rt.CopyToHost(host, out.Mem(), 0))
			for i, v := range host {
				switch mode {
				case device.ActReLU:
					assert.GreaterOrEqual(t, v, float32(0), "relu output %d", i)
				case device.ActSigmoid:
					assert.Greater(t, v, float32(0), "sigmoid output %d", i)
					assert.Less(t, v, float32(1), "sigmoid output %d", i)
				case device.ActTanh:
					assert.LessOrEqual(t, math.Abs(float64(v)), 1.0, "tanh output %d", i)
				}
			}
			require.NoError(t, act.Teardown())
		})
	}
}

func TestNormalization_Forward(t *testing.T) {
	ctx, reg, _ := newHarness(t)

	lrn := NewNormalization(ctx, reg, 0, "lrn1",
		StandaloneInput(Shape{N: 1, C: 8, H: 4, W: 4}),
		LRNParams{LocalSize: 5, Alpha: 1e-4, Beta: 0.75, K: 2})

	require.NoError(t, lrn.Setup())
	assert.Equal(t, lrn.InputShape(), lrn.OutputShape())
	require.NoError(t, lrn.ForwardPropagation())
	require.NoError(t, lrn.Teardown())
	assert.Equal(t, 0, reg.Stats().Live)
}

func TestFullyConnected_Forward(t *testing.T) {
	ctx, reg, _ := newHarness(t)

	fc := NewFullyConnected(ctx, reg, 0, "fc1",
		StandaloneInput(Shape{N: 2, C: 4, H: 3, W: 3}),
		FCParams{OutputUnits: 10})

	require.NoError(t, fc.Setup())
	assert.Equal(t, Shape{N: 2, C: 10, H: 1, W: 1}, fc.OutputShape())
	assert.True(t, fc.HasLearnableParams())

	w, _ := fc.Weights()
	wBuf, err := reg.GetBuffer(w)
	require.NoError(t, err)
	assert.Equal(t, 10*4*3*3, wBuf.Elems())

	require.NoError(t, fc.ForwardPropagation())
	require.NoError(t, fc.Teardown())
	assert.Equal(t, 0, reg.Stats().Live)
}

func TestFullyConnected_UnitsRequired(t *testing.T) {
	ctx, reg, _ := newHarness(t)

	fc := NewFullyConnected(ctx, reg, 0, "fc_bad",
		StandaloneInput(Shape{N: 1, C: 4, H: 3, W: 3}),
		FCParams{})
	assert.ErrorIs(t, fc.Setup(), ErrShapeInference)
}

func TestSoftmax_Forward(t *testing.T) {
	ctx, reg, rt := newHarness(t)

	sm := NewSoftmax(ctx, reg, 0, "softmax1",
		StandaloneInput(Shape{N: 2, C: 10, H: 1, W: 1}))
	require.NoError(t, sm.Setup())
	require.NoError(t, sm.ForwardPropagation())

	out, err := reg.GetBuffer(sm.Outputs()[0])
	require.NoError(t, err)
	host := make([]float32, out.Elems())
	require.NoError(t, rt.CopyToHost(host, out.Mem(), 0))

	// Each batch image's channel distribution sums to one.
	for n := 0; n < 2; n++ {
		var sum float64
		for c := 0; c < 10; c++ {
			sum += float64(host[n*10+c])
		}
		assert.InDelta(t, 1.0, sum, 1e-4, "batch %d", n)
	}

	require.NoError(t, sm.Teardown())
}

func TestComposedChain_Forward(t *testing.T) {
	ctx, reg, _ := newHarness(t)

	conv := NewConvolution(ctx, reg, 0, "conv1",
		StandaloneInput(Shape{N: 1, C: 3, H: 16, W: 16}),
		ConvParams{
			OutputChannels: 8,
			KernelH:        3, KernelW: 3,
			PadH: 1, PadW: 1,
			StrideH: 1, StrideW: 1,
		})
	relu := NewActivation(ctx, reg, 1, "relu1", ComposedFrom(conv), device.ActReLU)
	pool := NewPooling(ctx, reg, 2, "pool1", ComposedFrom(relu),
		PoolParams{WindowH: 2, WindowW: 2, StrideH: 2, StrideW: 2})
	fc := NewFullyConnected(ctx, reg, 3, "fc1", ComposedFrom(pool), FCParams{OutputUnits: 10})
	sm := NewSoftmax(ctx, reg, 4, "softmax1", ComposedFrom(fc))

	chain := []Operation{conv, relu, pool, fc, sm}
	for _, op := range chain {
		require.NoError(t, op.Setup(), op.Name())
	}
	assert.Equal(t, Shape{N: 1, C: 8, H: 8, W: 8}, pool.OutputShape())
	assert.Equal(t, Shape{N: 1, C: 10, H: 1, W: 1}, sm.OutputShape())

	for _, op := range chain {
		require.NoError(t, op.ForwardPropagation(), op.Name())
	}
	for i := len(chain) - 1; i >= 0; i-- {
		require.NoError(t, chain[i].Teardown(), chain[i].Name())
	}
	assert.Equal(t, 0, reg.Stats().Live)
}
