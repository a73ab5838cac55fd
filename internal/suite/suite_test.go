package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/ops"
)

func writeSuite(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeSuite(t, "suite.json", `{
		"name": "alexnet-conv1",
		"ops": [
			{
				"kind": "convolution",
				"name": "conv1",
				"input": {"n": 1, "c": 3, "h": 32, "w": 32},
				"num_inputs": 2,
				"conv": {"output_channels": 16, "kernel": 5, "pad": 2, "stride": 1, "preference": "no-workspace"}
			},
			{"kind": "activation", "name": "relu1", "from": "conv1"}
		]
	}`)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alexnet-conv1", s.Name)
	require.Len(t, s.Ops, 2)
	assert.Equal(t, 2, s.Ops[0].NumInputs)
	assert.Equal(t, "no-workspace", s.Ops[0].Conv.Preference)
	assert.Equal(t, "conv1", s.Ops[1].From)
}

func TestLoad_CBOR(t *testing.T) {
	orig := Default()
	data, err := cbor.Marshal(orig)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "suite.cbor")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig.Name, s.Name)
	require.Len(t, s.Ops, len(orig.Ops))
	assert.Equal(t, orig.Ops[0].Conv.OutputChannels, s.Ops[0].Conv.OutputChannels)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
	t.Run("BadJSON", func(t *testing.T) {
		_, err := Load(writeSuite(t, "bad.json", "{"))
		assert.Error(t, err)
	})
	t.Run("Empty", func(t *testing.T) {
		_, err := Load(writeSuite(t, "empty.json", `{"name": "x", "ops": []}`))
		assert.Error(t, err)
	})
}

func buildHarness(t *testing.T) (*device.Context, *device.Registry) {
	t.Helper()
	rt := device.NewCPURuntime(0)
	return device.NewContext(rt, rt), device.NewRegistry(rt)
}

func TestBuild_Default(t *testing.T) {
	ctx, reg := buildHarness(t)

	built, err := Default().Build(ctx, reg)
	require.NoError(t, err)
	require.Len(t, built, 6)

	kinds := make([]ops.Kind, 0, len(built))
	for _, op := range built {
		kinds = append(kinds, op.Kind())
	}
	assert.Equal(t, []ops.Kind{
		ops.KindConvolution, ops.KindActivation, ops.KindPooling,
		ops.KindNormalization, ops.KindFullyConnected, ops.KindSoftmax,
	}, kinds)

	// The default suite is fully runnable: setup in order, forward, teardown
	// in reverse.
	for _, op := range built {
		require.NoError(t, op.Setup(), op.Name())
	}
	assert.Equal(t, "conv1", built[1].PrevName())
	assert.Equal(t, built[0].OutputShape(), built[1].InputShape())

	for _, op := range built {
		require.NoError(t, op.ForwardPropagation(), op.Name())
	}
	for i := len(built) - 1; i >= 0; i-- {
		require.NoError(t, built[i].Teardown(), built[i].Name())
	}
	assert.Equal(t, 0, reg.Stats().Live)
}

func TestBuild_Errors(t *testing.T) {
	ctx, reg := buildHarness(t)
	shape := &ShapeSpec{N: 1, C: 3, H: 8, W: 8}

	cases := []struct {
		name string
		s    Suite
	}{
		{"MissingName", Suite{Ops: []OpSpec{{Kind: "softmax", Input: shape}}}},
		{"DuplicateName", Suite{Ops: []OpSpec{
			{Kind: "softmax", Name: "a", Input: shape},
			{Kind: "softmax", Name: "a", Input: shape},
		}}},
		{"UnknownKind", Suite{Ops: []OpSpec{{Kind: "deconvolution", Name: "a", Input: shape}}}},
		{"UnknownPredecessor", Suite{Ops: []OpSpec{{Kind: "softmax", Name: "a", From: "ghost"}}}},
		{"BothInputAndFrom", Suite{Ops: []OpSpec{
			{Kind: "softmax", Name: "a", Input: shape},
			{Kind: "softmax", Name: "b", Input: shape, From: "a"},
		}}},
		{"NeitherInputNorFrom", Suite{Ops: []OpSpec{{Kind: "softmax", Name: "a"}}}},
		{"MissingConvParams", Suite{Ops: []OpSpec{{Kind: "convolution", Name: "a", Input: shape}}}},
		{"BadPreference", Suite{Ops: []OpSpec{{Kind: "convolution", Name: "a", Input: shape,
			Conv: &ConvSpec{OutputChannels: 4, Kernel: 3, Stride: 1, Preference: "psychic"}}}}},
		{"BadPoolMode", Suite{Ops: []OpSpec{{Kind: "pooling", Name: "a", Input: shape,
			Pool: &PoolSpec{Mode: "median", Window: 2}}}}},
		{"BadActivationMode", Suite{Ops: []OpSpec{{Kind: "activation", Name: "a", Input: shape,
			Activation: &ActivationSpec{Mode: "swish"}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.s.Build(ctx, reg)
			assert.Error(t, err)
		})
	}
}

func TestBuild_PoolStrideDefaultsToWindow(t *testing.T) {
	ctx, reg := buildHarness(t)

	s := Suite{Ops: []OpSpec{{
		Kind: "pooling", Name: "pool1",
		Input: &ShapeSpec{N: 1, C: 2, H: 8, W: 8},
		Pool:  &PoolSpec{Window: 2},
	}}}
	built, err := s.Build(ctx, reg)
	require.NoError(t, err)

	pool, ok := built[0].(*ops.Pooling)
	require.True(t, ok)
	assert.Equal(t, 2, pool.Params().StrideH)

	require.NoError(t, pool.Setup())
	assert.Equal(t, ops.Shape{N: 1, C: 2, H: 4, W: 4}, pool.OutputShape())
	require.NoError(t, pool.Teardown())
}

func TestBuild_NumInputs(t *testing.T) {
	ctx, reg := buildHarness(t)

	s := Suite{Ops: []OpSpec{{
		Kind: "convolution", Name: "conv1",
		Input:     &ShapeSpec{N: 2, C: 3, H: 8, W: 8},
		NumInputs: 2,
		Conv:      &ConvSpec{OutputChannels: 4, Kernel: 3, Pad: 1, Stride: 1},
	}}}
	built, err := s.Build(ctx, reg)
	require.NoError(t, err)

	require.NoError(t, built[0].Setup())
	assert.Len(t, built[0].Inputs(), 2)
	assert.Len(t, built[0].Outputs(), 2)
	require.NoError(t, built[0].Teardown())
}
