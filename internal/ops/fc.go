package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// FCParams are the driver-supplied fully-connected parameters.
type FCParams struct {
	OutputUnits int
}

// FullyConnected benchmarks a dense layer over the flattened input. The
// output shape is N x units x 1 x 1; a single weight matrix of
// (units, C*H*W) is shared across all logical inputs.
type FullyConnected struct {
	base
	params FCParams

	outShape    Shape
	outputs     []device.Handle
	outputGrads []device.Handle

	weights     device.Handle
	weightGrads device.Handle
}

var _ Operation = (*FullyConnected)(nil)

func NewFullyConnected(ctx *device.Context, reg *device.Registry, id int, name string, src InputSource, params FCParams) *FullyConnected {
	fc := &FullyConnected{
		base:   newBase(ctx, reg, KindFullyConnected, id, name, src),
		params: params,
	}
	fc.learnable = true
	return fc
}

func (fc *FullyConnected) Params() FCParams { return fc.params }

// Weights returns the weight buffer handle and its gradient.
func (fc *FullyConnected) Weights() (device.Handle, device.Handle) { return fc.weights, fc.weightGrads }

func (fc *FullyConnected) OutputShape() Shape               { return fc.outShape }
func (fc *FullyConnected) Outputs() []device.Handle         { return fc.outputs }
func (fc *FullyConnected) OutputGradients() []device.Handle { return fc.outputGrads }

func (fc *FullyConnected) Setup() error {
	if err := fc.guardSetup(); err != nil {
		return err
	}
	if err := fc.setupInputs(); err != nil {
		return err
	}

	if fc.params.OutputUnits <= 0 {
		return fmt.Errorf("%s (layer %d): %d output units: %w",
			fc.name, fc.id, fc.params.OutputUnits, ErrShapeInference)
	}
	fc.outShape = Shape{N: fc.inShape.N, C: fc.params.OutputUnits, H: 1, W: 1}

	bufs, grads, err := fc.allocPairs(fc.numInputs, fc.outShape.Elems())
	if err != nil {
		return err
	}
	fc.outputs = bufs
	fc.outputGrads = grads

	weightElems := fc.params.OutputUnits * fc.inShape.C * fc.inShape.H * fc.inShape.W
	if fc.weights, err = fc.alloc(weightElems); err != nil {
		return err
	}
	if fc.weightGrads, err = fc.alloc(weightElems); err != nil {
		return err
	}

	fc.st = stateReady
	return nil
}

func (fc *FullyConnected) ForwardPropagation() error {
	if err := fc.ready(); err != nil {
		return err
	}
	if err := fc.fillOnce(append([]device.Handle{fc.weights}, fc.inputs...)...); err != nil {
		return err
	}

	wBuf, err := fc.reg.GetBuffer(fc.weights)
	if err != nil {
		return fmt.Errorf("%s (layer %d): %w", fc.name, fc.id, err)
	}

	rt := fc.ctx.Runtime()
	prims := fc.ctx.Primitives()
	in := fc.inShape.Desc()

	rt.ProfilerStart()
	defer rt.ProfilerStop()

	for i := range fc.inputs {
		srcBuf, err := fc.reg.GetBuffer(fc.inputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", fc.name, fc.id, err)
		}
		dstBuf, err := fc.reg.GetBuffer(fc.outputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", fc.name, fc.id, err)
		}
		if err := prims.FullyConnectedForward(1, in, srcBuf.Mem(), wBuf.Mem(),
			fc.params.OutputUnits, 0, dstBuf.Mem()); err != nil {
			return fc.errf("forward fully-connected input %d: %v", i, err)
		}
	}
	return nil
}
