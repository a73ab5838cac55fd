package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Activation benchmarks an elementwise activation. Identity shape map, no
// workspace, no learnable parameters.
type Activation struct {
	base
	mode device.ActivationMode

	outputs     []device.Handle
	outputGrads []device.Handle
}

var _ Operation = (*Activation)(nil)

func NewActivation(ctx *device.Context, reg *device.Registry, id int, name string, src InputSource, mode device.ActivationMode) *Activation {
	return &Activation{
		base: newBase(ctx, reg, KindActivation, id, name, src),
		mode: mode,
	}
}

func (a *Activation) Mode() device.ActivationMode      { return a.mode }
func (a *Activation) OutputShape() Shape               { return a.inShape }
func (a *Activation) Outputs() []device.Handle         { return a.outputs }
func (a *Activation) OutputGradients() []device.Handle { return a.outputGrads }

func (a *Activation) Setup() error {
	if err := a.guardSetup(); err != nil {
		return err
	}
	if err := a.setupInputs(); err != nil {
		return err
	}

	bufs, grads, err := a.allocPairs(a.numInputs, a.inShape.Elems())
	if err != nil {
		return err
	}
	a.outputs = bufs
	a.outputGrads = grads

	a.st = stateReady
	return nil
}

func (a *Activation) ForwardPropagation() error {
	if err := a.ready(); err != nil {
		return err
	}
	if err := a.fillOnce(a.inputs...); err != nil {
		return err
	}

	rt := a.ctx.Runtime()
	prims := a.ctx.Primitives()
	in := a.inShape.Desc()

	rt.ProfilerStart()
	defer rt.ProfilerStop()

	for i := range a.inputs {
		srcBuf, err := a.reg.GetBuffer(a.inputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", a.name, a.id, err)
		}
		dstBuf, err := a.reg.GetBuffer(a.outputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", a.name, a.id, err)
		}
		if err := prims.ActivationForward(a.mode, 1, in, srcBuf.Mem(), 0, dstBuf.Mem()); err != nil {
			return a.errf("forward activation input %d: %v", i, err)
		}
	}
	return nil
}
