package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// LRNParams are the driver-supplied local response normalization parameters.
type LRNParams struct {
	LocalSize int
	Alpha     float32
	Beta      float32
	K         float32
}

// Normalization benchmarks cross-channel local response normalization.
// Identity shape map, no workspace.
type Normalization struct {
	base
	params LRNParams

	outputs     []device.Handle
	outputGrads []device.Handle
}

var _ Operation = (*Normalization)(nil)

func NewNormalization(ctx *device.Context, reg *device.Registry, id int, name string, src InputSource, params LRNParams) *Normalization {
	return &Normalization{
		base:   newBase(ctx, reg, KindNormalization, id, name, src),
		params: params,
	}
}

func (l *Normalization) Params() LRNParams                { return l.params }
func (l *Normalization) OutputShape() Shape               { return l.inShape }
func (l *Normalization) Outputs() []device.Handle         { return l.outputs }
func (l *Normalization) OutputGradients() []device.Handle { return l.outputGrads }

func (l *Normalization) Setup() error {
	if err := l.guardSetup(); err != nil {
		return err
	}
	if err := l.setupInputs(); err != nil {
		return err
	}

	bufs, grads, err := l.allocPairs(l.numInputs, l.inShape.Elems())
	if err != nil {
		return err
	}
	l.outputs = bufs
	l.outputGrads = grads

	l.st = stateReady
	return nil
}

func (l *Normalization) ForwardPropagation() error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.fillOnce(l.inputs...); err != nil {
		return err
	}

	rt := l.ctx.Runtime()
	prims := l.ctx.Primitives()
	in := l.inShape.Desc()
	lrn := device.LRNDesc{
		LocalSize: l.params.LocalSize,
		Alpha:     l.params.Alpha,
		Beta:      l.params.Beta,
		K:         l.params.K,
	}

	rt.ProfilerStart()
	defer rt.ProfilerStop()

	for i := range l.inputs {
		srcBuf, err := l.reg.GetBuffer(l.inputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", l.name, l.id, err)
		}
		dstBuf, err := l.reg.GetBuffer(l.outputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", l.name, l.id, err)
		}
		if err := prims.LRNForward(lrn, 1, in, srcBuf.Mem(), 0, dstBuf.Mem()); err != nil {
			return l.errf("forward normalization input %d: %v", i, err)
		}
	}
	return nil
}
