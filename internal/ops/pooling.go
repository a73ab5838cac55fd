package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// PoolParams are the driver-supplied pooling parameters.
type PoolParams struct {
	Mode             device.PoolMode
	WindowH, WindowW int
	PadH, PadW       int
	StrideH, StrideW int
}

// Pooling benchmarks a 2-D max or average pooling pass. No workspace and no
// learnable parameters; the channel count is preserved.
type Pooling struct {
	base
	params PoolParams

	outShape    Shape
	outputs     []device.Handle
	outputGrads []device.Handle
}

var _ Operation = (*Pooling)(nil)

func NewPooling(ctx *device.Context, reg *device.Registry, id int, name string, src InputSource, params PoolParams) *Pooling {
	return &Pooling{
		base:   newBase(ctx, reg, KindPooling, id, name, src),
		params: params,
	}
}

func (p *Pooling) Params() PoolParams               { return p.params }
func (p *Pooling) OutputShape() Shape               { return p.outShape }
func (p *Pooling) Outputs() []device.Handle         { return p.outputs }
func (p *Pooling) OutputGradients() []device.Handle { return p.outputGrads }

func (p *Pooling) computeOutputShape() Shape {
	return Shape{
		N: p.inShape.N,
		C: p.inShape.C,
		H: (p.inShape.H+2*p.params.PadH-p.params.WindowH)/p.params.StrideH + 1,
		W: (p.inShape.W+2*p.params.PadW-p.params.WindowW)/p.params.StrideW + 1,
	}
}

func (p *Pooling) Setup() error {
	if err := p.guardSetup(); err != nil {
		return err
	}
	if err := p.setupInputs(); err != nil {
		return err
	}

	p.outShape = p.computeOutputShape()
	if !p.outShape.Valid() {
		return fmt.Errorf("%s (layer %d): output %s from input %s: %w",
			p.name, p.id, p.outShape, p.inShape, ErrShapeInference)
	}

	bufs, grads, err := p.allocPairs(p.numInputs, p.outShape.Elems())
	if err != nil {
		return err
	}
	p.outputs = bufs
	p.outputGrads = grads

	p.st = stateReady
	return nil
}

func (p *Pooling) ForwardPropagation() error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.fillOnce(p.inputs...); err != nil {
		return err
	}

	rt := p.ctx.Runtime()
	prims := p.ctx.Primitives()
	in := p.inShape.Desc()
	out := p.outShape.Desc()
	pool := device.PoolDesc{
		WinH: p.params.WindowH, WinW: p.params.WindowW,
		PadH: p.params.PadH, PadW: p.params.PadW,
		StrideH: p.params.StrideH, StrideW: p.params.StrideW,
	}

	rt.ProfilerStart()
	defer rt.ProfilerStop()

	for i := range p.inputs {
		srcBuf, err := p.reg.GetBuffer(p.inputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", p.name, p.id, err)
		}
		dstBuf, err := p.reg.GetBuffer(p.outputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", p.name, p.id, err)
		}
		if err := prims.PoolForward(p.params.Mode, pool, 1, in, srcBuf.Mem(), 0, out, dstBuf.Mem()); err != nil {
			return p.errf("forward pooling input %d: %v", i, err)
		}
	}
	return nil
}
