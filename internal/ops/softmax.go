package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Softmax benchmarks a channel-wise softmax. Identity shape map, no
// workspace, no learnable parameters.
type Softmax struct {
	base

	outputs     []device.Handle
	outputGrads []device.Handle
}

var _ Operation = (*Softmax)(nil)

func NewSoftmax(ctx *device.Context, reg *device.Registry, id int, name string, src InputSource) *Softmax {
	return &Softmax{
		base: newBase(ctx, reg, KindSoftmax, id, name, src),
	}
}

func (s *Softmax) OutputShape() Shape               { return s.inShape }
func (s *Softmax) Outputs() []device.Handle         { return s.outputs }
func (s *Softmax) OutputGradients() []device.Handle { return s.outputGrads }

func (s *Softmax) Setup() error {
	if err := s.guardSetup(); err != nil {
		return err
	}
	if err := s.setupInputs(); err != nil {
		return err
	}

	bufs, grads, err := s.allocPairs(s.numInputs, s.inShape.Elems())
	if err != nil {
		return err
	}
	s.outputs = bufs
	s.outputGrads = grads

	s.st = stateReady
	return nil
}

func (s *Softmax) ForwardPropagation() error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.fillOnce(s.inputs...); err != nil {
		return err
	}

	rt := s.ctx.Runtime()
	prims := s.ctx.Primitives()
	in := s.inShape.Desc()

	rt.ProfilerStart()
	defer rt.ProfilerStop()

	for i := range s.inputs {
		srcBuf, err := s.reg.GetBuffer(s.inputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", s.name, s.id, err)
		}
		dstBuf, err := s.reg.GetBuffer(s.outputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", s.name, s.id, err)
		}
		if err := prims.SoftmaxForward(1, in, srcBuf.Mem(), 0, dstBuf.Mem()); err != nil {
			return s.errf("forward softmax input %d: %v", i, err)
		}
	}
	return nil
}
