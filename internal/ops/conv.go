package ops

import (
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// ConvParams are the driver-supplied convolution parameters.
type ConvParams struct {
	OutputChannels   int
	KernelH, KernelW int
	PadH, PadW       int
	StrideH, StrideW int
	Preference       device.AlgoPreference
}

// Convolution benchmarks a 2-D forward convolution. It owns its output and
// weight buffers; scratch memory for the selected algorithm is allocated
// once at Setup and held until Teardown so repeated forward passes reuse it.
type Convolution struct {
	base
	params ConvParams

	outShape    Shape
	outputs     []device.Handle
	outputGrads []device.Handle

	weights     device.Handle
	weightGrads device.Handle

	algo         device.ConvAlgo
	scratch      device.Handle
	scratchElems int
}

var _ Operation = (*Convolution)(nil)

func NewConvolution(ctx *device.Context, reg *device.Registry, id int, name string, src InputSource, params ConvParams) *Convolution {
	c := &Convolution{
		base:   newBase(ctx, reg, KindConvolution, id, name, src),
		params: params,
	}
	c.learnable = true
	return c
}

func (c *Convolution) Params() ConvParams               { return c.params }
func (c *Convolution) OutputShape() Shape               { return c.outShape }
func (c *Convolution) Outputs() []device.Handle         { return c.outputs }
func (c *Convolution) OutputGradients() []device.Handle { return c.outputGrads }

// Weights returns the shared weight buffer handle and its gradient.
func (c *Convolution) Weights() (device.Handle, device.Handle) { return c.weights, c.weightGrads }

// Algorithm returns the forward algorithm selected at Setup.
func (c *Convolution) Algorithm() device.ConvAlgo { return c.algo }

// Scratch returns the workspace handle and its size in elements. The handle
// is zero when the selected algorithm needs no workspace.
func (c *Convolution) Scratch() (device.Handle, int) { return c.scratch, c.scratchElems }

// computeOutputShape applies the floor-division convolution shape rule.
func (c *Convolution) computeOutputShape() Shape {
	return Shape{
		N: c.inShape.N,
		C: c.params.OutputChannels,
		H: (c.inShape.H+2*c.params.PadH-c.params.KernelH)/c.params.StrideH + 1,
		W: (c.inShape.W+2*c.params.PadW-c.params.KernelW)/c.params.StrideW + 1,
	}
}

func (c *Convolution) filterDesc() device.FilterDesc {
	return device.FilterDesc{
		OutC: c.params.OutputChannels,
		InC:  c.inShape.C,
		H:    c.params.KernelH,
		W:    c.params.KernelW,
	}
}

func (c *Convolution) convDesc() device.ConvDesc {
	return device.ConvDesc{
		PadH: c.params.PadH, PadW: c.params.PadW,
		StrideH: c.params.StrideH, StrideW: c.params.StrideW,
	}
}

func (c *Convolution) Setup() error {
	if err := c.guardSetup(); err != nil {
		return err
	}
	if err := c.setupInputs(); err != nil {
		return err
	}

	c.outShape = c.computeOutputShape()
	if !c.outShape.Valid() {
		return fmt.Errorf("%s (layer %d): output %s from input %s: %w",
			c.name, c.id, c.outShape, c.inShape, ErrShapeInference)
	}

	// One output per logical input; multiple inputs share one weight set.
	bufs, grads, err := c.allocPairs(c.numInputs, c.outShape.Elems())
	if err != nil {
		return err
	}
	c.outputs = bufs
	c.outputGrads = grads

	filter := c.filterDesc()
	if c.weights, err = c.alloc(filter.Elems()); err != nil {
		return err
	}
	if c.weightGrads, err = c.alloc(filter.Elems()); err != nil {
		return err
	}

	if err := c.selectAlgorithm(); err != nil {
		return err
	}

	if c.scratchElems > 0 {
		if c.scratch, err = c.alloc(c.scratchElems); err != nil {
			return err
		}
	}

	c.st = stateReady
	return nil
}

// selectAlgorithm queries (or recalls from the context cache) the forward
// algorithm and its workspace size. Query failures are fatal; no fallback
// algorithm is attempted.
func (c *Convolution) selectAlgorithm() error {
	in := c.inShape.Desc()
	out := c.outShape.Desc()
	filter := c.filterDesc()
	conv := c.convDesc()

	key := device.ConvKey(in, filter, conv, c.params.Preference)
	if choice, ok := c.ctx.Algos().Get(key); ok {
		c.algo = choice.Algo
		c.scratchElems = choice.WorkspaceElems
		return nil
	}

	algo, err := c.ctx.Primitives().ConvForwardAlgo(in, filter, conv, out, c.params.Preference)
	if err != nil {
		return fmt.Errorf("%s (layer %d): %w", c.name, c.id, err)
	}
	elems, err := c.ctx.Primitives().ConvForwardWorkspace(in, filter, conv, out, algo)
	if err != nil {
		return fmt.Errorf("%s (layer %d): %w", c.name, c.id, err)
	}

	c.algo = algo
	c.scratchElems = elems
	c.ctx.Algos().Put(key, device.AlgoChoice{Algo: algo, WorkspaceElems: elems})
	return nil
}

// ForwardPropagation runs one forward convolution per logical input with
// unit scale coefficients (alpha=1, beta=0: outputs overwritten, not
// accumulated), bracketed by the runtime's profiling region.
func (c *Convolution) ForwardPropagation() error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.fillOnce(append([]device.Handle{c.weights}, c.inputs...)...); err != nil {
		return err
	}

	wBuf, err := c.reg.GetBuffer(c.weights)
	if err != nil {
		return fmt.Errorf("%s (layer %d): %w", c.name, c.id, err)
	}
	var scratchMem device.Mem
	if c.scratch != 0 {
		sBuf, err := c.reg.GetBuffer(c.scratch)
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", c.name, c.id, err)
		}
		scratchMem = sBuf.Mem()
	}

	rt := c.ctx.Runtime()
	prims := c.ctx.Primitives()
	in := c.inShape.Desc()
	out := c.outShape.Desc()
	filter := c.filterDesc()
	conv := c.convDesc()

	rt.ProfilerStart()
	defer rt.ProfilerStop()

	for i := range c.inputs {
		srcBuf, err := c.reg.GetBuffer(c.inputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", c.name, c.id, err)
		}
		dstBuf, err := c.reg.GetBuffer(c.outputs[i])
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", c.name, c.id, err)
		}
		if err := prims.ConvForward(1, in, srcBuf.Mem(), filter, wBuf.Mem(),
			conv, c.algo, scratchMem, c.scratchElems, 0, out, dstBuf.Mem()); err != nil {
			return c.errf("forward convolution input %d: %v", i, err)
		}
	}
	return nil
}

// BackwardPropagation is intentionally a no-op beyond the readiness guard;
// backward convolution compute is future work.
func (c *Convolution) BackwardPropagation() error {
	return c.ready()
}
