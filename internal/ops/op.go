package ops

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-whetstone/internal/device"
)

// Kind tags the six benchmarked primitive kinds.
type Kind int

const (
	KindConvolution Kind = iota
	KindPooling
	KindActivation
	KindNormalization
	KindFullyConnected
	KindSoftmax
)

func (k Kind) String() string {
	switch k {
	case KindConvolution:
		return "convolution"
	case KindPooling:
		return "pooling"
	case KindActivation:
		return "activation"
	case KindNormalization:
		return "normalization"
	case KindFullyConnected:
		return "fully_connected"
	case KindSoftmax:
		return "softmax"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady means a propagation call arrived before Setup, or after
	// Teardown. Caller ordering error, fatal to the run.
	ErrNotReady = errors.New("operation not ready")

	// ErrAlreadySetup guards the one-shot Setup contract: a second call
	// would double-allocate every owned buffer.
	ErrAlreadySetup = errors.New("operation already set up")

	// ErrShapeInference means a derived output dimension is zero or
	// negative for the given input shape and parameters.
	ErrShapeInference = errors.New("inferred output shape is not positive")
)

// Operation is the uniform lifecycle contract shared by all six variants.
// The driver calls Setup exactly once, then ForwardPropagation (and
// optionally BackwardPropagation) any number of times, then Teardown.
type Operation interface {
	Kind() Kind
	ID() int
	Name() string
	PrevName() string
	HasLearnableParams() bool

	InputShape() Shape
	OutputShape() Shape
	Inputs() []device.Handle
	InputGradients() []device.Handle
	Outputs() []device.Handle
	OutputGradients() []device.Handle

	Setup() error
	ForwardPropagation() error
	BackwardPropagation() error
	Teardown() error
}

type inputMode int

const (
	standalone inputMode = iota
	composed
)

// InputSource is the explicit choice between the two wiring modes: a
// standalone benchmark that owns its input buffers, or a composed benchmark
// consuming the output buffers of an upstream operation.
type InputSource struct {
	mode     inputMode
	shape    Shape
	upstream Operation
}

// StandaloneInput declares a fully specified input shape; Setup will
// allocate one input buffer and one gradient buffer per logical input.
func StandaloneInput(shape Shape) InputSource {
	return InputSource{mode: standalone, shape: shape}
}

// ComposedFrom wires the operation's inputs to the upstream operation's
// output buffers. The upstream must be Ready before this operation's Setup
// runs; the driver sequences calls in dependency order.
func ComposedFrom(upstream Operation) InputSource {
	return InputSource{mode: composed, upstream: upstream}
}

type state int

const (
	stateUnconfigured state = iota
	stateConfigured
	stateReady
)

// base carries the identity, input wiring and lifecycle state shared by the
// variants. Variants embed it and drive it from their Setup.
type base struct {
	ctx *device.Context
	reg *device.Registry

	kind      Kind
	id        int
	name      string
	prev      string
	learnable bool

	numInputs int
	src       InputSource
	inShape   Shape

	st     state
	torn   bool
	filled bool

	inputs     []device.Handle
	inputGrads []device.Handle

	// every buffer this operation created, released in reverse at Teardown
	owned []device.Handle
}

func newBase(ctx *device.Context, reg *device.Registry, kind Kind, id int, name string, src InputSource) base {
	prev := ""
	if src.mode == composed && src.upstream != nil {
		prev = src.upstream.Name()
	}
	return base{
		ctx:       ctx,
		reg:       reg,
		kind:      kind,
		id:        id,
		name:      name,
		prev:      prev,
		numInputs: 1,
		src:       src,
		st:        stateConfigured,
	}
}

// SetNumInputs sets how many logical inputs are benchmarked per pass
// (default 1). Standalone mode allocates one input/gradient pair per
// logical input; all inputs share one weight set. Ignored once Ready.
func (b *base) SetNumInputs(n int) {
	if n > 0 && b.st != stateReady {
		b.numInputs = n
	}
}

func (b *base) Kind() Kind                      { return b.kind }
func (b *base) ID() int                         { return b.id }
func (b *base) Name() string                    { return b.name }
func (b *base) PrevName() string                { return b.prev }
func (b *base) HasLearnableParams() bool        { return b.learnable }
func (b *base) InputShape() Shape               { return b.inShape }
func (b *base) Inputs() []device.Handle         { return b.inputs }
func (b *base) InputGradients() []device.Handle { return b.inputGrads }

// errf prefixes errors with the operation identity so a failing run names
// the offending layer.
func (b *base) errf(format string, args ...interface{}) error {
	return fmt.Errorf("%s (layer %d): %w", b.name, b.id, fmt.Errorf(format, args...))
}

func (b *base) guardSetup() error {
	if b.st == stateReady {
		return fmt.Errorf("%s (layer %d): %w", b.name, b.id, ErrAlreadySetup)
	}
	return nil
}

func (b *base) ready() error {
	if b.st != stateReady || b.torn {
		return fmt.Errorf("%s (layer %d): %w", b.name, b.id, ErrNotReady)
	}
	return nil
}

func (b *base) alloc(elems int) (device.Handle, error) {
	h, err := b.reg.CreateBuffer(elems)
	if err != nil {
		return 0, fmt.Errorf("%s (layer %d): %w", b.name, b.id, err)
	}
	b.owned = append(b.owned, h)
	return h, nil
}

// allocPairs creates n matched data/gradient buffer pairs of elems each.
func (b *base) allocPairs(n, elems int) (bufs, grads []device.Handle, err error) {
	bufs = make([]device.Handle, 0, n)
	grads = make([]device.Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := b.alloc(elems)
		if err != nil {
			return nil, nil, err
		}
		bufs = append(bufs, h)
		g, err := b.alloc(elems)
		if err != nil {
			return nil, nil, err
		}
		grads = append(grads, g)
	}
	return bufs, grads, nil
}

// setupInputs resolves the input wiring. Standalone mode allocates
// numInputs data+gradient buffer pairs sized from the input shape; composed
// mode adopts the upstream's output buffers without allocating.
func (b *base) setupInputs() error {
	switch b.src.mode {
	case standalone:
		if !b.src.shape.Valid() {
			return b.errf("standalone input shape %s is not fully positive", b.src.shape)
		}
		b.inShape = b.src.shape
		bufs, grads, err := b.allocPairs(b.numInputs, b.inShape.Elems())
		if err != nil {
			return err
		}
		b.inputs = bufs
		b.inputGrads = grads
		return nil

	case composed:
		up := b.src.upstream
		if up == nil {
			return b.errf("composed input has no upstream operation")
		}
		outs := up.Outputs()
		if len(outs) == 0 {
			return fmt.Errorf("%s (layer %d): upstream %q has no outputs: %w",
				b.name, b.id, up.Name(), ErrNotReady)
		}
		b.inShape = up.OutputShape()
		b.inputs = outs
		b.inputGrads = up.OutputGradients()
		b.numInputs = len(outs)
		return nil

	default:
		return b.errf("unknown input mode %d", b.src.mode)
	}
}

// fillOnce populates the given buffers with deterministic benchmark data on
// the first call; later calls are no-ops so repeated forward passes time
// compute, not host transfers.
func (b *base) fillOnce(handles ...device.Handle) error {
	if b.filled {
		return nil
	}
	for _, h := range handles {
		if h == 0 {
			continue
		}
		buf, err := b.reg.GetBuffer(h)
		if err != nil {
			return fmt.Errorf("%s (layer %d): %w", b.name, b.id, err)
		}
		if err := Fill(b.ctx.Runtime(), buf, int64(b.id)<<32|int64(h)); err != nil {
			return b.errf("fill buffer %d: %v", h, err)
		}
	}
	b.filled = true
	return nil
}

// BackwardPropagation on the base contract is a guarded no-op; variants
// with backward compute override it.
func (b *base) BackwardPropagation() error {
	return b.ready()
}

// Teardown releases every buffer the operation created, newest first.
// Composed inputs belong to the upstream operation and are left alone.
// A second Teardown is a no-op.
func (b *base) Teardown() error {
	if b.torn {
		return nil
	}
	b.torn = true
	for i := len(b.owned) - 1; i >= 0; i-- {
		if err := b.reg.ReleaseBuffer(b.owned[i]); err != nil {
			return fmt.Errorf("%s (layer %d): %w", b.name, b.id, err)
		}
	}
	b.owned = nil
	return nil
}
