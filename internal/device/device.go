package device

import "errors"

// Mem is an opaque reference to a block of device-resident memory.
// Concrete runtimes return their own types.
type Mem interface{}

var (
	// ErrOutOfDeviceMemory means an allocation request exceeded the memory
	// available on the accelerator. Not retried; the benchmark run for
	// that shape cannot proceed.
	ErrOutOfDeviceMemory = errors.New("out of device memory")

	// ErrInvalidHandle means a released or never-issued buffer handle was
	// used. Always a lifecycle defect in the caller, never recovered.
	ErrInvalidHandle = errors.New("invalid buffer handle")

	// ErrAlgorithmSelection means the primitives library could not produce
	// a forward algorithm for the given shapes. No fallback is attempted.
	ErrAlgorithmSelection = errors.New("forward algorithm selection failed")

	// ErrWorkspaceQuery means the primitives library could not report a
	// workspace size for the selected algorithm and shapes.
	ErrWorkspaceQuery = errors.New("workspace size query failed")
)

// Runtime is the accelerator runtime boundary: device memory management,
// synchronous dispatch and the profiling bracket around timed compute.
type Runtime interface {
	Name() string

	// Alloc reserves a block of elems float32 elements of device memory.
	Alloc(elems int) (Mem, error)

	// Free releases a block previously returned by Alloc.
	Free(m Mem) error

	// CopyToDevice writes data into the block starting at offset (in elements).
	CopyToDevice(m Mem, offset int, data []float32) error

	// CopyToHost reads len(dst) elements from the block starting at offset.
	CopyToHost(dst []float32, m Mem, offset int) error

	// Synchronize blocks until all queued device work has completed.
	Synchronize()

	// ProfilerStart and ProfilerStop bracket the timed portion of a
	// forward pass, mirroring the runtime's own profiling region.
	ProfilerStart()
	ProfilerStop()
}

// AlgoPreference is the advisory hint passed to forward-algorithm selection.
type AlgoPreference int

const (
	// PreferFastest selects the fastest algorithm regardless of workspace needs.
	PreferFastest AlgoPreference = iota
	// PreferNoWorkspace selects an algorithm that requires no scratch memory.
	PreferNoWorkspace
)

func (p AlgoPreference) String() string {
	switch p {
	case PreferFastest:
		return "fastest"
	case PreferNoWorkspace:
		return "no-workspace"
	default:
		return "unknown"
	}
}

// ConvAlgo identifies a forward convolution algorithm.
type ConvAlgo int

const (
	AlgoNone ConvAlgo = iota
	AlgoDirect
	AlgoGEMM
)

func (a ConvAlgo) String() string {
	switch a {
	case AlgoDirect:
		return "direct"
	case AlgoGEMM:
		return "gemm"
	default:
		return "none"
	}
}

// PoolMode selects the pooling reduction.
type PoolMode int

const (
	MaxPool PoolMode = iota
	AvgPool
)

func (m PoolMode) String() string {
	if m == AvgPool {
		return "avg"
	}
	return "max"
}

// ActivationMode selects the elementwise activation function.
type ActivationMode int

const (
	ActReLU ActivationMode = iota
	ActSigmoid
	ActTanh
)

func (m ActivationMode) String() string {
	switch m {
	case ActSigmoid:
		return "sigmoid"
	case ActTanh:
		return "tanh"
	default:
		return "relu"
	}
}

// TensorDesc describes a 4-D tensor in NCHW layout.
type TensorDesc struct {
	N, C, H, W int
}

func (d TensorDesc) Elems() int {
	return d.N * d.C * d.H * d.W
}

// FilterDesc describes a convolution filter bank.
type FilterDesc struct {
	OutC, InC, H, W int
}

func (d FilterDesc) Elems() int {
	return d.OutC * d.InC * d.H * d.W
}

// ConvDesc holds convolution padding and stride.
type ConvDesc struct {
	PadH, PadW       int
	StrideH, StrideW int
}

// PoolDesc holds pooling window geometry.
type PoolDesc struct {
	WinH, WinW       int
	PadH, PadW       int
	StrideH, StrideW int
}

// LRNDesc holds local response normalization parameters.
type LRNDesc struct {
	LocalSize int
	Alpha     float32
	Beta      float32
	K         float32
}

// Primitives is the accelerator primitives library boundary: algorithm and
// workspace queries plus the forward compute entry points. All compute calls
// take alpha/beta scale-and-accumulate coefficients; dst = alpha*op + beta*dst.
type Primitives interface {
	// ConvForwardAlgo queries the best forward algorithm for the given
	// shapes. The result is advisory: any algorithm valid for the shapes
	// may be returned.
	ConvForwardAlgo(in TensorDesc, filter FilterDesc, conv ConvDesc, out TensorDesc, pref AlgoPreference) (ConvAlgo, error)

	// ConvForwardWorkspace reports the scratch size in elements required
	// by algo for the given shapes. Zero is valid and means no scratch.
	ConvForwardWorkspace(in TensorDesc, filter FilterDesc, conv ConvDesc, out TensorDesc, algo ConvAlgo) (int, error)

	ConvForward(alpha float32, in TensorDesc, src Mem, filter FilterDesc, weights Mem,
		conv ConvDesc, algo ConvAlgo, scratch Mem, scratchElems int,
		beta float32, out TensorDesc, dst Mem) error

	PoolForward(mode PoolMode, pool PoolDesc, alpha float32, in TensorDesc, src Mem,
		beta float32, out TensorDesc, dst Mem) error

	ActivationForward(mode ActivationMode, alpha float32, in TensorDesc, src Mem,
		beta float32, dst Mem) error

	LRNForward(lrn LRNDesc, alpha float32, in TensorDesc, src Mem,
		beta float32, dst Mem) error

	FullyConnectedForward(alpha float32, in TensorDesc, src Mem, weights Mem, units int,
		beta float32, dst Mem) error

	SoftmaxForward(alpha float32, in TensorDesc, src Mem,
		beta float32, dst Mem) error
}
