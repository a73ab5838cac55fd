package device

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Interface compliance
var (
	_ Runtime    = (*CPURuntime)(nil)
	_ Primitives = (*CPURuntime)(nil)
)

// hostBlock is the CPURuntime's device memory block.
type hostBlock struct {
	data []float32
}

// CPURuntime is the reference accelerator: host-slice memory with a
// configurable capacity, synchronous dispatch and BLAS-backed kernels.
// It stands in for the external runtime and primitives library so the
// harness runs and is testable without device hardware.
type CPURuntime struct {
	mu       sync.Mutex
	capacity int // elements; 0 means unlimited
	used     int
	live     map[*hostBlock]struct{}
}

// NewCPURuntime builds a runtime with the given memory capacity in float32
// elements. A capacity of 0 means unlimited.
func NewCPURuntime(capacityElems int) *CPURuntime {
	return &CPURuntime{
		capacity: capacityElems,
		live:     make(map[*hostBlock]struct{}),
	}
}

func (r *CPURuntime) Name() string { return "cpu" }

func (r *CPURuntime) Alloc(elems int) (Mem, error) {
	if elems < 0 {
		return nil, fmt.Errorf("alloc: negative size %d", elems)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && r.used+elems > r.capacity {
		return nil, fmt.Errorf("alloc %d elems (%d used of %d): %w",
			elems, r.used, r.capacity, ErrOutOfDeviceMemory)
	}
	b := &hostBlock{data: make([]float32, elems)}
	r.used += elems
	r.live[b] = struct{}{}
	return b, nil
}

func (r *CPURuntime) Free(m Mem) error {
	b, err := r.block(m)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[b]; !ok {
		return fmt.Errorf("free: block not live")
	}
	delete(r.live, b)
	r.used -= len(b.data)
	return nil
}

func (r *CPURuntime) CopyToDevice(m Mem, offset int, data []float32) error {
	b, err := r.block(m)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("copy to device: range [%d,%d) exceeds block of %d elems",
			offset, offset+len(data), len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (r *CPURuntime) CopyToHost(dst []float32, m Mem, offset int) error {
	b, err := r.block(m)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(dst) > len(b.data) {
		return fmt.Errorf("copy to host: range [%d,%d) exceeds block of %d elems",
			offset, offset+len(dst), len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

// Synchronize is a no-op: the CPU runtime is always synchronous.
func (r *CPURuntime) Synchronize() {}

func (r *CPURuntime) ProfilerStart() {}
func (r *CPURuntime) ProfilerStop()  {}

// Used reports the number of device elements currently allocated.
func (r *CPURuntime) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

func (r *CPURuntime) block(m Mem) (*hostBlock, error) {
	b, ok := m.(*hostBlock)
	if !ok || b == nil {
		return nil, fmt.Errorf("foreign or nil device memory %T", m)
	}
	return b, nil
}

//
// Primitives
//

// ConvForwardAlgo honors the preference hint: no-workspace requests get the
// direct algorithm, everything else the im2col+GEMM path.
func (r *CPURuntime) ConvForwardAlgo(in TensorDesc, filter FilterDesc, conv ConvDesc, out TensorDesc, pref AlgoPreference) (ConvAlgo, error) {
	if in.C != filter.InC || out.C != filter.OutC || out.N != in.N {
		return AlgoNone, fmt.Errorf("conv shapes in=%+v filter=%+v out=%+v: %w",
			in, filter, out, ErrAlgorithmSelection)
	}
	if pref == PreferNoWorkspace {
		return AlgoDirect, nil
	}
	return AlgoGEMM, nil
}

func (r *CPURuntime) ConvForwardWorkspace(in TensorDesc, filter FilterDesc, conv ConvDesc, out TensorDesc, algo ConvAlgo) (int, error) {
	switch algo {
	case AlgoDirect:
		return 0, nil
	case AlgoGEMM:
		// One im2col matrix per batch image, reused across the batch.
		return filter.InC * filter.H * filter.W * out.H * out.W, nil
	default:
		return 0, fmt.Errorf("algo %s: %w", algo, ErrWorkspaceQuery)
	}
}

func (r *CPURuntime) ConvForward(alpha float32, in TensorDesc, src Mem, filter FilterDesc, weights Mem,
	conv ConvDesc, algo ConvAlgo, scratch Mem, scratchElems int,
	beta float32, out TensorDesc, dst Mem) error {

	sb, err := r.block(src)
	if err != nil {
		return err
	}
	wb, err := r.block(weights)
	if err != nil {
		return err
	}
	db, err := r.block(dst)
	if err != nil {
		return err
	}

	switch algo {
	case AlgoDirect:
		convDirect(alpha, in, sb.data, filter, wb.data, conv, beta, out, db.data)
		return nil
	case AlgoGEMM:
		need := filter.InC * filter.H * filter.W * out.H * out.W
		if scratchElems < need {
			return fmt.Errorf("conv gemm: workspace %d elems, need %d", scratchElems, need)
		}
		cb, err := r.block(scratch)
		if err != nil {
			return err
		}
		convGEMM(alpha, in, sb.data, filter, wb.data, conv, cb.data[:need], beta, out, db.data)
		return nil
	default:
		return fmt.Errorf("conv forward: unsupported algo %s", algo)
	}
}

func convDirect(alpha float32, in TensorDesc, src []float32, filter FilterDesc, w []float32,
	conv ConvDesc, beta float32, out TensorDesc, dst []float32) {

	for n := 0; n < out.N; n++ {
		for oc := 0; oc < out.C; oc++ {
			for oh := 0; oh < out.H; oh++ {
				for ow := 0; ow < out.W; ow++ {
					var sum float32
					for ic := 0; ic < filter.InC; ic++ {
						for kh := 0; kh < filter.H; kh++ {
							ih := oh*conv.StrideH - conv.PadH + kh
							if ih < 0 || ih >= in.H {
								continue
							}
							for kw := 0; kw < filter.W; kw++ {
								iw := ow*conv.StrideW - conv.PadW + kw
								if iw < 0 || iw >= in.W {
									continue
								}
								sum += src[((n*in.C+ic)*in.H+ih)*in.W+iw] *
									w[((oc*filter.InC+ic)*filter.H+kh)*filter.W+kw]
							}
						}
					}
					di := ((n*out.C+oc)*out.H+oh)*out.W + ow
					dst[di] = alpha*sum + beta*dst[di]
				}
			}
		}
	}
}

// convGEMM lowers one batch image at a time into the cols workspace and
// multiplies against the filter bank viewed as (OutC, InC*KH*KW).
func convGEMM(alpha float32, in TensorDesc, src []float32, filter FilterDesc, w []float32,
	conv ConvDesc, cols []float32, beta float32, out TensorDesc, dst []float32) {

	k := filter.InC * filter.H * filter.W
	m := out.H * out.W

	wMat := blas32.General{Rows: filter.OutC, Cols: k, Stride: k, Data: w}

	for n := 0; n < in.N; n++ {
		im2col(in, src[n*in.C*in.H*in.W:], filter, conv, out, cols)

		colMat := blas32.General{Rows: k, Cols: m, Stride: m, Data: cols}
		dstMat := blas32.General{
			Rows: out.C, Cols: m, Stride: m,
			Data: dst[n*out.C*m : (n+1)*out.C*m],
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, alpha, wMat, colMat, beta, dstMat)
	}
}

func im2col(in TensorDesc, src []float32, filter FilterDesc, conv ConvDesc, out TensorDesc, cols []float32) {
	m := out.H * out.W
	for ic := 0; ic < filter.InC; ic++ {
		for kh := 0; kh < filter.H; kh++ {
			for kw := 0; kw < filter.W; kw++ {
				row := (ic*filter.H+kh)*filter.W + kw
				for oh := 0; oh < out.H; oh++ {
					ih := oh*conv.StrideH - conv.PadH + kh
					for ow := 0; ow < out.W; ow++ {
						iw := ow*conv.StrideW - conv.PadW + kw
						var v float32
						if ih >= 0 && ih < in.H && iw >= 0 && iw < in.W {
							v = src[(ic*in.H+ih)*in.W+iw]
						}
						cols[row*m+oh*out.W+ow] = v
					}
				}
			}
		}
	}
}

func (r *CPURuntime) PoolForward(mode PoolMode, pool PoolDesc, alpha float32, in TensorDesc, src Mem,
	beta float32, out TensorDesc, dst Mem) error {

	sb, err := r.block(src)
	if err != nil {
		return err
	}
	db, err := r.block(dst)
	if err != nil {
		return err
	}

	for n := 0; n < out.N; n++ {
		for c := 0; c < out.C; c++ {
			base := (n*in.C + c) * in.H * in.W
			for oh := 0; oh < out.H; oh++ {
				for ow := 0; ow < out.W; ow++ {
					best := float32(math.Inf(-1))
					var sum float32
					count := 0
					for kh := 0; kh < pool.WinH; kh++ {
						ih := oh*pool.StrideH - pool.PadH + kh
						if ih < 0 || ih >= in.H {
							continue
						}
						for kw := 0; kw < pool.WinW; kw++ {
							iw := ow*pool.StrideW - pool.PadW + kw
							if iw < 0 || iw >= in.W {
								continue
							}
							v := sb.data[base+ih*in.W+iw]
							if v > best {
								best = v
							}
							sum += v
							count++
						}
					}
					var v float32
					if mode == AvgPool {
						if count > 0 {
							v = sum / float32(count)
						}
					} else if count > 0 {
						v = best
					}
					di := ((n*out.C+c)*out.H+oh)*out.W + ow
					db.data[di] = alpha*v + beta*db.data[di]
				}
			}
		}
	}
	return nil
}

func (r *CPURuntime) ActivationForward(mode ActivationMode, alpha float32, in TensorDesc, src Mem,
	beta float32, dst Mem) error {

	sb, err := r.block(src)
	if err != nil {
		return err
	}
	db, err := r.block(dst)
	if err != nil {
		return err
	}

	n := in.Elems()
	for i := 0; i < n; i++ {
		x := sb.data[i]
		var v float32
		switch mode {
		case ActSigmoid:
			v = float32(1 / (1 + math.Exp(-float64(x))))
		case ActTanh:
			v = float32(math.Tanh(float64(x)))
		default:
			if x > 0 {
				v = x
			}
		}
		db.data[i] = alpha*v + beta*db.data[i]
	}
	return nil
}

func (r *CPURuntime) LRNForward(lrn LRNDesc, alpha float32, in TensorDesc, src Mem,
	beta float32, dst Mem) error {

	sb, err := r.block(src)
	if err != nil {
		return err
	}
	db, err := r.block(dst)
	if err != nil {
		return err
	}

	half := lrn.LocalSize / 2
	spatial := in.H * in.W
	for n := 0; n < in.N; n++ {
		for c := 0; c < in.C; c++ {
			lo := c - half
			if lo < 0 {
				lo = 0
			}
			hi := c + half
			if hi >= in.C {
				hi = in.C - 1
			}
			for s := 0; s < spatial; s++ {
				var sq float32
				for cc := lo; cc <= hi; cc++ {
					v := sb.data[(n*in.C+cc)*spatial+s]
					sq += v * v
				}
				scale := lrn.K + lrn.Alpha/float32(lrn.LocalSize)*sq
				i := (n*in.C+c)*spatial + s
				v := sb.data[i] / float32(math.Pow(float64(scale), float64(lrn.Beta)))
				db.data[i] = alpha*v + beta*db.data[i]
			}
		}
	}
	return nil
}

// FullyConnectedForward treats the input as (N, C*H*W) and the weights as
// (units, C*H*W) row major, producing (N, units).
func (r *CPURuntime) FullyConnectedForward(alpha float32, in TensorDesc, src Mem, weights Mem, units int,
	beta float32, dst Mem) error {

	sb, err := r.block(src)
	if err != nil {
		return err
	}
	wb, err := r.block(weights)
	if err != nil {
		return err
	}
	db, err := r.block(dst)
	if err != nil {
		return err
	}

	k := in.C * in.H * in.W
	inMat := blas32.General{Rows: in.N, Cols: k, Stride: k, Data: sb.data}
	wMat := blas32.General{Rows: units, Cols: k, Stride: k, Data: wb.data}
	dstMat := blas32.General{Rows: in.N, Cols: units, Stride: units, Data: db.data}
	blas32.Gemm(blas.NoTrans, blas.Trans, alpha, inMat, wMat, beta, dstMat)
	return nil
}

// SoftmaxForward normalizes across channels for each (n, h, w) position.
func (r *CPURuntime) SoftmaxForward(alpha float32, in TensorDesc, src Mem,
	beta float32, dst Mem) error {

	sb, err := r.block(src)
	if err != nil {
		return err
	}
	db, err := r.block(dst)
	if err != nil {
		return err
	}

	spatial := in.H * in.W
	for n := 0; n < in.N; n++ {
		for s := 0; s < spatial; s++ {
			maxV := float32(math.Inf(-1))
			for c := 0; c < in.C; c++ {
				if v := sb.data[(n*in.C+c)*spatial+s]; v > maxV {
					maxV = v
				}
			}
			var denom float64
			for c := 0; c < in.C; c++ {
				denom += math.Exp(float64(sb.data[(n*in.C+c)*spatial+s] - maxV))
			}
			for c := 0; c < in.C; c++ {
				i := (n*in.C+c)*spatial + s
				v := float32(math.Exp(float64(sb.data[i]-maxV)) / denom)
				db.data[i] = alpha*v + beta*db.data[i]
			}
		}
	}
	return nil
}
