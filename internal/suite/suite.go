// Package suite loads benchmark workload definitions and builds the
// operations they describe against a shared execution context and buffer
// registry. Files decode as JSON, or CBOR for a .cbor extension.
package suite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-whetstone/internal/device"
	"github.com/23skdu/longbow-whetstone/internal/ops"
)

// ShapeSpec is a 4-D input extent in a workload file.
type ShapeSpec struct {
	N int `json:"n"`
	C int `json:"c"`
	H int `json:"h"`
	W int `json:"w"`
}

// ConvSpec holds square-kernel convolution parameters.
type ConvSpec struct {
	OutputChannels int    `json:"output_channels"`
	Kernel         int    `json:"kernel"`
	Pad            int    `json:"pad"`
	Stride         int    `json:"stride"`
	Preference     string `json:"preference,omitempty"` // fastest | no-workspace
}

// PoolSpec holds square-window pooling parameters.
type PoolSpec struct {
	Mode   string `json:"mode,omitempty"` // max | avg
	Window int    `json:"window"`
	Pad    int    `json:"pad"`
	Stride int    `json:"stride"`
}

// ActivationSpec selects the elementwise activation function.
type ActivationSpec struct {
	Mode string `json:"mode,omitempty"` // relu | sigmoid | tanh
}

// LRNSpec holds local response normalization parameters.
type LRNSpec struct {
	LocalSize int     `json:"local_size"`
	Alpha     float32 `json:"alpha"`
	Beta      float32 `json:"beta"`
	K         float32 `json:"k"`
}

// FCSpec holds fully-connected parameters.
type FCSpec struct {
	OutputUnits int `json:"output_units"`
}

// OpSpec describes one benchmarked operation. Exactly one of Input
// (standalone) or From (composed, naming an earlier op in the suite) must
// be set, and the parameter block matching Kind.
type OpSpec struct {
	Kind      string     `json:"kind"`
	Name      string     `json:"name"`
	Input     *ShapeSpec `json:"input,omitempty"`
	From      string     `json:"from,omitempty"`
	NumInputs int        `json:"num_inputs,omitempty"`

	Conv       *ConvSpec       `json:"conv,omitempty"`
	Pool       *PoolSpec       `json:"pool,omitempty"`
	Activation *ActivationSpec `json:"activation,omitempty"`
	LRN        *LRNSpec        `json:"lrn,omitempty"`
	FC         *FCSpec         `json:"fc,omitempty"`
}

// Suite is one workload file: a named list of operations benchmarked in
// order, so composed ops always follow their producer.
type Suite struct {
	Name string   `json:"name"`
	Ops  []OpSpec `json:"ops"`
}

// Load reads a suite from path, decoding CBOR for .cbor files and JSON
// otherwise.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Suite
	if filepath.Ext(path) == ".cbor" {
		if err := cbor.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode suite %s (CBOR): %w", path, err)
		}
	} else {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode suite %s (JSON): %w", path, err)
		}
	}
	if len(s.Ops) == 0 {
		return nil, fmt.Errorf("suite %s defines no operations", path)
	}
	return &s, nil
}

// Default is the built-in smoke suite covering every operation kind,
// including one composed chain.
func Default() *Suite {
	return &Suite{
		Name: "default",
		Ops: []OpSpec{
			{Kind: "convolution", Name: "conv1", Input: &ShapeSpec{N: 2, C: 3, H: 32, W: 32},
				Conv: &ConvSpec{OutputChannels: 16, Kernel: 3, Pad: 1, Stride: 1}},
			{Kind: "activation", Name: "relu1", From: "conv1",
				Activation: &ActivationSpec{Mode: "relu"}},
			{Kind: "pooling", Name: "pool1", From: "relu1",
				Pool: &PoolSpec{Mode: "max", Window: 2, Stride: 2}},
			{Kind: "normalization", Name: "lrn1", Input: &ShapeSpec{N: 2, C: 16, H: 16, W: 16},
				LRN: &LRNSpec{LocalSize: 5, Alpha: 1e-4, Beta: 0.75, K: 2}},
			{Kind: "fully_connected", Name: "fc1", Input: &ShapeSpec{N: 2, C: 16, H: 16, W: 16},
				FC: &FCSpec{OutputUnits: 10}},
			{Kind: "softmax", Name: "softmax1", Input: &ShapeSpec{N: 2, C: 10, H: 1, W: 1}},
		},
	}
}

// Build constructs the suite's operations in file order. Composed specs are
// wired to the named producer, which must appear earlier in the suite.
// Setup is left to the caller so setup cost stays attributable.
func (s *Suite) Build(ctx *device.Context, reg *device.Registry) ([]ops.Operation, error) {
	built := make([]ops.Operation, 0, len(s.Ops))
	byName := make(map[string]ops.Operation, len(s.Ops))

	for i, spec := range s.Ops {
		if spec.Name == "" {
			return nil, fmt.Errorf("op %d: missing name", i)
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, fmt.Errorf("op %q: duplicate name", spec.Name)
		}

		src, err := spec.inputSource(byName)
		if err != nil {
			return nil, err
		}

		op, err := spec.build(ctx, reg, i, src)
		if err != nil {
			return nil, err
		}
		built = append(built, op)
		byName[spec.Name] = op
	}
	return built, nil
}

func (o *OpSpec) inputSource(byName map[string]ops.Operation) (ops.InputSource, error) {
	switch {
	case o.From != "" && o.Input != nil:
		return ops.InputSource{}, fmt.Errorf("op %q: both input shape and from set", o.Name)
	case o.From != "":
		up, ok := byName[o.From]
		if !ok {
			return ops.InputSource{}, fmt.Errorf("op %q: unknown predecessor %q", o.Name, o.From)
		}
		return ops.ComposedFrom(up), nil
	case o.Input != nil:
		return ops.StandaloneInput(ops.Shape{N: o.Input.N, C: o.Input.C, H: o.Input.H, W: o.Input.W}), nil
	default:
		return ops.InputSource{}, fmt.Errorf("op %q: neither input shape nor from set", o.Name)
	}
}

func (o *OpSpec) build(ctx *device.Context, reg *device.Registry, id int, src ops.InputSource) (ops.Operation, error) {
	var op ops.Operation

	switch o.Kind {
	case "convolution":
		if o.Conv == nil {
			return nil, fmt.Errorf("op %q: missing conv parameters", o.Name)
		}
		pref, err := parsePreference(o.Conv.Preference)
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", o.Name, err)
		}
		op = ops.NewConvolution(ctx, reg, id, o.Name, src, ops.ConvParams{
			OutputChannels: o.Conv.OutputChannels,
			KernelH:        o.Conv.Kernel, KernelW: o.Conv.Kernel,
			PadH: o.Conv.Pad, PadW: o.Conv.Pad,
			StrideH: o.Conv.Stride, StrideW: o.Conv.Stride,
			Preference: pref,
		})

	case "pooling":
		if o.Pool == nil {
			return nil, fmt.Errorf("op %q: missing pool parameters", o.Name)
		}
		mode, err := parsePoolMode(o.Pool.Mode)
		if err != nil {
			return nil, fmt.Errorf("op %q: %w", o.Name, err)
		}
		stride := o.Pool.Stride
		if stride == 0 {
			stride = o.Pool.Window
		}
		op = ops.NewPooling(ctx, reg, id, o.Name, src, ops.PoolParams{
			Mode:    mode,
			WindowH: o.Pool.Window, WindowW: o.Pool.Window,
			PadH: o.Pool.Pad, PadW: o.Pool.Pad,
			StrideH: stride, StrideW: stride,
		})

	case "activation":
		mode := device.ActReLU
		if o.Activation != nil {
			var err error
			if mode, err = parseActivationMode(o.Activation.Mode); err != nil {
				return nil, fmt.Errorf("op %q: %w", o.Name, err)
			}
		}
		op = ops.NewActivation(ctx, reg, id, o.Name, src, mode)

	case "normalization":
		if o.LRN == nil {
			return nil, fmt.Errorf("op %q: missing lrn parameters", o.Name)
		}
		op = ops.NewNormalization(ctx, reg, id, o.Name, src, ops.LRNParams{
			LocalSize: o.LRN.LocalSize,
			Alpha:     o.LRN.Alpha,
			Beta:      o.LRN.Beta,
			K:         o.LRN.K,
		})

	case "fully_connected":
		if o.FC == nil {
			return nil, fmt.Errorf("op %q: missing fc parameters", o.Name)
		}
		op = ops.NewFullyConnected(ctx, reg, id, o.Name, src, ops.FCParams{
			OutputUnits: o.FC.OutputUnits,
		})

	case "softmax":
		op = ops.NewSoftmax(ctx, reg, id, o.Name, src)

	default:
		return nil, fmt.Errorf("op %q: unknown kind %q", o.Name, o.Kind)
	}

	if o.NumInputs > 0 {
		type numInputsSetter interface{ SetNumInputs(int) }
		if s, ok := op.(numInputsSetter); ok {
			s.SetNumInputs(o.NumInputs)
		}
	}
	return op, nil
}

func parsePreference(s string) (device.AlgoPreference, error) {
	switch s {
	case "", "fastest":
		return device.PreferFastest, nil
	case "no-workspace":
		return device.PreferNoWorkspace, nil
	default:
		return 0, fmt.Errorf("unknown algorithm preference %q", s)
	}
}

func parsePoolMode(s string) (device.PoolMode, error) {
	switch s {
	case "", "max":
		return device.MaxPool, nil
	case "avg":
		return device.AvgPool, nil
	default:
		return 0, fmt.Errorf("unknown pool mode %q", s)
	}
}

func parseActivationMode(s string) (device.ActivationMode, error) {
	switch s {
	case "", "relu":
		return device.ActReLU, nil
	case "sigmoid":
		return device.ActSigmoid, nil
	case "tanh":
		return device.ActTanh, nil
	default:
		return 0, fmt.Errorf("unknown activation mode %q", s)
	}
}
