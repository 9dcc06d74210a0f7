// Package onnx wraps onnxruntime sessions for the small single-input,
// single-output models the pipeline runs on-device (keyword spotter and
// speaker embedder).
//
// The onnxruntime environment is process-global. Load initializes it on first
// use and the last Close tears it down, so callers never touch it directly.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// ErrShape is returned by Run when the input length does not match the
// requested shape.
var ErrShape = errors.New("onnx: input length does not match shape")

// Option configures Load.
type Option func(*options)

type options struct {
	libraryPath string
	intraOp     int
	interOp     int
}

// WithLibraryPath sets the onnxruntime shared library location. Only the
// first Load in a process can set it.
func WithLibraryPath(path string) Option {
	return func(o *options) { o.libraryPath = path }
}

// WithThreads sets the intra- and inter-op thread counts. Both default to 1.
func WithThreads(intra, inter int) Option {
	return func(o *options) {
		o.intraOp = intra
		o.interOp = inter
	}
}

// Model is a loaded onnxruntime session. Run is serialized; onnxruntime
// sessions are thread-safe but the models are tiny and the device has few
// cores.
type Model struct {
	path       string
	inputName  string
	outputName string
	inputDims  []int64

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	closed  bool
}

// Load opens the model at path. The model must have exactly one input and
// at least one output; the first output is returned by Run.
func Load(path string, opts ...Option) (*Model, error) {
	if path == "" {
		return nil, errors.New("onnx: model path must not be empty")
	}
	o := options{intraOp: 1, interOp: 1}
	for _, opt := range opts {
		opt(&o)
	}

	if err := acquireEnv(o.libraryPath); err != nil {
		return nil, err
	}
	m, err := load(path, o)
	if err != nil {
		releaseEnv()
		return nil, err
	}
	return m, nil
}

func load(path string, o options) (*Model, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: inspect %q: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: %q: want 1 input and >=1 output, got %d/%d", path, len(inputs), len(outputs))
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer so.Destroy()
	if err := so.SetIntraOpNumThreads(o.intraOp); err != nil {
		return nil, fmt.Errorf("onnx: intra-op threads: %w", err)
	}
	if err := so.SetInterOpNumThreads(o.interOp); err != nil {
		return nil, fmt.Errorf("onnx: inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, so)
	if err != nil {
		return nil, fmt.Errorf("onnx: open %q: %w", path, err)
	}
	return &Model{
		path:       path,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		inputDims:  append([]int64(nil), inputs[0].Dimensions...),
		session:    session,
	}, nil
}

// Path returns the model file path.
func (m *Model) Path() string { return m.path }

// InputShape returns the declared input dimensions. Dynamic axes are
// reported as -1 (or 0 for some exporters).
func (m *Model) InputShape() []int64 {
	return append([]int64(nil), m.inputDims...)
}

// Run feeds data with the given shape and returns the flattened first output
// together with its shape. onnxruntime cannot be interrupted, so ctx is only
// checked before the call.
func (m *Model) Run(ctx context.Context, data []float32, shape ...int64) ([]float32, []int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if n != int64(len(data)) {
		return nil, nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, errors.New("onnx: model closed")
	}

	in, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, nil, fmt.Errorf("onnx: run %s: %w", m.path, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("onnx: %s: output %q is not a float32 tensor", m.path, m.outputName)
	}
	return append([]float32(nil), out.GetData()...), append([]int64(nil), out.GetShape()...), nil
}

// Close destroys the session and releases the shared environment.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.session.Destroy()
	releaseEnv()
	return err
}

func acquireEnv(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}
