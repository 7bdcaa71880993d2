package ranking

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/onnxrt"
)

// ONNX runs a serialized regressor (float32 input [N, features], output [N, 1]).
type ONNX struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	width   int
	closed  bool
}

// LoadONNX opens an ONNX model. Input and output names default to the
// first ones the model declares.
func LoadONNX(path string, opts Options) (*ONNX, error) {
	if err := onnxrt.Acquire(opts.SharedLibraryPath); err != nil {
		return nil, domain.Configf("ranking.onnxruntime_path", "%v", err)
	}

	in, out := opts.InputName, opts.OutputName
	if in == "" || out == "" {
		declIn, declOut, err := onnxrt.IONames(path)
		if err != nil {
			_ = onnxrt.Release()
			return nil, fmt.Errorf("load onnx model: %w", err)
		}
		if in == "" {
			in = declIn
		}
		if out == "" {
			out = declOut
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{in}, []string{out}, nil)
	if err != nil {
		_ = onnxrt.Release()
		return nil, fmt.Errorf("create onnx session for %s: %w", path, err)
	}
	return &ONNX{session: session, width: feature.NumColumns}, nil
}

// Predict runs one inference over all rows. Sessions are not reentrant, so
// concurrent calls are serialized.
func (m *ONNX) Predict(rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return []float64{}, nil
	}
	if err := checkWidth(rows, m.width); err != nil {
		return nil, err
	}

	data := make([]float32, 0, len(rows)*m.width)
	for _, r := range rows {
		for _, v := range r {
			data = append(data, float32(v))
		}
	}
	n := int64(len(rows))

	input, err := ort.NewTensor(ort.NewShape(n, int64(m.width)), data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 1))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("onnx model is closed")
	}
	err = m.session.Run([]ort.Value{input}, []ort.Value{output})
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}

	raw := output.GetData()
	scores := make([]float64, len(rows))
	for i := range scores {
		scores[i] = float64(raw[i])
	}
	return scores, nil
}

// NumFeatures returns the input width.
func (m *ONNX) NumFeatures() int { return m.width }

// Close destroys the session and releases the runtime reference.
func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.session.Destroy(); err != nil {
		_ = onnxrt.Release()
		return fmt.Errorf("destroy onnx session: %w", err)
	}
	return onnxrt.Release()
}
