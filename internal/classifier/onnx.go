package classifier

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/fishid/internal/preprocess"
)

// ONNXModel runs the pretrained species network through ONNX Runtime. The
// session and its tensors are allocated once and reused, so concurrent runs
// are serialized internally.
type ONNXModel struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadONNXModel initializes the ONNX environment and loads the model at
// modelPath. The input shape is 1×3×224×224 and the output is one score per
// vocabulary label.
func LoadONNXModel(modelPath string) (*ONNXModel, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: initialize environment: %v", ErrModelUnavailable, err)
	}

	inputShape := ort.NewShape(1, preprocess.Channels, preprocess.TargetSize, preprocess.TargetSize)
	outputShape := ort.NewShape(1, int64(len(Vocabulary)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: create input tensor: %v", ErrModelUnavailable, err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: create output tensor: %v", ErrModelUnavailable, err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: create session: %v", ErrModelUnavailable, err)
	}

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Run copies input into the session's input tensor, executes the network, and
// returns a copy of the output vector.
func (m *ONNXModel) Run(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(data), len(input))
	}
	copy(data, input)

	if err := m.session.Run(); err != nil {
		return nil, err
	}

	out := m.outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// Close destroys the session, tensors, and the ONNX environment.
func (m *ONNXModel) Close() error {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
