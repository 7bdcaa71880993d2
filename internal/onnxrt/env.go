// Package onnxrt owns the process-wide onnxruntime environment shared by
// ONNX ranking models and embedders.
package onnxrt

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	mu      sync.Mutex
	refs    int
	libPath string
)

// Acquire initializes the environment on first use and takes a reference.
// Every successful Acquire must be paired with Release.
func Acquire(sharedLibraryPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if refs > 0 {
		if sharedLibraryPath != "" && libPath != "" && sharedLibraryPath != libPath {
			return fmt.Errorf("onnxruntime already initialized from %s", libPath)
		}
		refs++
		return nil
	}

	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	libPath = sharedLibraryPath
	refs = 1
	return nil
}

// Release drops a reference and tears the environment down with the last one.
func Release() error {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		return nil
	}
	refs--
	if refs > 0 {
		return nil
	}
	libPath = ""
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("destroy onnxruntime: %w", err)
	}
	return nil
}

// IONames returns the first input and output names declared by a model file.
func IONames(modelPath string) (string, string, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", "", fmt.Errorf("inspect %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("model %s declares no inputs or outputs", modelPath)
	}
	return inputs[0].Name, outputs[0].Name, nil
}

// OutputWidth returns the last dimension of the first declared output, or 0
// when the model leaves it dynamic.
func OutputWidth(modelPath string) (int, error) {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", modelPath, err)
	}
	if len(outputs) == 0 {
		return 0, fmt.Errorf("model %s declares no outputs", modelPath)
	}
	dims := outputs[0].Dimensions
	if len(dims) == 0 || dims[len(dims)-1] <= 0 {
		return 0, nil
	}
	return int(dims[len(dims)-1]), nil
}
